package md2cmds

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/md2ctl/md2d/internal/motor"
	"github.com/md2ctl/md2d/internal/orchestrate"
)

// DefaultMoveEstimate is used wherever a move's true trapezoidal estimate
// isn't computed from per-axis velocity/acceleration presets.
const DefaultMoveEstimate = 5 * time.Second

func (e *Executor) registerAlways() {
	e.always["abort"] = cmdAbort
	e.always["changeMode"] = cmdChangeMode
	e.always["moveAbs"] = cmdMoveAbs
	e.always["moveRel"] = cmdMoveRel
	e.always["run"] = cmdRun
	e.always["set"] = cmdSet
	e.always["setbackvector"] = cmdSetBackVector
}

func (e *Executor) motor(name string) (*motor.Motor, error) {
	m, ok := e.Motors[name]
	if !ok {
		return nil, fmt.Errorf("md2cmds: unknown motor %q", name)
	}
	return m, nil
}

func (e *Executor) waiterFor(m *motor.Motor) *orchestrate.MoveWaiter {
	return e.Waiters[m.CS]
}

// resolveTarget parses text as a number, falling back to a named preset
// lookup on m.
func (e *Executor) resolveTarget(m *motor.Motor, text string) (float64, error) {
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return v, nil
	}
	return e.KV.FindPreset(m.Name, text)
}

func cmdAbort(ctx context.Context, e *Executor, _ []string) error {
	if e.ShutterControl != nil {
		if err := e.ShutterControl.Set(ctx, false); err != nil {
			return err
		}
	}
	if err := orchestrate.Abort(ctx, e.Link, e.ShutterControl); err != nil {
		return err
	}
	deadline := time.Now().Add(10 * time.Second)
	for _, w := range e.Waiters {
		_ = w.Wait(ctx, deadline) // best-effort: abort was already issued
	}
	return nil
}

// phaseRecipes maps a changeMode target to the preset each motor should move
// to ("changeMode <mode>" dispatches to a fixed recipe per phase).
var phaseRecipes = map[string]map[string]string{
	"manualMount":   {"capz": "Cover", "scint": "Cover"},
	"robotMount":    {"capz": "Cover", "scint": "Cover"},
	"center":        {"capz": "Cover", "scint": "Beam"},
	"dataCollection": {"capz": "Park", "scint": "Beam"},
	"beamLocation":  {"capz": "Park", "scint": "Park"},
	"safe":          {"capz": "Cover", "scint": "Cover"},
}

func cmdChangeMode(ctx context.Context, e *Executor, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("md2cmds: changeMode requires a mode")
	}
	mode := args[0]
	recipe, ok := phaseRecipes[mode]
	if !ok {
		e.KV.SetStr("phase", "unknown")
		return fmt.Errorf("md2cmds: unknown mode %q", mode)
	}

	for name, preset := range recipe {
		if err := e.checkpoint(ctx); err != nil {
			e.KV.SetStr("phase", "unknown")
			return err
		}
		m, err := e.motor(name)
		if err != nil {
			continue // phase recipes may reference axes this deployment doesn't have
		}
		target, err := e.resolveTarget(m, preset)
		if err != nil {
			e.KV.SetStr("phase", "unknown")
			return err
		}
		if err := orchestrate.MoveAbs(ctx, e.Link, m, e.waiterFor(m), target, DefaultMoveEstimate); err != nil {
			e.KV.SetStr("phase", "unknown")
			return err
		}
	}
	return e.KV.SetStr("phase", mode)
}

func cmdMoveAbs(ctx context.Context, e *Executor, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("md2cmds: moveAbs requires <motor> <target|preset>")
	}
	m, err := e.motor(args[0])
	if err != nil {
		return err
	}
	target, err := e.resolveTarget(m, args[1])
	if err != nil {
		return err
	}
	return orchestrate.MoveAbs(ctx, e.Link, m, e.waiterFor(m), target, DefaultMoveEstimate)
}

func cmdMoveRel(ctx context.Context, e *Executor, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("md2cmds: moveRel requires <motor> <delta>")
	}
	m, err := e.motor(args[0])
	if err != nil {
		return err
	}
	delta, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("md2cmds: moveRel delta: %w", err)
	}
	return orchestrate.MoveRel(ctx, e.Link, m, e.waiterFor(m), delta, DefaultMoveEstimate)
}

func cmdRun(ctx context.Context, e *Executor, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("md2cmds: run requires <motor> <home|stop|spin>")
	}
	m, err := e.motor(args[0])
	if err != nil {
		return err
	}
	switch args[1] {
	case "home":
		return orchestrate.Home(ctx, e.Link, m, e.waiterFor(m), 60*time.Second)
	case "stop":
		return orchestrate.JogStop(ctx, e.Link, m)
	case "spin":
		return orchestrate.Jog(ctx, e.Link, m, true)
	default:
		return fmt.Errorf("md2cmds: run: unknown primitive %q", args[1])
	}
}

func cmdSet(ctx context.Context, e *Executor, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("md2cmds: set requires <motor> <preset>")
	}
	m, err := e.motor(args[0])
	if err != nil {
		return err
	}
	return e.KV.SetPreset(m.Name, args[1], m.Position())
}

func cmdSetBackVector(ctx context.Context, e *Executor, _ []string) error {
	for _, name := range []string{"align_x", "align_y", "align_z"} {
		m, err := e.motor(name)
		if err != nil {
			continue
		}
		beam, err := e.KV.FindPreset(m.Name, "Beam")
		if err != nil {
			return fmt.Errorf("md2cmds: setbackvector: %s has no Beam preset: %w", name, err)
		}
		current := m.Position()
		if err := e.KV.SetPreset(m.Name, "Back_Vector", current-beam); err != nil {
			return err
		}
		if err := e.KV.SetPreset(m.Name, "Back", current); err != nil {
			return err
		}
	}
	return nil
}
