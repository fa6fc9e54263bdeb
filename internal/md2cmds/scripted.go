package md2cmds

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/md2ctl/md2d/internal/monitoring"
	"github.com/md2ctl/md2d/internal/motor"
	"github.com/md2ctl/md2d/internal/orchestrate"
)

func (e *Executor) registerGateway() {
	e.gateway["settransferpoint"] = cmdSetTransferPoint
	e.gateway["transfer"] = cmdTransfer
	e.gateway["collect"] = cmdCollect
	e.gateway["rotate"] = cmdRotate
	e.gateway["nonrotate"] = cmdNonRotate
}

// cmdSetTransferPoint homes kappa, then omega, then phi, and stores the
// current five-axis position via the DB.
func cmdSetTransferPoint(ctx context.Context, e *Executor, _ []string) error {
	for _, name := range []string{"kappa", "omega", "phi"} {
		m, err := e.motor(name)
		if err != nil {
			continue
		}
		if err := orchestrate.Home(ctx, e.Link, m, e.waiterFor(m), 60*time.Second); err != nil {
			return fmt.Errorf("md2cmds: settransferpoint: home %s: %w", name, err)
		}
	}

	positions := make([]float64, 5)
	for i, name := range []string{"align_x", "align_y", "align_z", "cen_x", "cen_y"} {
		m, err := e.motor(name)
		if err != nil {
			return fmt.Errorf("md2cmds: settransferpoint: %s not configured", name)
		}
		positions[i] = m.Position()
	}
	return e.SQL.SetTransferPoint(time.Now().Add(10*time.Second), positions[0], positions[1], positions[2], positions[3], positions[4])
}

// axisMoveTime estimates how long m will take to reach target, using its
// configured MaxVelocity/MaxAccel in place of a hard-coded constant
// (Motor.Policy's zero value degenerates to a zero estimate, which
// MoveAbs's MoveTimeMargin still covers).
func axisMoveTime(m *motor.Motor, target float64) time.Duration {
	policy := m.Policy()
	return orchestrate.MoveTime(target-m.Position(), policy.MaxVelocity, policy.MaxAccel)
}

// estimateCoordinatedMove resolves each (motor name -> preset) pair against
// e's motors and presets and returns the longest of their per-axis
// trapezoidal move-time estimates: a coordinated move across several axes
// completes when its slowest one does.
func (e *Executor) estimateCoordinatedMove(targets map[string]string) time.Duration {
	var times []time.Duration
	for name, preset := range targets {
		m, err := e.motor(name)
		if err != nil {
			continue
		}
		target, err := e.resolveTarget(m, preset)
		if err != nil {
			continue
		}
		times = append(times, axisMoveTime(m, target))
	}
	return orchestrate.CoordinatedMoveTime(times)
}

// horzVertFromCenter converts a (cx, cy) centering offset plus the reference
// omega angle into the (horz, vert) coordinates the transfer robot expects.
func horzVertFromCenter(cx, cy, refOmegaDeg float64) (horz, vert float64) {
	theta := refOmegaDeg * math.Pi / 180
	horz = cx*math.Cos(theta) - cy*math.Sin(theta)
	vert = cx*math.Sin(theta) + cy*math.Cos(theta)
	return horz, vert
}

// cmdTransfer runs the sample-exchange choreography.
func cmdTransfer(ctx context.Context, e *Executor, _ []string) error {
	deadline := time.Now().Add(30 * time.Second)

	sample, ok, err := e.SQL.NextSample(time.Now().Add(5 * time.Second))
	if err != nil {
		return fmt.Errorf("md2cmds: transfer: nextsample: %w", err)
	}
	if !ok {
		e.Bus.Send("Transfer Aborted")
		return fmt.Errorf("md2cmds: transfer: no sample queued")
	}

	for _, m := range e.Motors {
		if !m.Status().InPosition {
			if err := e.waiterFor(m).Wait(ctx, deadline); err != nil {
				e.Bus.Send("Transfer Aborted")
				return fmt.Errorf("md2cmds: transfer: waiting for motion to finish: %w", err)
			}
		}
	}

	cenX, errX := e.motor("cen_x")
	cenY, errY := e.motor("cen_y")
	omega, errOmega := e.motor("omega")
	var horz, vert float64
	if errX == nil && errY == nil && errOmega == nil {
		horz, vert = horzVertFromCenter(cenX.Position(), cenY.Position(), omega.Position())
	}

	prepTargets := map[string]string{"capz": "Cover", "scint": "Cover", "backlight": "Retract", "cryo": "Retract", "fluorescence": "Retract"}
	estimate := e.estimateCoordinatedMove(prepTargets)
	type result struct{ err error }
	results := make(chan result, 3)

	go func() {
		mounted, ok, startErr := e.SQL.StartTransfer(deadline.Add(estimate), sample, true, 0, 0, 0, horz, vert, estimate.Seconds())
		if startErr != nil {
			results <- result{startErr}
			return
		}
		if !ok || mounted == "" {
			results <- result{fmt.Errorf("md2cmds: transfer: starttransfer reported no mounted sample")}
			return
		}
		results <- result{nil}
	}()

	go func() {
		var homeErr error
		for _, name := range []string{"kappa", "omega"} {
			m, err := e.motor(name)
			if err != nil {
				continue
			}
			if err := orchestrate.Home(ctx, e.Link, m, e.waiterFor(m), 60*time.Second); err != nil {
				homeErr = err
			}
		}
		results <- result{homeErr}
	}()

	go func() {
		var moveErr error
		for name, preset := range prepTargets {
			m, err := e.motor(name)
			if err != nil {
				continue
			}
			target, err := e.resolveTarget(m, preset)
			if err != nil {
				continue
			}
			if err := orchestrate.MoveAbs(ctx, e.Link, m, e.waiterFor(m), target, estimate); err != nil {
				moveErr = err
			}
		}
		results <- result{moveErr}
	}()

	for i := 0; i < 3; i++ {
		if r := <-results; r.err != nil {
			e.Bus.Send("Transfer Aborted")
			return fmt.Errorf("md2cmds: transfer: %w", r.err)
		}
	}

	if in, ok := e.Inputs["backlight_down"]; ok && !in.Value() {
		e.Bus.Send("Transfer Aborted")
		return fmt.Errorf("md2cmds: transfer: back-light not down")
	}
	if in, ok := e.Inputs["fluorescence_back"]; ok && !in.Value() {
		e.Bus.Send("Transfer Aborted")
		return fmt.Errorf("md2cmds: transfer: fluorescence detector not back")
	}

	if err := e.checkpoint(ctx); err != nil {
		e.Bus.Send("Transfer Aborted")
		return err
	}
	if err := e.SQL.WaitCryo(time.Now().Add(60 * time.Second)); err != nil {
		e.Bus.Send("Transfer Aborted")
		return fmt.Errorf("md2cmds: transfer: waitcryo: %w", err)
	}

	if cryo, err := e.motor("cryo"); err == nil {
		if target, err := e.resolveTarget(cryo, "Back"); err == nil {
			orchestrate.MoveAbs(ctx, e.Link, cryo, e.waiterFor(cryo), target, DefaultMoveEstimate)
		}
	}
	if err := e.SQL.DropAirRights(time.Now().Add(10 * time.Second)); err != nil {
		e.Bus.Send("Transfer Aborted")
		return fmt.Errorf("md2cmds: transfer: dropairrights: %w", err)
	}

	pollDeadline := time.Now().Add(60 * time.Second)
	for {
		if err := e.checkpoint(ctx); err != nil {
			e.Bus.Send("Transfer Aborted")
			return err
		}
		current, err := e.SQL.GetCurrentSampleID(time.Now().Add(5 * time.Second))
		if err == nil && current == sample {
			break
		}
		if time.Now().After(pollDeadline) {
			e.Bus.Send("Transfer Aborted")
			return fmt.Errorf("md2cmds: transfer: timed out waiting for sample mount confirmation")
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := e.SQL.DemandAirRights(time.Now().Add(10 * time.Second)); err != nil {
		e.Bus.Send("Transfer Aborted")
		return fmt.Errorf("md2cmds: transfer: demandairrights: %w", err)
	}
	if cryo, err := e.motor("cryo"); err == nil {
		if target, err := e.resolveTarget(cryo, "Operating"); err == nil {
			orchestrate.MoveAbs(ctx, e.Link, cryo, e.waiterFor(cryo), target, DefaultMoveEstimate)
		}
	}

	e.Bus.Send("Transfer Done")
	return nil
}

// exposureParams holds the motion-program register values for one shot.
type exposureParams struct {
	p170, p171, p173, p175, p180 float64
}

func computeExposureParams(u2c, start, neutral, width, maxAccel float64, expMillis int64) exposureParams {
	expSeconds := float64(expMillis) / 1000.0
	p173 := u2c * width / expSeconds
	return exposureParams{
		p170: u2c * (start + neutral),
		p171: u2c * width,
		p173: p173,
		p175: p173 / maxAccel,
		p180: float64(expMillis),
	}
}

func (p exposureParams) motionProgram() string {
	return fmt.Sprintf("&1 P170=%.4f P171=%.4f P173=%.4f P175=%.4f P180=%.4f M431=1 B131R",
		p.p170, p.p171, p.p173, p.p175, p.p180)
}

// cmdCollect runs the exposure loop.
func cmdCollect(ctx context.Context, e *Executor, _ []string) error {
	if err := e.KV.SetStr("collection.running", "True"); err != nil {
		return err
	}
	defer e.KV.SetStr("collection.running", "False")

	for {
		if err := e.checkpoint(ctx); err != nil {
			return e.abortCollect(ctx, "", err)
		}

		shot, noRows, err := e.SQL.NextShot(time.Now().Add(5 * time.Second))
		if err != nil {
			return e.abortCollect(ctx, "", err)
		}
		if noRows {
			return nil
		}

		if err := e.SQL.ShotsSetState(time.Now().Add(5*time.Second), shot.SKey, "Preparing"); err != nil {
			return e.abortCollect(ctx, shot.SKey, err)
		}

		if shot.CenterActive {
			if cenX, err := e.motor("cen_x"); err == nil {
				orchestrate.MoveAbs(ctx, e.Link, cenX, e.waiterFor(cenX), shot.CenterX, DefaultMoveEstimate)
			}
			if cenY, err := e.motor("cen_y"); err == nil {
				orchestrate.MoveAbs(ctx, e.Link, cenY, e.waiterFor(cenY), shot.CenterY, DefaultMoveEstimate)
			}
		}
		if shot.Kappa.Valid {
			if kappa, err := e.motor("kappa"); err == nil {
				orchestrate.MoveAbs(ctx, e.Link, kappa, e.waiterFor(kappa), shot.Kappa.Float64, DefaultMoveEstimate)
			}
		}
		if shot.Phi.Valid {
			if phi, err := e.motor("phi"); err == nil {
				orchestrate.MoveAbs(ctx, e.Link, phi, e.waiterFor(phi), shot.Phi.Float64, DefaultMoveEstimate)
			}
		}

		const u2cOmega = 1000.0  // counts per degree, omega axis
		const maxAccelDegS2 = 400.0
		params := computeExposureParams(u2cOmega, shot.StartAngle, 0, shot.Width, maxAccelDegS2, shot.ExposureMillis)

		if err := e.SQL.SeqRunPrep(time.Now().Add(5*time.Second), shot.SKey, nullFloatOrZero(shot.Kappa), nullFloatOrZero(shot.Phi), shot.CenterX, shot.CenterY, 0, 0, 0); err != nil {
			return e.abortCollect(ctx, shot.SKey, err)
		}

		if e.Shutter != nil {
			openDeadline := time.Now().Add(10 * time.Second)
			for e.Shutter.IsOpen() {
				if time.Now().After(openDeadline) {
					return e.abortCollect(ctx, shot.SKey, fmt.Errorf("shutter latch did not clear"))
				}
				time.Sleep(50 * time.Millisecond)
			}
		}

		if err := e.SQL.LockDetector(time.Now().Add(5 * time.Second)); err != nil {
			return e.abortCollect(ctx, shot.SKey, err)
		}
		e.SQL.UnlockDetector(time.Now().Add(5 * time.Second))

		if _, err := e.Link.SendLine(ctx, params.motionProgram()); err != nil {
			return e.abortCollect(ctx, shot.SKey, err)
		}

		if e.Shutter != nil {
			if err := e.Shutter.WaitOpenEdge(ctx, time.Now().Add(10*time.Second)); err != nil {
				e.KV.SetStr("statusReport", "Timed out waiting for shutter to open.")
				return e.abortCollect(ctx, shot.SKey, err)
			}
			expTimeout := time.Duration(4000+shot.ExposureMillis) * time.Millisecond
			if err := waitShutterClose(ctx, e.Shutter, time.Now().Add(expTimeout)); err != nil {
				return e.abortCollect(ctx, shot.SKey, err)
			}
		}

		e.SQL.UnlockDiffractometer(time.Now().Add(5 * time.Second))
		e.SQL.ShotsSetState(time.Now().Add(5*time.Second), shot.SKey, "Writing")

		if omega, err := e.motor("omega"); err == nil {
			e.waiterFor(omega).Wait(ctx, time.Now().Add(10*time.Second))
		}
	}
}

func nullFloatOrZero(v sql.NullFloat64) float64 {
	if v.Valid {
		return v.Float64
	}
	return 0
}

func waitShutterClose(ctx context.Context, shutter *motor.FastShutter, deadline time.Time) error {
	for shutter.IsOpen() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("md2cmds: timed out waiting for shutter to close")
		}
	}
	return nil
}

func (e *Executor) abortCollect(ctx context.Context, skey string, cause error) error {
	if skey != "" {
		e.SQL.ShotsSetState(time.Now().Add(5*time.Second), skey, "Error")
	}
	e.SQL.UnlockDiffractometer(time.Now().Add(5 * time.Second))
	if e.AbortRequested() {
		e.Bus.Send("Data Collection Aborted")
		return fmt.Errorf("md2cmds: collect: %w", ErrAborted)
	}
	e.Bus.Send("Data Collection Aborted")
	return fmt.Errorf("md2cmds: collect: %w", cause)
}

// cmdRotate and cmdNonRotate run the centering movie.
func cmdRotate(ctx context.Context, e *Executor, args []string) error { return runRotate(ctx, e, true) }

func cmdNonRotate(ctx context.Context, e *Executor, args []string) error {
	return runRotate(ctx, e, false)
}

func runRotate(ctx context.Context, e *Executor, spin bool) error {
	center, err := e.SQL.GetCenter(time.Now().Add(5 * time.Second))
	if err != nil {
		return fmt.Errorf("md2cmds: rotate: getcenter: %w", err)
	}

	if backlight, err := e.motor("backlight"); err == nil {
		if target, err := e.resolveTarget(backlight, "Up"); err == nil {
			orchestrate.MoveAbs(ctx, e.Link, backlight, e.waiterFor(backlight), target, DefaultMoveEstimate)
		}
	}
	omega, err := e.motor("omega")
	if err != nil {
		return fmt.Errorf("md2cmds: rotate: omega not configured")
	}
	if err := orchestrate.Home(ctx, e.Link, omega, e.waiterFor(omega), 60*time.Second); err != nil {
		return fmt.Errorf("md2cmds: rotate: home omega: %w", err)
	}

	targets := map[string]float64{}
	for _, name := range []string{"align_x", "align_y", "align_z"} {
		m, err := e.motor(name)
		if err != nil {
			continue
		}
		beam, ferr := e.KV.FindPreset(m.Name, "Beam")
		if ferr != nil {
			continue
		}
		backVector, _ := e.KV.FindPreset(m.Name, "Back_Vector")
		back := beam + backVector
		e.KV.SetPreset(m.Name, "Back", back)
		targets[name] = m.Position() + center.DeltaX
	}
	if cenX, err := e.motor("cen_x"); err == nil {
		targets["cen_x"] = cenX.Position() + center.DeltaX
	}
	if cenY, err := e.motor("cen_y"); err == nil {
		targets["cen_y"] = cenY.Position() + center.DeltaY
	}

	results := make(chan error, len(targets)+2)
	for name, target := range targets {
		m, err := e.motor(name)
		if err != nil {
			continue
		}
		estimate := axisMoveTime(m, target)
		go func(m *motor.Motor, target float64, estimate time.Duration) {
			results <- orchestrate.MoveAbs(ctx, e.Link, m, e.waiterFor(m), target, estimate)
		}(m, target, estimate)
	}
	if capz, err := e.motor("capz"); err == nil {
		if target, err := e.resolveTarget(capz, "Cover"); err == nil {
			estimate := axisMoveTime(capz, target)
			go func() { results <- orchestrate.MoveAbs(ctx, e.Link, capz, e.waiterFor(capz), target, estimate) }()
		} else {
			results <- nil
		}
	} else {
		results <- nil
	}
	if scint, align, serr := e.scintAndAlign(); serr == nil {
		target := scintCoverTarget(e, scint)
		estimate := axisMoveTime(scint, target)
		go func() {
			results <- e.moveScintillatorInterlocked(ctx, scint, align, target, estimate, true)
		}()
	} else {
		results <- nil
	}

	for i := 0; i < len(targets)+2; i++ {
		if err := <-results; err != nil {
			return fmt.Errorf("md2cmds: rotate: %w", err)
		}
	}

	if !spin {
		return nil
	}

	if err := e.checkpoint(ctx); err != nil {
		return err
	}
	omega.ArmZeroCross(func(ev motor.ZeroCrossEvent) {
		e.KV.SetStr("omega.zero_crossing.timestamp", ev.Timestamp.Format(time.RFC3339Nano))
		e.KV.SetStr("omega.zero_crossing.velocity", strconv.FormatFloat(ev.Velocity, 'f', -1, 64))
		zoom, _ := e.KV.GetLong("zoom")
		if err := e.SQL.TrigCam(ev.Timestamp.Add(5*time.Second), ev.Timestamp, int(zoom), ev.Position, ev.Velocity); err != nil {
			monitoring.Logf("md2cmds: rotate: trigcam: %v", err)
		}
		e.Bus.Send("omega.zero_crossing")
	})
	e.KV.SetStr("omega.zero_search", "1")
	_, err = e.Link.SendLine(ctx, "&2 P271=90 P272=360 B132R")
	return err
}

func (e *Executor) scintAndAlign() (*motor.Motor, *motor.Motor, error) {
	scint, err := e.motor("scint")
	if err != nil {
		return nil, nil, err
	}
	align, err := e.motor("align_x")
	if err != nil {
		return nil, nil, err
	}
	return scint, align, nil
}

func scintCoverTarget(e *Executor, scint *motor.Motor) float64 {
	target, err := e.resolveTarget(scint, "Cover")
	if err != nil {
		return scint.Position()
	}
	return target
}
