package md2cmds

import (
	"context"
	"time"

	"github.com/md2ctl/md2d/internal/motor"
	"github.com/md2ctl/md2d/internal/orchestrate"
)

// moveScintillatorInterlocked drives the scintillator in or out of the beam
// path, nudging the alignment stage out of the way first when the
// scintillator is retracting, and returning it afterward when the
// scintillator is inserting.
func (e *Executor) moveScintillatorInterlocked(ctx context.Context, scint, align *motor.Motor, target float64, estimate time.Duration, outOfBeam bool) error {
	scintWaiter := e.Waiters[scint.CS]
	alignWaiter := e.Waiters[align.CS]

	if outOfBeam {
		if err := e.checkpoint(ctx); err != nil {
			return err
		}
		if backPos, err := e.KV.FindPreset(align.Name, "Back"); err == nil {
			if err := orchestrate.MoveAbs(ctx, e.Link, align, alignWaiter, backPos, estimate); err != nil {
				return err
			}
		}
	}

	if err := orchestrate.MoveAbs(ctx, e.Link, scint, scintWaiter, target, estimate); err != nil {
		return err
	}

	if !outOfBeam {
		if beamPos, err := e.KV.FindPreset(align.Name, "Beam"); err == nil {
			return orchestrate.MoveAbs(ctx, e.Link, align, alignWaiter, beamPos, estimate)
		}
	}
	return nil
}
