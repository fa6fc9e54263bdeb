package sqlgateway

import (
	"database/sql"
	"fmt"
	"time"
)

// Shot is one exposure row returned by nextshot().
type Shot struct {
	SKey            string
	CenterActive    bool
	CenterX, CenterY float64
	Kappa, Phi      sql.NullFloat64
	StartAngle      float64
	Width           float64
	ExposureMillis  int64
}

// Center is the output of getcenter().
type Center struct {
	DeltaX, DeltaY, DeltaZ float64
	Zoom                   int
}

// NextShot calls nextshot(); NoRows is true if the dataset is exhausted.
func (g *Gateway) NextShot(deadline time.Time) (*Shot, bool, error) {
	w := newWaiter()
	var shot Shot
	g.push(nil, nil, func(db *sql.DB) error {
		row := db.QueryRow(`SELECT skey, center_active, center_x, center_y, kappa, phi, start_angle, width, exposure_millis FROM nextshot()`)
		err := row.Scan(&shot.SKey, &shot.CenterActive, &shot.CenterX, &shot.CenterY, &shot.Kappa, &shot.Phi, &shot.StartAngle, &shot.Width, &shot.ExposureMillis)
		if err == sql.ErrNoRows {
			w.NoRows = true
			w.signal(nil)
			return nil
		}
		w.signal(err)
		return err
	})
	if err := w.wait(deadline); err != nil {
		return nil, false, err
	}
	if w.NoRows {
		return nil, true, nil
	}
	return &shot, false, w.Err
}

// NextSample calls nextsample(), returning the next mount candidate's id, or
// ok=false if there is none.
func (g *Gateway) NextSample(deadline time.Time) (sampleID string, ok bool, err error) {
	w := newWaiter()
	g.push(nil, nil, func(db *sql.DB) error {
		row := db.QueryRow(`SELECT sample_id FROM nextsample()`)
		scanErr := row.Scan(&sampleID)
		if scanErr == sql.ErrNoRows {
			w.NoRows = true
			w.signal(nil)
			return nil
		}
		w.signal(scanErr)
		return scanErr
	})
	if err = w.wait(deadline); err != nil {
		return "", false, err
	}
	return sampleID, !w.NoRows, w.Err
}

// StartTransfer calls starttransfer(...), returning the mounted sample id
// the robot reports, or ok=false if nothing was mounted.
func (g *Gateway) StartTransfer(deadline time.Time, sample string, detected bool, ax, ay, az, horz, vert, estMoveTime float64) (mounted string, ok bool, err error) {
	w := newWaiter()
	g.push(nil, nil, func(db *sql.DB) error {
		row := db.QueryRow(`SELECT mounted_sample_id FROM starttransfer($1,$2,$3,$4,$5,$6,$7,$8)`,
			sample, detected, ax, ay, az, horz, vert, estMoveTime)
		scanErr := row.Scan(&mounted)
		if scanErr == sql.ErrNoRows {
			w.NoRows = true
			w.signal(nil)
			return nil
		}
		w.signal(scanErr)
		return scanErr
	})
	if err = w.wait(deadline); err != nil {
		return "", false, err
	}
	return mounted, !w.NoRows, w.Err
}

// WaitCryo calls waitcryo() and blocks until the robot signals it is
// requesting air rights.
func (g *Gateway) WaitCryo(deadline time.Time) error {
	return g.simpleCall(deadline, `SELECT waitcryo()`)
}

// DropAirRights calls dropairrights().
func (g *Gateway) DropAirRights(deadline time.Time) error {
	return g.simpleCall(deadline, `SELECT dropairrights()`)
}

// DemandAirRights calls demandairrights().
func (g *Gateway) DemandAirRights(deadline time.Time) error {
	return g.simpleCall(deadline, `SELECT demandairrights()`)
}

// GetCurrentSampleID calls getcurrentsampleid(), used to poll until the
// mounted sample matches the requested one.
func (g *Gateway) GetCurrentSampleID(deadline time.Time) (string, error) {
	w := newWaiter()
	var id string
	g.push(nil, nil, func(db *sql.DB) error {
		err := db.QueryRow(`SELECT sample_id FROM getcurrentsampleid()`).Scan(&id)
		w.signal(err)
		return err
	})
	if err := w.wait(deadline); err != nil {
		return "", err
	}
	return id, w.Err
}

// GetCenter calls getcenter().
func (g *Gateway) GetCenter(deadline time.Time) (*Center, error) {
	w := newWaiter()
	var c Center
	g.push(nil, nil, func(db *sql.DB) error {
		err := db.QueryRow(`SELECT dx, dy, dz, zoom FROM getcenter()`).Scan(&c.DeltaX, &c.DeltaY, &c.DeltaZ, &c.Zoom)
		w.signal(err)
		return err
	})
	if err := w.wait(deadline); err != nil {
		return nil, err
	}
	return &c, w.Err
}

// LockDetector / UnlockDetector call lock_detector()/unlock_detector().
func (g *Gateway) LockDetector(deadline time.Time) error   { return g.simpleCall(deadline, `SELECT lock_detector()`) }
func (g *Gateway) UnlockDetector(deadline time.Time) error { return g.simpleCall(deadline, `SELECT unlock_detector()`) }

// LockDiffractometer / UnlockDiffractometer call
// lock_diffractometer()/unlock_diffractometer().
func (g *Gateway) LockDiffractometer(deadline time.Time) error {
	return g.simpleCall(deadline, `SELECT lock_diffractometer()`)
}
func (g *Gateway) UnlockDiffractometer(deadline time.Time) error {
	return g.simpleCall(deadline, `SELECT unlock_diffractometer()`)
}

// SeqRunPrep calls seq_run_prep(skey, kappa, phi, cx, cy, ax, ay, az).
func (g *Gateway) SeqRunPrep(deadline time.Time, skey string, kappa, phi, cx, cy, ax, ay, az float64) error {
	return g.simpleCall(deadline, `SELECT seq_run_prep($1,$2,$3,$4,$5,$6,$7,$8)`,
		skey, kappa, phi, cx, cy, ax, ay, az)
}

// ShotsSetState calls shots_set_state(skey, state) — e.g. "Preparing",
// "Writing", "Error".
func (g *Gateway) ShotsSetState(deadline time.Time, skey, state string) error {
	return g.simpleCall(deadline, `SELECT shots_set_state($1,$2)`, skey, state)
}

// ApplyCenter calls applycenter(...) with the resolved positions.
func (g *Gateway) ApplyCenter(deadline time.Time, skey string, cx, cy float64) error {
	return g.simpleCall(deadline, `SELECT applycenter($1,$2,$3)`, skey, cx, cy)
}

// RasterStep calls raster_step(jsonb) with one popped payload.
func (g *Gateway) RasterStep(deadline time.Time, payload string) error {
	return g.simpleCall(deadline, `SELECT raster_step($1::jsonb)`, payload)
}

// NextAction calls nextaction(), returning the action name to dispatch, or
// ok=false if none is pending.
func (g *Gateway) NextAction(deadline time.Time) (action string, ok bool, err error) {
	w := newWaiter()
	g.push(nil, nil, func(db *sql.DB) error {
		scanErr := db.QueryRow(`SELECT action FROM nextaction()`).Scan(&action)
		if scanErr == sql.ErrNoRows {
			w.NoRows = true
			w.signal(nil)
			return nil
		}
		w.signal(scanErr)
		return scanErr
	})
	if err = w.wait(deadline); err != nil {
		return "", false, err
	}
	return action, !w.NoRows, w.Err
}

// MD2QueueNext calls md2_queue_next(), draining one queued controller
// command enqueued by another client of the experiment database.
func (g *Gateway) MD2QueueNext(deadline time.Time) error {
	return g.simpleCall(deadline, `SELECT md2_queue_next()`)
}

// SetTransferPoint calls settransferpoint(ax, ay, az, cx, cy).
func (g *Gateway) SetTransferPoint(deadline time.Time, ax, ay, az, cx, cy float64) error {
	return g.simpleCall(deadline, `SELECT settransferpoint($1,$2,$3,$4,$5)`, ax, ay, az, cx, cy)
}

// TrigCam calls trigcam(timestamp, zoom, angle, velocity).
func (g *Gateway) TrigCam(deadline time.Time, ts time.Time, zoom int, angle, velocity float64) error {
	return g.simpleCall(deadline, `SELECT trigcam($1,$2,$3,$4)`, ts, zoom, angle, velocity)
}

// simpleCall is the shared call()/wait()/done() helper for stored functions
// with no result rows the caller needs back.
func (g *Gateway) simpleCall(deadline time.Time, query string, args ...interface{}) error {
	w := newWaiter()
	g.push(nil, nil, func(db *sql.DB) error {
		_, err := db.Exec(query, args...)
		w.signal(err)
		return err
	})
	if err := w.wait(deadline); err != nil {
		return fmt.Errorf("sqlgateway: %s: %w", query, err)
	}
	return w.Err
}
