// Package md2cmds is the high-level command executor: a
// single-slot, trylock-guarded mailbox dispatching scripted operations
// (phase changes, transfer, collect, rotate) that coordinate motors, the
// KV mirror, and the experiment database.
package md2cmds

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/md2ctl/md2d/internal/eventbus"
	"github.com/md2ctl/md2d/internal/kvmirror"
	"github.com/md2ctl/md2d/internal/monitoring"
	"github.com/md2ctl/md2d/internal/motor"
	"github.com/md2ctl/md2d/internal/orchestrate"
	"github.com/md2ctl/md2d/internal/pmaclink"
	"github.com/md2ctl/md2d/internal/sqlgateway"
)

// ErrBusy is returned by Submit when the mailbox is already occupied: a
// command whose execution finds the mailbox busy is dropped, not queued.
var ErrBusy = errors.New("md2cmds: mailbox busy")

// ErrUnknownCommand is returned for an unrecognized first word, or one whose
// handler is gateway-dependent and no gateway is wired up.
var ErrUnknownCommand = errors.New("md2cmds: unknown command")

// ErrAborted is returned from a handler when it observes abortRequested at
// an await boundary.
var ErrAborted = errors.New("md2cmds: abort requested")

// Handler runs one command's arguments against the executor's dependencies.
type Handler func(ctx context.Context, e *Executor, args []string) error

// Executor is the process-wide command executor. One instance owns the
// single-slot mailbox; Motors/Inputs/Waiters are looked up by the
// conventional MD2 axis names (e.g. "omega", "kappa", "capz", "scint").
type Executor struct {
	Link    *pmaclink.Link
	Bus     *eventbus.Bus
	KV      *kvmirror.Mirror
	SQL     *sqlgateway.Gateway // nil disables gateway-dependent commands

	Motors         map[string]*motor.Motor
	Inputs         map[string]*motor.BinaryInput
	Waiters        map[int]*orchestrate.MoveWaiter
	Shutter        *motor.FastShutter
	ShutterControl *motor.BinaryOutput

	mailbox sync.Mutex

	abortRequested int32
	cancelCurrent  context.CancelFunc
	cancelMu       sync.Mutex

	always  map[string]Handler
	gateway map[string]Handler
}

// New creates an Executor and registers its dispatch table. sql may be nil;
// gateway-dependent commands (transfer, collect, rotate, nonrotate,
// settransferpoint) then report ErrUnknownCommand — the dispatch table
// is split in two.
func New(link *pmaclink.Link, bus *eventbus.Bus, kv *kvmirror.Mirror, sql *sqlgateway.Gateway) *Executor {
	e := &Executor{
		Link:    link,
		Bus:     bus,
		KV:      kv,
		SQL:     sql,
		Motors:  map[string]*motor.Motor{},
		Inputs:  map[string]*motor.BinaryInput{},
		Waiters: map[int]*orchestrate.MoveWaiter{},
		always:  map[string]Handler{},
		gateway: map[string]Handler{},
	}
	e.registerAlways()
	e.registerGateway()
	return e
}

// RequestAbort sets the shared abort flag and cancels whatever command is in
// flight. Checked at every await boundary, independent of
// whether the mailbox itself is free.
func (e *Executor) RequestAbort() {
	atomic.StoreInt32(&e.abortRequested, 1)
	e.cancelMu.Lock()
	cancel := e.cancelCurrent
	e.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AbortRequested reports the current state of the shared abort flag.
func (e *Executor) AbortRequested() bool {
	return atomic.LoadInt32(&e.abortRequested) != 0
}

func (e *Executor) clearAbort() {
	atomic.StoreInt32(&e.abortRequested, 0)
}

// checkpoint is called at every scripted await boundary: it reports
// ErrAborted if the shared flag is set, or ctx's own error if canceled.
func (e *Executor) checkpoint(ctx context.Context) error {
	if e.AbortRequested() {
		return ErrAborted
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Submit parses and dispatches one command line. It returns ErrBusy rather
// than blocking if another command is already executing.
func (e *Executor) Submit(line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return ErrUnknownCommand
	}
	name, args := words[0], words[1:]

	if !e.mailbox.TryLock() {
		monitoring.Logf("md2cmds: mailbox busy, dropping %q", line)
		return ErrBusy
	}
	defer e.mailbox.Unlock()

	h, ok := e.always[name]
	if !ok {
		h, ok = e.gateway[name]
		if !ok || e.SQL == nil {
			return ErrUnknownCommand
		}
	}

	e.clearAbort()
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelMu.Lock()
	e.cancelCurrent = cancel
	e.cancelMu.Unlock()

	err := h(ctx, e, args)

	e.cancelMu.Lock()
	e.cancelCurrent = nil
	e.cancelMu.Unlock()
	cancel()

	if err != nil {
		monitoring.Logf("md2cmds: %q failed: %v", line, err)
	}
	return err
}
