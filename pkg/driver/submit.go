package driver

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/fsm"
)

// logSizeSemaphore short-circuits Submit once the driver itself already
// knows the in-memory log budget is exhausted, without a round trip into
// the FSM's own WaitMaxLogSize (SPEC_FULL §4.2 [EXPANDED]). A zero-valued
// MaxLogSize disables admission control (unbounded).
type logSizeSemaphore struct {
	sem *semaphore.Weighted
}

func newLogSizeSemaphore(max int64) *logSizeSemaphore {
	if max <= 0 {
		return &logSizeSemaphore{}
	}
	return &logSizeSemaphore{sem: semaphore.NewWeighted(max)}
}

func (s *logSizeSemaphore) acquire(ctx context.Context) error {
	if s.sem == nil {
		return nil
	}
	return s.sem.Acquire(ctx, 1)
}

func (s *logSizeSemaphore) release() {
	if s.sem == nil {
		return
	}
	s.sem.Release(1)
}

// WaitMode selects whether Submit resolves at commit or at apply (spec
// §4.1 "submit(command, wait_mode)").
type WaitMode int

const (
	UntilCommitted WaitMode = iota
	UntilApplied
)

// Submit assigns (term, index) to command via the FSM, registers a
// Waiter, and blocks until the entry is committed/applied or resolves with
// one of the sentinel errors in errors.go.
func (d *Driver) Submit(ctx context.Context, command []byte, mode WaitMode) (interface{}, error) {
	return d.submitEntry(ctx, fsm.EntryPayload{Type: driverpb.EntryCommand, Command: command}, mode)
}

func (d *Driver) submitEntry(ctx context.Context, payload fsm.EntryPayload, mode WaitMode) (interface{}, error) {
	if err := d.sem.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.sem.release()
	if err := d.cfg.FSM.WaitMaxLogSize(ctx); err != nil {
		return nil, err
	}

	entry, err := d.cfg.FSM.AddEntry(payload)
	if err != nil {
		return nil, err
	}

	w := &waiter{index: entry.Index, term: entry.Term, done: make(chan outcome, 1)}
	table := d.tableFor(mode)
	select {
	case d.waiterRegister <- waiterRegistration{table: table, w: w}:
	case <-d.stopCh:
		return nil, ErrStopped
	}

	select {
	case o := <-w.done:
		return o.value, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.stopCh:
		return nil, ErrStopped
	}
}

// waiterTableKind discriminates commit vs apply waiter tables for
// registration requests sent to their owning goroutine.
type waiterTableKind int

const (
	commitTable waiterTableKind = iota
	applyTable
)

func (d *Driver) tableFor(mode WaitMode) waiterTableKind {
	if mode == UntilApplied {
		return applyTable
	}
	return commitTable
}

type waiterRegistration struct {
	table waiterTableKind
	w     *waiter
}
