package driver

import (
	"context"
	"time"
)

// stepdownStart is what Stepdown hands to the I/O goroutine, the sole
// owner of stepdownPending and the only caller allowed to invoke
// FSM.TransferLeadership (spec §5's single-writer discipline).
type stepdownStart struct {
	timeout time.Duration
	req     *stepdownRequest
}

// Stepdown is spec §4.1's stepdown(timeout): asks the FSM to transfer
// leadership away within timeout, blocking until either this replica loses
// leadership (success, resolved by the I/O goroutine's leadership-edge
// handling) or the transfer times out (ErrTimeout). At most one Stepdown
// may be in flight at a time; a second call fails immediately with
// ErrStepdownInProgress.
func (d *Driver) Stepdown(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = d.cfg.StepdownDefaultTimeout
	}
	start := stepdownStart{timeout: timeout, req: &stepdownRequest{done: make(chan outcome, 1)}}
	select {
	case d.stepdownRegister <- start:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopCh:
		return ErrStopped
	}

	select {
	case o := <-start.req.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopCh:
		return ErrStopped
	}
}
