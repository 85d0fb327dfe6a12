package driver

import (
	"context"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

// ReadBarrier implements spec §4.1's read_barrier(): it blocks until a
// subsequent read of the application state machine is guaranteed to
// observe every write committed before this call returns.
//
// The protocol: discover the believed leader (waiting if none is known
// yet); if this replica is leader, start a read barrier locally; otherwise
// ask the leader over RPC. A reply is one of a commit-index floor (the
// "read index"), a redirect to another believed leader, or "not ready"
// (the leader has no committed entry in its own term yet). Once a read
// index is in hand, wait until AppliedIndex reaches it.
func (d *Driver) ReadBarrier(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stopCh:
			return ErrStopped
		default:
		}

		leader, err := d.currentLeaderOrWait(ctx)
		if err != nil {
			return err
		}

		var readIndex driverpb.Index
		if leader == d.cfg.ID {
			idx, ready, err := d.startLocalReadBarrier(ctx)
			if err != nil {
				continue // lost leadership between the check and the call; retry
			}
			if !ready {
				if err := d.waitForAnyApplyTick(ctx); err != nil {
					return err
				}
				continue
			}
			readIndex = idx
		} else {
			reply, err := d.cfg.Transport.SendReadBarrier(ctx, leader, driverpb.ReadBarrierRequest{From: d.cfg.ID})
			if err != nil {
				return err
			}
			switch reply.Kind {
			case driverpb.ReadBarrierIndex:
				readIndex = reply.ReadIndex
			case driverpb.ReadBarrierRedirect:
				continue
			case driverpb.ReadBarrierNotReady:
				if err := d.waitForAnyApplyTick(ctx); err != nil {
					return err
				}
				continue
			}
		}

		return d.waitForApplied(ctx, readIndex)
	}
}

// startLocalReadBarrier asks the I/O goroutine to call FSM.StartReadBarrier
// and register the resulting ReadRequest (spec §4.2 step 8), then waits for
// it to clear the quorum watermark.
func (d *Driver) startLocalReadBarrier(ctx context.Context) (driverpb.Index, bool, error) {
	call := &startReadBarrierCall{done: make(chan startReadBarrierResult, 1)}
	select {
	case d.startReadBarrierRegister <- call:
	case <-ctx.Done():
		return 0, false, ctx.Err()
	case <-d.stopCh:
		return 0, false, ErrStopped
	}

	var res startReadBarrierResult
	select {
	case res = <-call.done:
	case <-ctx.Done():
		return 0, false, ctx.Err()
	case <-d.stopCh:
		return 0, false, ErrStopped
	}
	if res.err != nil {
		return 0, false, res.err
	}
	if !res.ready {
		return 0, false, nil
	}

	select {
	case o := <-res.req.done:
		if o.err != nil {
			return 0, false, o.err
		}
		return o.value.(driverpb.Index), true, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	case <-d.stopCh:
		return 0, false, ErrStopped
	}
}

// HandleReadBarrier implements transport.InboundHandler: it is called by
// the transport when a follower asks this replica, believed leader, to
// serve a read barrier.
func (d *Driver) HandleReadBarrier(ctx context.Context, req driverpb.ReadBarrierRequest) (driverpb.ReadBarrierReply, error) {
	if !d.cfg.FSM.IsLeader() {
		if l, ok := d.cfg.FSM.CurrentLeader(); ok {
			return driverpb.ReadBarrierReply{Kind: driverpb.ReadBarrierRedirect, Leader: l}, nil
		}
		return driverpb.ReadBarrierReply{Kind: driverpb.ReadBarrierRedirect}, nil
	}

	idx, ready, err := d.startLocalReadBarrier(ctx)
	if err != nil {
		if l, ok := d.cfg.FSM.CurrentLeader(); ok {
			return driverpb.ReadBarrierReply{Kind: driverpb.ReadBarrierRedirect, Leader: l}, nil
		}
		return driverpb.ReadBarrierReply{Kind: driverpb.ReadBarrierRedirect}, nil
	}
	if !ready {
		return driverpb.ReadBarrierReply{Kind: driverpb.ReadBarrierNotReady}, nil
	}
	return driverpb.ReadBarrierReply{Kind: driverpb.ReadBarrierIndex, ReadIndex: idx}, nil
}

// waitForApplied blocks until AppliedIndex >= target.
func (d *Driver) waitForApplied(ctx context.Context, target driverpb.Index) error {
	if d.appliedIndexLocked() >= target {
		return nil
	}
	ch := make(chan struct{})
	select {
	case d.awaitRegister <- awaitRequest{target: target, ch: ch}:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopCh:
		return ErrStopped
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopCh:
		return ErrStopped
	}
}

// waitForAnyApplyTick blocks until AppliedIndex advances past its current
// value by at least one, used to re-poll a leader that reported it has no
// committed entry in its own term yet.
func (d *Driver) waitForAnyApplyTick(ctx context.Context) error {
	return d.waitForApplied(ctx, d.appliedIndexLocked()+1)
}

// currentLeaderOrWait returns the believed leader, blocking until one is
// known if necessary.
func (d *Driver) currentLeaderOrWait(ctx context.Context) (driverpb.ServerID, error) {
	if l, ok := d.cfg.FSM.CurrentLeader(); ok {
		return l, nil
	}

	ch := make(chan struct{})
	d.leaderMu.Lock()
	d.leaderMu.waiters = append(d.leaderMu.waiters, ch)
	d.leaderMu.Unlock()

	select {
	case <-ch:
		return d.currentLeaderOrWait(ctx)
	case <-ctx.Done():
		return driverpb.ServerID{}, ctx.Err()
	case <-d.stopCh:
		return driverpb.ServerID{}, ErrStopped
	}
}
