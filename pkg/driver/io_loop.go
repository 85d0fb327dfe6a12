package driver

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/fsm"
	"github.com/cockroachdb/raftdriver/pkg/logutil"
)

type polledBatch struct {
	batch driverpb.OutputBatch
	err   error
}

// ioLoop is spec §4.2: a single cooperative task that repeatedly awaits a
// batch from the FSM and processes it in a fixed order. It is the sole
// owner of readRequests, snapshotTransfers, perDestChains,
// rpcConfiguration, lastStableIndex, pendingRemovals, and stepdownPending.
//
// A dedicated pump goroutine turns the FSM's blocking PollOutput into a
// channel so this loop can also select on snapshotCompletions, the
// per-transfer results a background transfer task cannot deliver to the
// FSM itself (only the I/O goroutine may touch the FSM or transfer table,
// spec §5).
func (d *Driver) ioLoop(ctx context.Context) {
	defer d.wg.Done()

	polled := make(chan polledBatch, 1)
	go d.pollOutputPump(ctx, polled)

	for {
		select {
		case p, ok := <-polled:
			if !ok {
				return
			}
			if p.err != nil {
				if errors.Is(p.err, fsm.ErrStopped) {
					return
				}
				logutil.Errorf(d.log, "io activity: poll output failed: %v", p.err)
				return
			}
			d.metrics.FSMOutputPolls.Inc()
			d.processBatch(ctx, p.batch)

		case c := <-d.snapshotCompletions:
			d.handleSnapshotCompletion(c)

		case call := <-d.startReadBarrierRegister:
			d.handleStartReadBarrierCall(call)

		case start := <-d.stepdownRegister:
			d.handleStepdownStart(start)

		case <-d.stopCh:
			return
		}
	}
}

func (d *Driver) pollOutputPump(ctx context.Context, out chan<- polledBatch) {
	defer close(out)
	for {
		batch, err := d.cfg.FSM.PollOutput(ctx)
		select {
		case out <- polledBatch{batch: batch, err: err}:
		case <-d.stopCh:
			return
		}
		if err != nil {
			return
		}
	}
}

func (d *Driver) processBatch(ctx context.Context, batch driverpb.OutputBatch) {
	// Step 1: term/vote.
	if batch.TermVote != nil {
		if err := d.cfg.Storage.SetTermVote(ctx, *batch.TermVote); err != nil {
			logutil.Errorf(d.log, "io activity: persisting term/vote failed: %v", err)
			return
		}
		d.metrics.TermVoteStores.Inc()
	}

	// Step 2: snapshot descriptor.
	if batch.Snapshot != nil {
		d.processSnapshotOutput(ctx, batch.Snapshot)
	}

	// Step 3: new log entries, with regression/truncate-then-store.
	if len(batch.Entries) > 0 {
		if batch.Entries[0].Index <= d.lastStableIndex {
			if err := d.cfg.Storage.TruncateLog(ctx, batch.Entries[0].Index-1); err != nil {
				logutil.Errorf(d.log, "io activity: truncating log failed: %v", err)
				return
			}
			d.metrics.LogTruncations.Inc()
		}
		if err := d.cfg.Storage.AppendEntries(ctx, batch.Entries); err != nil {
			logutil.Errorf(d.log, "io activity: persisting entries failed: %v", err)
			return
		}
		d.metrics.EntriesPersisted.Add(len(batch.Entries))
		d.lastStableIndex = batch.Entries[len(batch.Entries)-1].Index
	}

	// Step 4: configuration diff (joiners added now; leavers recorded for
	// after message dispatch).
	if batch.Configuration != nil {
		d.applyConfigurationDiff(ctx, *batch.Configuration)
	}

	// Step 5: dispatch outgoing messages.
	for _, msg := range batch.Messages {
		d.dispatchMessage(ctx, msg)
	}

	// Step 6: execute recorded removals, only after every message this
	// batch addressed to a leaver has already been dispatched in step 5.
	for _, leaver := range d.pendingRemovals {
		delete(d.rpcConfiguration, leaver)
		d.snapshotTransfers.abort(leaver)
		d.perDestChains.removeDest(leaver)
		if err := d.cfg.Transport.RemoveServer(ctx, leaver); err != nil {
			logutil.Warningf(d.log, "io activity: transport RemoveServer(%s) failed: %v", leaver, err)
		}
	}
	d.pendingRemovals = nil

	// Step 7: enqueue committed entries onto the applier channel
	// (backpressure point).
	if len(batch.Committed) > 0 {
		d.metrics.EntriesQueuedForApply.Add(len(batch.Committed))
		select {
		case d.applierCh <- applierItem{committed: batch.Committed}:
		case <-d.stopCh:
			return
		}
	}

	// Step 8: resolve read requests up to the quorum watermark.
	if batch.HasMaxReadID {
		d.readRequests.resolveUpToWatermark(batch.MaxReadIDWithQuorum)
	}

	// Step 9: leadership-edge handling.
	d.handleLeadershipEdges(batch)
}

func (d *Driver) processSnapshotOutput(ctx context.Context, out *driverpb.SnapshotOutput) {
	trailing := uint64(0)
	if out.Local {
		trailing = d.cfg.SnapshotTrailing
	}
	if err := d.cfg.Storage.SetSnapshot(ctx, out.Descriptor, trailing); err != nil {
		logutil.Errorf(d.log, "io activity: persisting snapshot descriptor failed: %v", err)
		return
	}
	d.metrics.SnapshotStores.Inc()
	if out.PrevID != ([16]byte{}) {
		d.cfg.StateMachine.DiscardSnapshot(ctx, out.PrevID)
	}

	if !out.Local {
		select {
		case d.applierCh <- applierItem{snapshot: &out.Descriptor}:
		case <-d.stopCh:
		}
	}
}

func (d *Driver) applyConfigurationDiff(ctx context.Context, conf driverpb.Configuration) {
	want := conf.AddressUnion()
	wantSet := make(map[driverpb.ServerID]struct{}, len(want))
	for _, id := range want {
		wantSet[id] = struct{}{}
	}

	for _, id := range want {
		if _, present := d.rpcConfiguration[id]; !present {
			d.rpcConfiguration[id] = struct{}{}
			// add_server runs here, before step 5 dispatches any message
			// from this same batch, so the transport always learns a
			// joiner before the first Send addressed to it.
			if err := d.cfg.Transport.AddServer(ctx, id); err != nil {
				logutil.Warningf(d.log, "io activity: transport AddServer(%s) failed: %v", id, err)
			}
		}
	}
	for id := range d.rpcConfiguration {
		if _, stillWanted := wantSet[id]; !stillWanted {
			d.pendingRemovals = append(d.pendingRemovals, id)
		}
	}
}

func (d *Driver) dispatchMessage(ctx context.Context, msg driverpb.OutgoingMessage) {
	d.metrics.MessagesSent.WithLabelValues(messageKind(msg), d.cfg.ID.String()).Inc()

	if msg.InstallSnapshotReq != nil {
		d.startSnapshotTransfer(ctx, msg.To, *msg.InstallSnapshotReq)
		return
	}
	if msg.AppendEntries != nil {
		// Append-request sends are serialized per destination so they
		// never overtake each other (spec §4.2 step 5, §5).
		dest := msg.To
		d.perDestChains.submit(ctx, dest, func(cctx context.Context) {
			d.cfg.Transport.Send(cctx, msg)
		})
		return
	}
	// Every other message variant (votes, timeout-now, append responses)
	// is fire-and-forget and unordered relative to other variants.
	d.cfg.Transport.Send(ctx, msg)
}

func (d *Driver) startSnapshotTransfer(ctx context.Context, dest driverpb.ServerID, req driverpb.InstallSnapshotRequest) {
	d.snapshotTransfers.start(ctx, dest, func(tctx context.Context) (driverpb.InstallSnapshotResponse, error) {
		return d.cfg.Transport.SendSnapshot(tctx, dest, req)
	}, d.snapshotCompletions)
}

// handleSnapshotCompletion is spec §4.4's "on return" step: look up by
// transfer id whether it was cancelled (discard the reply), otherwise
// remove the per-destination entry and step the reply into the FSM using
// a synthesized failure on transport error.
func (d *Driver) handleSnapshotCompletion(c snapshotCompletion) {
	if d.snapshotTransfers.isCancelled(c.dest, c.id) {
		return
	}
	d.snapshotTransfers.complete(c.dest, c.id)

	resp := c.resp
	if c.err != nil {
		resp = driverpb.InstallSnapshotResponse{Term: d.cfg.FSM.CurrentTerm(), Success: false}
	}
	d.cfg.FSM.StepInstallSnapshotResponse(c.dest, &resp)
}

func (d *Driver) handleLeadershipEdges(batch driverpb.OutputBatch) {
	isLeader := d.cfg.FSM.IsLeader()
	if !isLeader {
		if d.stepdownPending != nil {
			resolveStepdown(d.stepdownPending, outcome{})
			d.stepdownPending = nil
		}
		if batch.LostLeadership && batch.SelfRemoved {
			d.dropWaitersOnConfigLoss()
		}
		if batch.LostLeadership {
			d.snapshotTransfers.abortAll()
			var hint driverpb.ServerID
			hasHint := false
			if l, ok := d.cfg.FSM.CurrentLeader(); ok {
				hint, hasHint = l, true
			}
			d.readRequests.resolveAllNotLeader(hint, hasHint)
		}
	} else if batch.TransferAborted && d.stepdownPending != nil {
		resolveStepdown(d.stepdownPending, outcome{err: ErrTimeout})
		d.stepdownPending = nil
	}

	if batch.HasLeader {
		d.wakeLeaderWaiters()
	}
}

// dropWaitersOnConfigLoss asks the applier goroutine to drop all commit-
// and apply-waiters as commit-unknown, since this replica can no longer
// determine their outcome (left the configuration while non-leader).
func (d *Driver) dropWaitersOnConfigLoss() {
	select {
	case d.applierCh <- applierItem{dropAllCommitUnknown: true}:
	case <-d.stopCh:
	}
}

// handleStartReadBarrierCall runs FSM.StartReadBarrier and, if it granted a
// read id, registers the resulting ReadRequest — all within this single
// select iteration, so the quorum-watermark batch the FSM call itself just
// enqueued cannot be processed (and resolve nothing, since the request
// would not exist yet) before the request lands in readRequests.
func (d *Driver) handleStartReadBarrierCall(call *startReadBarrierCall) {
	res, err := d.cfg.FSM.StartReadBarrier(d.cfg.ID)
	if err != nil {
		call.done <- startReadBarrierResult{err: err}
		return
	}
	if !res.Ready {
		call.done <- startReadBarrierResult{ready: false}
		return
	}
	r := &readRequest{readID: res.ReadID, index: res.Index, done: make(chan outcome, 1)}
	d.readRequests.add(r)
	call.done <- startReadBarrierResult{ready: true, req: r}
}

// handleStepdownStart is spec §4.1's stepdown(timeout), run on the I/O
// goroutine since it owns stepdownPending and is the only caller allowed
// to invoke FSM.TransferLeadership.
func (d *Driver) handleStepdownStart(start stepdownStart) {
	if d.stepdownPending != nil {
		resolveStepdown(start.req, outcome{err: ErrStepdownInProgress})
		return
	}
	if err := d.cfg.FSM.TransferLeadership(start.timeout); err != nil {
		resolveStepdown(start.req, outcome{err: err})
		return
	}
	d.stepdownPending = start.req
}

func (d *Driver) wakeLeaderWaiters() {
	d.leaderMu.Lock()
	waiters := d.leaderMu.waiters
	d.leaderMu.waiters = nil
	d.leaderMu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}
