package driver

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/logutil"
)

// applierLoop is spec §4.3: a single cooperative task consuming one item
// at a time from the applier channel. It is the sole owner of
// commitWaiters, applyWaiters, awaitedIndexes, and appliedMu.
func (d *Driver) applierLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case reg, ok := <-d.waiterRegister:
			if !ok {
				return
			}
			d.registerWaiter(reg)

		case ar, ok := <-d.awaitRegister:
			if !ok {
				return
			}
			if ar.target <= d.appliedIndexLocked() {
				close(ar.ch)
			} else {
				d.awaitedIndexes.registerChan(ar.target, ar.ch)
			}

		case item, ok := <-d.applierCh:
			if !ok {
				return
			}
			if item.dropAllCommitUnknown {
				d.commitWaiters.dropAll(ErrCommitStatusUnknown)
				d.applyWaiters.dropAll(ErrCommitStatusUnknown)
				continue
			}
			if item.snapshot != nil {
				err, fatal := d.applySnapshotItem(ctx, *item.snapshot)
				d.resolveIncomingSnapshot(item.snapshot.ID, err)
				if fatal {
					return
				}
				continue
			}
			if fatal := d.applyCommittedBatch(ctx, item.committed); fatal {
				return
			}

		case <-d.stopCh:
			return
		}
	}
}

func (d *Driver) registerWaiter(reg waiterRegistration) {
	switch reg.table {
	case commitTable:
		d.commitWaiters.add(reg.w)
	case applyTable:
		d.applyWaiters.add(reg.w)
	}
}

// applyCommittedBatch is spec §4.3's "batch of entries" path. It returns
// true if the application state machine failed or the batch does not
// extend AppliedIndex contiguously; per §7 either is fatal for the applier
// activity (the caller, applierLoop, exits).
func (d *Driver) applyCommittedBatch(ctx context.Context, entries []driverpb.LogEntry) bool {
	if len(entries) == 0 {
		return false
	}

	// Step 2: notify commit-waiters.
	d.commitWaiters.notifyRange(entries, d.metrics.WaitersAwoken.Inc, d.metrics.WaitersDropped.Inc)

	// Step 3: project Command payloads, preserving order.
	commands := make([][]byte, 0, len(entries))
	for _, e := range entries {
		if e.Type == driverpb.EntryCommand {
			commands = append(commands, e.Command)
		}
	}

	last := entries[len(entries)-1].Index
	appliedBefore := d.appliedIndexLocked()
	if appliedBefore+driverpb.Index(len(entries)) != last {
		// A committed batch must extend AppliedIndex by exactly its own
		// length; anything else means the FSM committed entries out of
		// order with respect to what this activity already applied, which
		// can only mean a protocol-invariant violation upstream. Applying
		// anyway would silently corrupt AppliedIndex, so this is fatal for
		// the applier activity, the same way a StateMachine.Apply error
		// below is: logged, then the activity stops without advancing
		// AppliedIndex or invoking Apply on the unanchored batch.
		logutil.Errorf(d.log, "applier: non-contiguous batch: applied=%d, batch=[%d..%d], stopping applier activity",
			appliedBefore, entries[0].Index, last)
		return true
	}

	// Step 4: invoke the application state machine.
	for i, cmd := range commands {
		if _, err := d.cfg.StateMachine.Apply(ctx, indexOfCommand(entries, i), cmd); err != nil {
			logutil.Errorf(d.log, "applier: application state machine Apply failed, stopping applier activity: %v", err)
			return true
		}
	}
	d.metrics.EntriesApplied.Add(len(commands))

	// Step 5: advance AppliedIndex and notify apply-waiters.
	d.appliedMu.Lock()
	d.appliedMu.appliedIndex = last
	d.appliedMu.Unlock()
	d.applyWaiters.notifyRange(entries, d.metrics.WaitersAwoken.Inc, d.metrics.WaitersDropped.Inc)
	d.awaitedIndexes.signalUpTo(last)

	// Step 6: local snapshot cadence.
	d.maybeTakeLocalSnapshot(ctx, last)
	return false
}

// indexOfCommand recovers the LogEntry index for the i-th Command payload
// within entries, since commands is a filtered projection.
func indexOfCommand(entries []driverpb.LogEntry, i int) driverpb.Index {
	seen := 0
	for _, e := range entries {
		if e.Type == driverpb.EntryCommand {
			if seen == i {
				return e.Index
			}
			seen++
		}
	}
	return 0
}

func (d *Driver) maybeTakeLocalSnapshot(ctx context.Context, appliedIndex driverpb.Index) {
	d.appliedMu.Lock()
	lastSnapshotIndex := d.appliedMu.lastSnapshotIndex
	d.appliedMu.Unlock()

	if int64(appliedIndex-lastSnapshotIndex) < d.cfg.SnapshotThreshold || appliedIndex < lastSnapshotIndex {
		return
	}

	id, image, err := d.cfg.StateMachine.TakeSnapshot(ctx)
	if err != nil {
		logutil.Errorf(d.log, "applier: taking local snapshot failed: %v", err)
		return
	}
	snp := driverpb.SnapshotDescriptor{
		ID:            id,
		Term:          d.cfg.FSM.CurrentTerm(),
		Index:         appliedIndex,
		Configuration: d.cfg.FSM.CurrentConfiguration(),
	}
	accepted := d.cfg.FSM.ApplySnapshot(snp, d.cfg.SnapshotTrailing, true)
	if !accepted {
		d.cfg.StateMachine.DiscardSnapshot(ctx, id)
		return
	}
	d.metrics.SnapshotsTaken.Inc()
	d.appliedMu.Lock()
	d.appliedMu.lastSnapshotIndex = appliedIndex
	d.appliedMu.Unlock()
	_ = image // not retained: only the descriptor above goes to the FSM.
}

// applySnapshotItem is spec §4.3's "snapshot descriptor" path: a remote
// snapshot the I/O activity enqueued for asynchronous loading. The bool
// return is true if loading it failed in a way that is fatal for the
// applier activity (as opposed to a non-fatal rejection, e.g. already
// superseded); the error return, regardless of fatality, is what's
// reported back to the ApplySnapshot caller waiting on this sender.
func (d *Driver) applySnapshotItem(ctx context.Context, snp driverpb.SnapshotDescriptor) (error, bool) {
	appliedBefore := d.appliedIndexLocked()
	if snp.Index < appliedBefore {
		logutil.Errorf(d.log, "applier: remote snapshot index %d < applied index %d", snp.Index, appliedBefore)
		return nil, false
	}

	if err := d.loadRemoteSnapshotImage(ctx, snp); err != nil {
		logutil.Errorf(d.log, "applier: loading remote snapshot failed, stopping applier activity: %v", err)
		return err, true
	}
	d.metrics.SnapshotsLoaded.Inc()

	d.commitWaiters.dropThrough(snp.Index, d.metrics.WaitersDropped.Inc)
	d.applyWaiters.dropThrough(snp.Index, d.metrics.WaitersDropped.Inc)

	d.appliedMu.Lock()
	d.appliedMu.appliedIndex = snp.Index
	d.appliedMu.lastSnapshotIndex = snp.Index
	d.appliedMu.Unlock()
	d.awaitedIndexes.signalUpTo(snp.Index)
	return nil, false
}

// loadRemoteSnapshotImage retrieves the pending incoming image for snp's
// sender (staged by ApplySnapshot, see snapshot.go) and hands it to the
// application state machine.
func (d *Driver) loadRemoteSnapshotImage(ctx context.Context, snp driverpb.SnapshotDescriptor) error {
	image, ok := d.takePendingSnapshotImage(snp.ID)
	if !ok {
		return errors.Newf("applier: no staged image for snapshot %s", snp.ID)
	}
	_, err := d.cfg.StateMachine.LoadSnapshot(ctx, image)
	return err
}
