// Package fsmtest provides a small, deterministic fake implementation of
// fsm.FSM for driving the driver's own tests without a real protocol state
// machine. It intentionally does not implement leader election, log
// matching, or quorum arithmetic (those are out of scope for this module);
// it exposes test-only hooks (Commit, Overwrite, ForceLoseLeadership,
// InjectRemoteSnapshot, ...) so a test can script the exact FSM behavior a
// scenario needs.
package fsmtest

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/fsm"
)

// FakeFSM is a single-process stand-in for the protocol state machine.
type FakeFSM struct {
	id driverpb.ServerID

	mu struct {
		sync.Mutex
		leader      bool
		leaderID    driverpb.ServerID
		hasLeader   bool
		term        driverpb.Term
		config      driverpb.Configuration
		log         []driverpb.LogEntry
		committed   driverpb.Index
		readyInTerm bool
		nextReadID  uint64
		autoCommit  bool
		maxLogSize  int
		stopped     bool
	}

	cond *sync.Cond

	outputCh chan driverpb.OutputBatch
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a FakeFSM seeded with config, initially leading iff
// asLeader.
func New(id driverpb.ServerID, config driverpb.Configuration, asLeader bool) *FakeFSM {
	f := &FakeFSM{
		id:       id,
		outputCh: make(chan driverpb.OutputBatch, 256),
		stopCh:   make(chan struct{}),
	}
	f.cond = sync.NewCond(&f.mu.Mutex)
	f.mu.leader = asLeader
	if asLeader {
		f.mu.leaderID = id
		f.mu.hasLeader = true
	}
	f.mu.term = 1
	f.mu.config = config
	f.mu.autoCommit = true
	f.mu.maxLogSize = 1 << 20
	return f
}

func (f *FakeFSM) enqueueLocked(batch driverpb.OutputBatch) {
	select {
	case f.outputCh <- batch:
	default:
		// Channel full: hand the batch to a goroutine instead of dropping
		// it. Batches sent this way are not ordered relative to each
		// other or to later batches.
		go func() { f.outputCh <- batch }()
	}
}

// --- fsm.FSM ---

// LoadState seeds the fake with persisted term/vote, snapshot
// configuration, and log tail, the way a restarted replica's real FSM
// would be reconstructed from disk. Which loaded entries are already
// committed is something only the real protocol (replaying against peers)
// can determine, so the fake conservatively leaves committed at its
// zero value; scripted tests that need a specific post-restart commit
// state call Commit explicitly afterward.
func (f *FakeFSM) LoadState(tv driverpb.TermVote, hasSnapshot bool, snp driverpb.SnapshotDescriptor, logTail []driverpb.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tv.Term > f.mu.term {
		f.mu.term = tv.Term
	}
	if hasSnapshot {
		f.mu.config = snp.Configuration
	}
	f.mu.log = append([]driverpb.LogEntry(nil), logTail...)
	return nil
}

func (f *FakeFSM) StepAppendEntriesRequest(driverpb.ServerID, *driverpb.AppendEntriesRequest)   {}
func (f *FakeFSM) StepAppendEntriesResponse(driverpb.ServerID, *driverpb.AppendEntriesResponse) {}
func (f *FakeFSM) StepRequestVoteRequest(driverpb.ServerID, *driverpb.RequestVoteRequest)       {}
func (f *FakeFSM) StepRequestVoteResponse(driverpb.ServerID, *driverpb.RequestVoteResponse)     {}
func (f *FakeFSM) StepTimeoutNowRequest(driverpb.ServerID, *driverpb.TimeoutNowRequest)         {}

func (f *FakeFSM) StepInstallSnapshotResponse(driverpb.ServerID, *driverpb.InstallSnapshotResponse) {
}

func (f *FakeFSM) AddEntry(payload fsm.EntryPayload) (driverpb.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addEntryLocked(payload)
}

func (f *FakeFSM) addEntryLocked(payload fsm.EntryPayload) (driverpb.LogEntry, error) {
	if !f.mu.leader {
		return driverpb.LogEntry{}, fsm.ErrNotLeader
	}
	for len(f.mu.log)-int(f.mu.committed) >= f.mu.maxLogSize {
		f.cond.Wait()
		if f.mu.stopped {
			return driverpb.LogEntry{}, fsm.ErrStopped
		}
	}
	entry := driverpb.LogEntry{
		Term:    f.mu.term,
		Index:   driverpb.Index(len(f.mu.log) + 1),
		Type:    payload.Type,
		Command: payload.Command,
		Conf:    payload.Conf,
	}
	f.mu.log = append(f.mu.log, entry)
	if entry.Type == driverpb.EntryConfiguration && entry.Conf != nil {
		f.mu.config = *entry.Conf
	}
	if f.mu.autoCommit {
		f.commitThroughLocked(entry.Index)
	}
	return entry, nil
}

// commitThroughLocked advances the commit index to idx and emits the
// corresponding output batch (entries + committed). If a joint
// configuration entry just committed, it synchronously appends and
// commits the follow-up non-joint entry, mirroring the real FSM's
// "appends automatically without yielding to the caller" behavior.
func (f *FakeFSM) commitThroughLocked(idx driverpb.Index) {
	if idx <= f.mu.committed {
		return
	}
	newEntries := f.mu.log[f.mu.committed:idx]
	batch := driverpb.OutputBatch{
		Entries:   append([]driverpb.LogEntry(nil), newEntries...),
		Committed: append([]driverpb.LogEntry(nil), newEntries...),
	}
	f.mu.committed = idx
	f.mu.readyInTerm = true
	f.enqueueLocked(batch)
	f.cond.Broadcast()

	last := newEntries[len(newEntries)-1]
	if last.Type == driverpb.EntryConfiguration && last.Conf != nil && last.Conf.IsJoint() {
		nonJoint := driverpb.Configuration{Voters: last.Conf.Voters}
		_, _ = f.addEntryLocked(fsm.EntryPayload{Type: driverpb.EntryConfiguration, Conf: &nonJoint})
	}
}

// Commit advances the commit index to idx (used when SetAutoCommit(false)
// is in effect, to script exactly when entries commit).
func (f *FakeFSM) Commit(idx driverpb.Index) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitThroughLocked(idx)
}

// SetAutoCommit toggles whether AddEntry immediately commits what it
// appends (the default, suitable for single-replica scenarios) or leaves
// commit to an explicit Commit/Overwrite call (for scripting leader loss).
func (f *FakeFSM) SetAutoCommit(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mu.autoCommit = on
}

// Overwrite simulates a new leader replacing the uncommitted entry at idx
// (and everything after it) with a single dummy entry at term newTerm,
// then committing it. This is how S2-style "leader loss drops waiter"
// scenarios are scripted.
func (f *FakeFSM) Overwrite(idx driverpb.Index, newTerm driverpb.Term) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mu.term = newTerm
	f.mu.log = f.mu.log[:idx-1]
	entry := driverpb.LogEntry{Term: newTerm, Index: idx, Type: driverpb.EntryDummy}
	f.mu.log = append(f.mu.log, entry)
	f.commitThroughLocked(idx)
}

// InjectRemoteSnapshot enqueues a remotely-received snapshot batch, as if
// this replica's FSM had just accepted an InstallSnapshot from a leader.
func (f *FakeFSM) InjectRemoteSnapshot(desc driverpb.SnapshotDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueueLocked(driverpb.OutputBatch{Snapshot: &driverpb.SnapshotOutput{Descriptor: desc, Local: false}})
}

// ForceLoseLeadership pushes the "no longer leader" edge batch, optionally
// with selfRemoved set (this replica also left the configuration) and a
// newLeader hint.
func (f *FakeFSM) ForceLoseLeadership(selfRemoved bool, newLeader driverpb.ServerID, hasNewLeader bool) {
	f.mu.Lock()
	f.mu.leader = false
	f.mu.leaderID = newLeader
	f.mu.hasLeader = hasNewLeader
	batch := driverpb.OutputBatch{
		LostLeadership: true,
		SelfRemoved:    selfRemoved,
		HasLeader:      hasNewLeader,
		CurrentLeader:  newLeader,
	}
	f.enqueueLocked(batch)
	f.mu.Unlock()
}

// AbortTransfer pushes the "leadership transfer aborted" edge batch.
func (f *FakeFSM) AbortTransfer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueueLocked(driverpb.OutputBatch{TransferAborted: true})
}

// SetCurrentLeader sets the believed leader without changing this
// replica's own leader/follower status, and wakes anyone blocked on
// wait_for_leader.
func (f *FakeFSM) SetCurrentLeader(id driverpb.ServerID, ok bool) {
	f.mu.Lock()
	f.mu.leaderID = id
	f.mu.hasLeader = ok
	batch := driverpb.OutputBatch{HasLeader: ok, CurrentLeader: id}
	f.enqueueLocked(batch)
	f.mu.Unlock()
}

// SetReadyInTerm controls whether StartReadBarrier reports Ready.
func (f *FakeFSM) SetReadyInTerm(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mu.readyInTerm = ready
}

// SetMaxLogSize bounds the in-memory (uncommitted) log length enforced by
// WaitMaxLogSize/AddEntry.
func (f *FakeFSM) SetMaxLogSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mu.maxLogSize = n
}

func (f *FakeFSM) WaitMaxLogSize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.mu.log)-int(f.mu.committed) >= f.mu.maxLogSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if f.mu.stopped {
			return fsm.ErrStopped
		}
		f.cond.Wait()
	}
	return nil
}

func (f *FakeFSM) PollOutput(ctx context.Context) (driverpb.OutputBatch, error) {
	select {
	case b := <-f.outputCh:
		return b, nil
	case <-f.stopCh:
		return driverpb.OutputBatch{}, fsm.ErrStopped
	case <-ctx.Done():
		return driverpb.OutputBatch{}, ctx.Err()
	}
}

func (f *FakeFSM) IsLeader() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mu.leader
}

func (f *FakeFSM) IsFollower() bool { return !f.IsLeader() }
func (f *FakeFSM) IsCandidate() bool {
	return false
}

func (f *FakeFSM) CurrentLeader() (driverpb.ServerID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mu.leaderID, f.mu.hasLeader
}

func (f *FakeFSM) CurrentTerm() driverpb.Term {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mu.term
}

func (f *FakeFSM) CurrentConfiguration() driverpb.Configuration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mu.config
}

func (f *FakeFSM) LogLastIndex() driverpb.Index {
	f.mu.Lock()
	defer f.mu.Unlock()
	return driverpb.Index(len(f.mu.log))
}

func (f *FakeFSM) LogLastTerm() driverpb.Term {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.mu.log) == 0 {
		return 0
	}
	return f.mu.log[len(f.mu.log)-1].Term
}

func (f *FakeFSM) StartReadBarrier(driverpb.ServerID) (fsm.ReadBarrierResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.mu.leader {
		return fsm.ReadBarrierResult{}, fsm.ErrNotLeader
	}
	if !f.mu.readyInTerm {
		return fsm.ReadBarrierResult{Ready: false}, nil
	}
	f.mu.nextReadID++
	id := f.mu.nextReadID
	idx := f.mu.committed
	f.enqueueLocked(driverpb.OutputBatch{HasMaxReadID: true, MaxReadIDWithQuorum: id})
	return fsm.ReadBarrierResult{Ready: true, ReadID: id, Index: idx}, nil
}

func (f *FakeFSM) ApplySnapshot(snp driverpb.SnapshotDescriptor, trailing uint64, local bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return true
}

func (f *FakeFSM) TransferLeadership(timeout time.Duration) error {
	return errors.New("fsmtest: TransferLeadership not scripted; call ForceLoseLeadership or AbortTransfer directly")
}

func (f *FakeFSM) Stop() {
	f.stopOnce.Do(func() {
		f.mu.Lock()
		f.mu.stopped = true
		f.mu.Unlock()
		f.cond.Broadcast()
		close(f.stopCh)
	})
}

func (f *FakeFSM) Tick()           {}
func (f *FakeFSM) ElapseElection() {}

func (f *FakeFSM) WaitUntilCandidate(ctx context.Context) error { return ctx.Err() }
func (f *FakeFSM) WaitElectionDone(ctx context.Context) error   { return ctx.Err() }

func (f *FakeFSM) WaitLogIndexTerm(ctx context.Context, index driverpb.Index, term driverpb.Term) error {
	return ctx.Err()
}

var _ fsm.FSM = (*FakeFSM)(nil)
