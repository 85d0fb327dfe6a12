// Package fsm defines the contract between the driver and the deterministic
// Raft protocol state machine. The FSM's internals (leader election, log
// matching, quorum arithmetic) are out of scope for this module: only the
// interface the driver programs against lives here, plus a small
// deterministic fake (fsmtest) used by the driver's own tests.
package fsm

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

// ErrStopped is returned by PollOutput (and other blocking calls) once the
// FSM has been told to Stop.
var ErrStopped = errors.New("fsm: stopped")

// ErrNotLeader is returned by StartReadBarrier when the FSM is not
// currently leader.
var ErrNotLeader = errors.New("fsm: not leader")

// EntryPayload is what a caller hands to AddEntry; Command is set iff
// Type == driverpb.EntryCommand, Conf iff Type == driverpb.EntryConfiguration.
type EntryPayload struct {
	Type    driverpb.EntryType
	Command []byte
	Conf    *driverpb.Configuration
}

// ReadBarrierResult is the local outcome of starting a read barrier.
type ReadBarrierResult struct {
	// Ready is false when the leader has no committed entry in its
	// current term yet (the caller should wait for any applied-index
	// advance and retry).
	Ready  bool
	ReadID uint64
	Index  driverpb.Index
}

// FSM is the driver's view of the deterministic protocol state machine.
type FSM interface {
	// LoadState seeds the FSM with durably persisted state before the
	// driver's background activities start (spec §4.1 "On start"). tv is
	// the last persisted term/vote; snp/hasSnapshot describe the latest
	// persisted snapshot descriptor, if any; logTail holds every
	// persisted entry after the snapshot's index (or from the start of
	// the log if hasSnapshot is false) through the last persisted index.
	// Called at most once, before Step*/AddEntry/PollOutput/Tick.
	LoadState(tv driverpb.TermVote, hasSnapshot bool, snp driverpb.SnapshotDescriptor, logTail []driverpb.LogEntry) error

	// Step feeds one inbound message, identified by its sender, into the
	// state machine. Exactly one of the arguments is expected to make
	// sense for a given message type; callers use the typed Step*
	// wrappers below instead of a single type-switched method so that the
	// compiler enforces the match between message and handler.
	StepAppendEntriesRequest(from driverpb.ServerID, req *driverpb.AppendEntriesRequest)
	StepAppendEntriesResponse(from driverpb.ServerID, resp *driverpb.AppendEntriesResponse)
	StepRequestVoteRequest(from driverpb.ServerID, req *driverpb.RequestVoteRequest)
	StepRequestVoteResponse(from driverpb.ServerID, resp *driverpb.RequestVoteResponse)
	StepInstallSnapshotResponse(from driverpb.ServerID, resp *driverpb.InstallSnapshotResponse)
	StepTimeoutNowRequest(from driverpb.ServerID, req *driverpb.TimeoutNowRequest)

	// AddEntry assigns (term, index) to payload and appends it to the
	// leader's log. Returns an error if this replica is not leader.
	AddEntry(payload EntryPayload) (driverpb.LogEntry, error)

	// WaitMaxLogSize blocks until the unsnapshotted log has room for more
	// entries, or ctx is done, or the FSM is stopped.
	WaitMaxLogSize(ctx context.Context) error

	// PollOutput blocks until a batch of output is available, ctx is
	// done, or the FSM is stopped (ErrStopped).
	PollOutput(ctx context.Context) (driverpb.OutputBatch, error)

	IsLeader() bool
	IsFollower() bool
	IsCandidate() bool

	// CurrentLeader returns the believed leader, or ok=false if unknown.
	CurrentLeader() (driverpb.ServerID, bool)
	CurrentTerm() driverpb.Term
	CurrentConfiguration() driverpb.Configuration

	LogLastIndex() driverpb.Index
	LogLastTerm() driverpb.Term

	// StartReadBarrier begins a linearizable read barrier on behalf of
	// from (the caller's own id for a local read, or a remote follower's
	// id for an RPC-served one). Returns ErrNotLeader if not leader.
	StartReadBarrier(from driverpb.ServerID) (ReadBarrierResult, error)

	// ApplySnapshot offers snp to the FSM as either locally taken
	// (local=true) or received from a peer (local=false), with trailing
	// entries to retain after the corresponding truncation. Returns false
	// if the FSM has already accepted a later snapshot.
	ApplySnapshot(snp driverpb.SnapshotDescriptor, trailing uint64, local bool) bool

	// TransferLeadership asks the FSM to hand off leadership within
	// timeout.
	TransferLeadership(timeout time.Duration) error

	Stop()
	Tick()
	ElapseElection()
	WaitUntilCandidate(ctx context.Context) error
	WaitElectionDone(ctx context.Context) error
	WaitLogIndexTerm(ctx context.Context, index driverpb.Index, term driverpb.Term) error
}

// FailureDetector is shared between the driver and the FSM.
type FailureDetector interface {
	IsAlive(id driverpb.ServerID) bool
}
