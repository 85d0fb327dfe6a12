package driverpb

// Inbound/outbound message variants. One struct per variant; outbound
// protocol messages travel in an OutgoingMessage envelope through the
// transport's single Send method (see pkg/transport).

type AppendEntriesRequest struct {
	Term         Term
	Leader       ServerID
	PrevLogIndex Index
	PrevLogTerm  Term
	Entries      []LogEntry
	LeaderCommit Index
}

type AppendEntriesResponse struct {
	Term       Term
	Success    bool
	MatchIndex Index
}

type RequestVoteRequest struct {
	Term         Term
	Candidate    ServerID
	LastLogIndex Index
	LastLogTerm  Term
	PreVote      bool
}

type RequestVoteResponse struct {
	Term        Term
	VoteGranted bool
	PreVote     bool
}

type InstallSnapshotRequest struct {
	Term     Term
	Leader   ServerID
	Snapshot SnapshotDescriptor
	Data     []byte
}

type InstallSnapshotResponse struct {
	Term    Term
	Success bool
}

type TimeoutNowRequest struct {
	Term   Term
	Leader ServerID
}

// OutgoingMessage is exactly one non-nil variant bound for To.
type OutgoingMessage struct {
	To                 ServerID
	AppendEntries      *AppendEntriesRequest
	AppendEntriesResp  *AppendEntriesResponse
	RequestVote        *RequestVoteRequest
	RequestVoteResp    *RequestVoteResponse
	InstallSnapshotReq *InstallSnapshotRequest
	TimeoutNow         *TimeoutNowRequest
}

// ReadBarrierKind discriminates the three possible outcomes of a read
// barrier RPC against a believed leader.
type ReadBarrierKind int

const (
	// ReadBarrierIndex carries a commit-index floor (the "read index").
	ReadBarrierIndex ReadBarrierKind = iota
	// ReadBarrierRedirect points the caller at another believed leader.
	ReadBarrierRedirect
	// ReadBarrierNotReady means the leader has no committed entry in its
	// current term yet.
	ReadBarrierNotReady
)

type ReadBarrierRequest struct {
	From ServerID
}

type ReadBarrierReply struct {
	Kind      ReadBarrierKind
	ReadIndex Index
	Leader    ServerID // valid iff Kind == ReadBarrierRedirect
}

// TermVote is a (term, vote) pair the FSM wants persisted atomically.
type TermVote struct {
	Term Term
	Vote ServerID
}

// SnapshotOutput is a snapshot descriptor emitted by the FSM for
// persistence, paired with provenance the driver needs to decide how to
// handle it.
type SnapshotOutput struct {
	Descriptor SnapshotDescriptor
	// Local is true when this replica generated the snapshot itself
	// (Driver.maybeTakeLocalSnapshot); false when it arrived via
	// InstallSnapshot from a leader.
	Local bool
	// PrevID is the previous snapshot id the application state machine
	// should drop, or the zero UUID if there was none.
	PrevID [16]byte
}

// OutputBatch is one unit of work the FSM hands to the I/O activity. Any
// field may be absent (nil/zero/empty); the I/O activity processes the
// present fields in a fixed order (see Driver.processBatch).
type OutputBatch struct {
	TermVote      *TermVote
	Snapshot      *SnapshotOutput
	Entries       []LogEntry
	Configuration *Configuration
	Messages      []OutgoingMessage
	Committed     []LogEntry

	HasMaxReadID        bool
	MaxReadIDWithQuorum uint64

	// LostLeadership is the edge "was leader, now isn't" within this batch.
	LostLeadership bool
	// SelfRemoved is only meaningful alongside LostLeadership: this
	// replica is no longer a voter in the current configuration either.
	SelfRemoved bool
	// TransferAborted is only meaningful when the FSM is still leader: an
	// in-progress leadership transfer gave up.
	TransferAborted bool

	HasLeader     bool
	CurrentLeader ServerID
}
