package driver

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/fsm"
	"github.com/cockroachdb/raftdriver/pkg/metric"
	"github.com/cockroachdb/raftdriver/pkg/statemachine"
	"github.com/cockroachdb/raftdriver/pkg/storage"
	"github.com/cockroachdb/raftdriver/pkg/stop"
	"github.com/cockroachdb/raftdriver/pkg/transport"
)

// Config holds the tunables and injected collaborators a Driver is built
// from. All four collaborators (FSM, Persistence, Transport, StateMachine)
// are supplied by the caller; the Driver never constructs them itself.
type Config struct {
	ID   driverpb.ServerID
	FSM  fsm.FSM
	Storage    storage.Persistence
	Transport  transport.Transport
	StateMachine statemachine.StateMachine
	Stopper    *stop.Stopper
	Registry   *metric.Registry

	// AppendRequestThreshold batches append-request sends per destination
	// (currently informational: the fan-in chain in perdest_chain.go already
	// serializes per destination; a real batching FSM would consult this).
	AppendRequestThreshold int
	// MaxLogSize bounds the in-memory unsnapshotted log; Submit's
	// admission semaphore is sized from this.
	MaxLogSize int64
	// EnablePreVoting is carried for callers constructing the FSM; the
	// driver itself neither interprets nor validates it (kept here purely
	// for config-file symmetry with the FSM's own settings).
	EnablePreVoting bool
	// SnapshotThreshold is how many applied entries since the last local
	// snapshot trigger another one.
	SnapshotThreshold int64
	// SnapshotTrailing is how many log entries to retain after a local
	// snapshot (so a slightly-behind follower can still catch up via the
	// log instead of a full snapshot transfer).
	SnapshotTrailing uint64

	// ApplierQueueCapacity bounds the applier channel (spec §4.2 step 7);
	// defaults to 10 if zero, matching the spec's stated example bound.
	ApplierQueueCapacity int

	// StepdownDefaultTimeout is used by Stepdown callers that pass zero.
	StepdownDefaultTimeout time.Duration
}

func (c *Config) validate() error {
	if c.ID.IsZero() {
		return errors.Wrapf(ErrConfigError, "driver config: ID must be non-zero")
	}
	if c.FSM == nil || c.Storage == nil || c.Transport == nil || c.StateMachine == nil {
		return errors.Wrapf(ErrConfigError, "driver config: FSM, Storage, Transport, and StateMachine must all be set")
	}
	if c.Stopper == nil {
		return errors.Wrapf(ErrConfigError, "driver config: Stopper must be set")
	}
	if c.SnapshotThreshold > c.MaxLogSize {
		return errors.Wrapf(ErrConfigError, "driver config: snapshot_threshold (%d) must be <= max_log_size (%d)", c.SnapshotThreshold, c.MaxLogSize)
	}
	if c.ApplierQueueCapacity <= 0 {
		c.ApplierQueueCapacity = 10
	}
	if c.StepdownDefaultTimeout <= 0 {
		c.StepdownDefaultTimeout = 5 * time.Second
	}
	return nil
}
