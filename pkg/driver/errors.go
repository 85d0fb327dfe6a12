package driver

import (
	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

// Sentinel outcomes surfaced to callers of Submit, ReadBarrier, and
// Stepdown, grounded on the teacher's habit (pkg/kv/kvserver) of exposing
// a small fixed set of sentinel errors checked with errors.Is, rather than
// error codes or typed exceptions.
var (
	// ErrDroppedEntry means a later leader overwrote the submitted entry's
	// log position before it committed.
	ErrDroppedEntry = errors.New("driver: entry dropped by a later leader")

	// ErrCommitStatusUnknown means this replica can no longer determine
	// whether the entry committed (it left the configuration while
	// non-leader, or a remote snapshot leapt over the entry's index).
	ErrCommitStatusUnknown = errors.New("driver: commit status unknown")

	// ErrTimeout means a Stepdown failed within its budget.
	ErrTimeout = errors.New("driver: operation timed out")

	// ErrStopped means the driver was aborted while the operation was
	// outstanding.
	ErrStopped = errors.New("driver: stopped")

	// ErrConfigError means the Config passed to New was invalid.
	ErrConfigError = errors.New("driver: invalid configuration")

	// ErrSnapshotApplicationInProgress is a protocol invariant failure: a
	// second snapshot arrived from the same sender before the first
	// finished applying.
	ErrSnapshotApplicationInProgress = errors.New("driver: snapshot application already in progress for this sender")

	// ErrStepdownInProgress means a Stepdown was already in flight when a
	// second one was requested.
	ErrStepdownInProgress = errors.New("driver: stepdown already in progress")
)

// NotLeaderError is returned when an operation requires leadership. HasHint
// reports whether Hint names a believed leader.
type NotLeaderError struct {
	Hint    driverpb.ServerID
	HasHint bool
}

func (e *NotLeaderError) Error() string {
	if !e.HasHint {
		return "driver: not leader (no known leader)"
	}
	return "driver: not leader (believed leader: " + e.Hint.String() + ")"
}

// IsNotLeader reports whether err is (or wraps) a *NotLeaderError.
func IsNotLeader(err error) bool {
	var nl *NotLeaderError
	return errors.As(err, &nl)
}
