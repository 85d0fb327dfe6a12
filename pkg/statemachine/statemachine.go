// Package statemachine defines the driver's contract with the caller's
// application state machine: the thing that actually applies committed
// commands and owns its own point-in-time snapshots, identified by opaque
// ids it mints itself.
package statemachine

import (
	"context"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

// StateMachine applies committed commands in strict index order and owns
// the storage of its own point-in-time snapshots, keyed by opaque id.
//
// TakeSnapshot/LoadSnapshot also return/accept a transferable byte image;
// LoadSnapshot reconstructs the receiving replica's own id from those
// bytes alone. The driver does not retain the image of a locally taken
// snapshot: only its descriptor goes to the FSM, and the driver does not
// place it in InstallSnapshotRequest.Data itself.
type StateMachine interface {
	// Apply applies command, committed at index, and returns an opaque
	// result. The driver discards that result; a waiting Submit caller
	// receives a nil value.
	Apply(ctx context.Context, index driverpb.Index, command []byte) (interface{}, error)

	// Read services a linearizable read of query against the state as of
	// the most recent Apply. The driver never calls Read; a caller invokes
	// it after its own Driver.ReadBarrier returns.
	Read(ctx context.Context, query []byte) (interface{}, error)

	// TakeSnapshot captures the current state, returning an id the state
	// machine can later LoadSnapshot or DiscardSnapshot, plus the
	// transferable image of that snapshot.
	TakeSnapshot(ctx context.Context) (id [16]byte, image []byte, err error)

	// LoadSnapshot replaces the current state with the one encoded in
	// image, received from a peer via transport rather than taken
	// locally, and returns the id it should be known by locally from now
	// on (so later DiscardSnapshot calls can name it).
	LoadSnapshot(ctx context.Context, image []byte) (id [16]byte, err error)

	// DiscardSnapshot releases any resources held for a previously taken
	// or loaded snapshot id, once a newer snapshot supersedes it.
	DiscardSnapshot(ctx context.Context, id [16]byte)
}
