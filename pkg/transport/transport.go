// Package transport defines how the driver exchanges messages with peer
// replicas, grounded on the teacher's separation between pkg/rpc (the
// transport) and the consumer that steps received messages into its state
// machine (pkg/kv/kvserver's RaftTransport consumer).
package transport

import (
	"context"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

// Transport sends outbound protocol messages and read-barrier RPCs to
// peers. Implementations must not block Send indefinitely on a slow or
// unreachable peer; the driver relies on fire-and-forget semantics for
// protocol messages (a dropped message is just a retry away, per Raft's
// own retry logic) and a just bounded wait for read-barrier RPCs.
type Transport interface {
	// Send delivers msg to msg.To. Errors are not returned to the caller,
	// so the driver neither sees nor logs them, matching the teacher's
	// treatment of raft transport sends as best-effort.
	Send(ctx context.Context, msg driverpb.OutgoingMessage)

	// SendReadBarrier issues a read-barrier RPC to leader and returns its
	// reply, or an error if the RPC could not be completed.
	SendReadBarrier(ctx context.Context, leader driverpb.ServerID, req driverpb.ReadBarrierRequest) (driverpb.ReadBarrierReply, error)

	// SendSnapshot streams data to peer as an InstallSnapshot RPC,
	// returning once the peer has acknowledged or ctx is done.
	SendSnapshot(ctx context.Context, peer driverpb.ServerID, req driverpb.InstallSnapshotRequest) (driverpb.InstallSnapshotResponse, error)

	// AddServer tells the transport a new configuration member is
	// reachable at id. The driver calls this before the first Send to id
	// following the configuration change that added it, so an
	// implementation backed by a real network can resolve id's address
	// before anything is sent there.
	AddServer(ctx context.Context, id driverpb.ServerID) error

	// RemoveServer tells the transport a configuration member has left
	// and releases whatever resources it held for id. The driver calls
	// this only after dispatching every message addressed to id from the
	// batch that removed it, so an implementation can safely tear down
	// id's connection/address state without racing its own last send.
	RemoveServer(ctx context.Context, id driverpb.ServerID) error
}

// InboundHandler is the driver-side sink a Transport delivers inbound
// traffic to. A Transport implementation calls exactly one of these per
// received message/RPC.
type InboundHandler interface {
	HandleMessage(ctx context.Context, from driverpb.ServerID, msg driverpb.OutgoingMessage)
	HandleReadBarrier(ctx context.Context, req driverpb.ReadBarrierRequest) (driverpb.ReadBarrierReply, error)
	HandleSnapshot(ctx context.Context, from driverpb.ServerID, req driverpb.InstallSnapshotRequest) (driverpb.InstallSnapshotResponse, error)
}
