// Package local provides an in-process transport.Transport, a registry of
// InboundHandlers reachable by ServerID within one process. It plays the
// role the teacher's various nop/fake transports play in tests (e.g.
// rafthttp's nopTransporter in the retrieved etcd-style pack), but stays
// real enough to drive the full multi-driver scenarios: every send is
// delivered on its own goroutine tracked by a pkg/stop.Stopper so that a
// slow or blocked peer can never wedge the sender.
package local

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/stop"
	"github.com/cockroachdb/raftdriver/pkg/syncutil"
	"github.com/cockroachdb/raftdriver/pkg/transport"
)

// ErrNoRoute is returned when a message is sent to a ServerID with no
// registered handler.
var ErrNoRoute = errors.New("local: no route to destination")

// Network is a shared registry every Transport in a test cluster
// registers into and sends through.
type Network struct {
	stopper *stop.Stopper

	mu struct {
		syncutil.Mutex
		handlers map[driverpb.ServerID]transport.InboundHandler
		// partitioned marks destinations that silently drop everything,
		// used by tests exercising the leader-loses-quorum scenario.
		partitioned map[driverpb.ServerID]bool
	}
}

// NewNetwork returns an empty Network. stopper governs the lifetime of the
// goroutines used to deliver messages asynchronously.
func NewNetwork(stopper *stop.Stopper) *Network {
	n := &Network{stopper: stopper}
	n.mu.handlers = make(map[driverpb.ServerID]transport.InboundHandler)
	n.mu.partitioned = make(map[driverpb.ServerID]bool)
	return n
}

// Register makes id reachable at handler and returns a Transport bound to
// id's own identity (used as the "from" of messages it sends).
func (n *Network) Register(id driverpb.ServerID, handler transport.InboundHandler) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mu.handlers[id] = handler
	return &Transport{network: n, self: id}
}

// Unregister removes id, simulating a permanently departed peer.
func (n *Network) Unregister(id driverpb.ServerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.mu.handlers, id)
}

// SetPartitioned marks id as unreachable (Send silently drops, RPCs fail)
// without removing its registration, modeling a transient network
// partition rather than a permanent departure.
func (n *Network) SetPartitioned(id driverpb.ServerID, partitioned bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if partitioned {
		n.mu.partitioned[id] = true
	} else {
		delete(n.mu.partitioned, id)
	}
}

func (n *Network) handlerFor(id driverpb.ServerID) (transport.InboundHandler, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.mu.partitioned[id] {
		return nil, ErrNoRoute
	}
	h, ok := n.mu.handlers[id]
	if !ok {
		return nil, ErrNoRoute
	}
	return h, nil
}

// Transport is a Network-backed transport.Transport for a single replica.
type Transport struct {
	network *Network
	self    driverpb.ServerID
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Send(ctx context.Context, msg driverpb.OutgoingMessage) {
	h, err := t.network.handlerFor(msg.To)
	if err != nil {
		return
	}
	from := t.self
	_ = t.network.stopper.RunAsyncTask(ctx, "local-transport-send", func(ctx context.Context) {
		h.HandleMessage(ctx, from, msg)
	})
}

func (t *Transport) SendReadBarrier(ctx context.Context, leader driverpb.ServerID, req driverpb.ReadBarrierRequest) (driverpb.ReadBarrierReply, error) {
	h, err := t.network.handlerFor(leader)
	if err != nil {
		return driverpb.ReadBarrierReply{}, err
	}
	return h.HandleReadBarrier(ctx, req)
}

func (t *Transport) SendSnapshot(ctx context.Context, peer driverpb.ServerID, req driverpb.InstallSnapshotRequest) (driverpb.InstallSnapshotResponse, error) {
	h, err := t.network.handlerFor(peer)
	if err != nil {
		return driverpb.InstallSnapshotResponse{}, err
	}
	return h.HandleSnapshot(ctx, t.self, req)
}

// AddServer is a no-op: this in-process network already resolves
// destinations by ServerID through Network.Register, with no separate
// address to learn. A real (non-loopback) transport.Transport
// implementation would dial or otherwise resolve id here.
func (t *Transport) AddServer(ctx context.Context, id driverpb.ServerID) error {
	return nil
}

// RemoveServer is a no-op for the same reason: there is no per-peer
// connection or address state for this transport to release.
func (t *Transport) RemoveServer(ctx context.Context, id driverpb.ServerID) error {
	return nil
}
