package driver

import (
	"context"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/syncutil"
	"github.com/cockroachdb/raftdriver/pkg/transport"
)

var _ transport.InboundHandler = (*Driver)(nil)

// pendingImages stages incoming snapshot byte images between ApplySnapshot
// (called synchronously by the transport) and the applier activity, which
// loads them asynchronously once it reaches the corresponding descriptor
// in the applier channel (spec §4.3 "snapshot descriptor" path).
type pendingImages struct {
	mu     syncutil.Mutex
	byID   map[[16]byte][]byte
}

func newPendingImages() *pendingImages {
	return &pendingImages{byID: make(map[[16]byte][]byte)}
}

func (p *pendingImages) stage(id [16]byte, image []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[id] = image
}

func (p *pendingImages) take(id [16]byte) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	image, ok := p.byID[id]
	delete(p.byID, id)
	return image, ok
}

func (d *Driver) takePendingSnapshotImage(id [16]byte) ([]byte, bool) {
	return d.pendingImages.take(id)
}

// ApplySnapshot is spec §4.1's apply_snapshot(from, install_request),
// called by the transport on receipt of an InstallSnapshot RPC. It hands
// the snapshot to the FSM, then awaits completion of its application by
// the applier activity, enforcing at most one outstanding application per
// sender.
func (d *Driver) ApplySnapshot(ctx context.Context, from driverpb.ServerID, req driverpb.InstallSnapshotRequest) (driverpb.InstallSnapshotResponse, error) {
	d.incomingMu.Lock()
	if _, inProgress := d.incomingMu.bySender[from]; inProgress {
		d.incomingMu.Unlock()
		return driverpb.InstallSnapshotResponse{}, ErrSnapshotApplicationInProgress
	}
	app := &incomingSnapshotApplication{done: make(chan outcome, 1), id: req.Snapshot.ID}
	d.incomingMu.bySender[from] = app
	d.incomingMu.Unlock()

	d.pendingImages.stage(req.Snapshot.ID, req.Data)

	accepted := d.cfg.FSM.ApplySnapshot(req.Snapshot, 0, false)
	if !accepted {
		d.pendingImages.take(req.Snapshot.ID)
		d.clearIncoming(from)
		return driverpb.InstallSnapshotResponse{Term: d.cfg.FSM.CurrentTerm(), Success: false}, nil
	}

	select {
	case o := <-app.done:
		success := o.err == nil
		if !success {
			d.cfg.StateMachine.DiscardSnapshot(ctx, req.Snapshot.ID)
		}
		return driverpb.InstallSnapshotResponse{Term: d.cfg.FSM.CurrentTerm(), Success: success}, nil
	case <-ctx.Done():
		return driverpb.InstallSnapshotResponse{}, ctx.Err()
	case <-d.stopCh:
		d.clearIncoming(from)
		return driverpb.InstallSnapshotResponse{}, ErrStopped
	}
}

func (d *Driver) clearIncoming(from driverpb.ServerID) {
	d.incomingMu.Lock()
	delete(d.incomingMu.bySender, from)
	d.incomingMu.Unlock()
}

// resolveIncomingSnapshot is called by the applier activity once it has
// finished (or failed) loading the snapshot named by id, waking the
// ApplySnapshot caller blocked on app.done.
func (d *Driver) resolveIncomingSnapshot(id [16]byte, err error) {
	d.incomingMu.Lock()
	var sender driverpb.ServerID
	var app *incomingSnapshotApplication
	for s, a := range d.incomingMu.bySender {
		if a.id == id {
			sender, app = s, a
			break
		}
	}
	if app != nil {
		delete(d.incomingMu.bySender, sender)
	}
	d.incomingMu.Unlock()

	if app == nil {
		return
	}
	app.done <- outcome{err: err}
	close(app.done)
}

// HandleMessage implements transport.InboundHandler by stepping msg into
// the FSM.
func (d *Driver) HandleMessage(ctx context.Context, from driverpb.ServerID, msg driverpb.OutgoingMessage) {
	d.metrics.MessagesReceived.WithLabelValues(messageKind(msg), d.cfg.ID.String()).Inc()
	switch {
	case msg.AppendEntries != nil:
		d.cfg.FSM.StepAppendEntriesRequest(from, msg.AppendEntries)
	case msg.AppendEntriesResp != nil:
		d.cfg.FSM.StepAppendEntriesResponse(from, msg.AppendEntriesResp)
	case msg.RequestVote != nil:
		d.cfg.FSM.StepRequestVoteRequest(from, msg.RequestVote)
	case msg.RequestVoteResp != nil:
		d.cfg.FSM.StepRequestVoteResponse(from, msg.RequestVoteResp)
	case msg.TimeoutNow != nil:
		d.cfg.FSM.StepTimeoutNowRequest(from, msg.TimeoutNow)
	}
}

// HandleSnapshot implements transport.InboundHandler.
func (d *Driver) HandleSnapshot(ctx context.Context, from driverpb.ServerID, req driverpb.InstallSnapshotRequest) (driverpb.InstallSnapshotResponse, error) {
	return d.ApplySnapshot(ctx, from, req)
}
