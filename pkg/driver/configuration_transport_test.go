package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/fsm/fsmtest"
	"github.com/cockroachdb/raftdriver/pkg/statemachine/memkv"
	"github.com/cockroachdb/raftdriver/pkg/storage"
	"github.com/cockroachdb/raftdriver/pkg/stop"
	"github.com/cockroachdb/raftdriver/pkg/syncutil"
)

// recordingTransport implements transport.Transport, appending one string
// per call to a shared, mutex-guarded log so a test can assert call order.
type recordingTransport struct {
	mu  syncutil.Mutex
	log []string
}

func (r *recordingTransport) record(s string) {
	r.mu.Lock()
	r.log = append(r.log, s)
	r.mu.Unlock()
}

func (r *recordingTransport) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recordingTransport) Send(_ context.Context, msg driverpb.OutgoingMessage) {
	r.record("send:" + msg.To.String())
}

func (r *recordingTransport) SendReadBarrier(context.Context, driverpb.ServerID, driverpb.ReadBarrierRequest) (driverpb.ReadBarrierReply, error) {
	return driverpb.ReadBarrierReply{}, nil
}

func (r *recordingTransport) SendSnapshot(context.Context, driverpb.ServerID, driverpb.InstallSnapshotRequest) (driverpb.InstallSnapshotResponse, error) {
	return driverpb.InstallSnapshotResponse{}, nil
}

func (r *recordingTransport) AddServer(_ context.Context, id driverpb.ServerID) error {
	r.record("add:" + id.String())
	return nil
}

func (r *recordingTransport) RemoveServer(_ context.Context, id driverpb.ServerID) error {
	r.record("remove:" + id.String())
	return nil
}

// TestApplyConfigurationDiffOrdersTransportCallsAroundSends asserts spec
// §8's S5 transport-ordering property: add_server(D) happens before the
// first message this batch sends to D, and remove_server(C) happens only
// after the last message this batch sends to C.
//
// The two messages here use a fire-and-forget variant (AppendEntriesResp)
// rather than AppendEntries so dispatch happens synchronously on this
// goroutine via Transport.Send directly, instead of being handed to a
// perDestChain's own worker goroutine — keeping the call order this test
// asserts deterministic rather than dependent on that worker's scheduling.
func TestApplyConfigurationDiffOrdersTransportCallsAroundSends(t *testing.T) {
	id := driverpb.NewServerID()
	joiner := driverpb.NewServerID()
	leaver := driverpb.NewServerID()

	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	stopper := stop.NewStopper()
	t.Cleanup(func() { stopper.Stop(context.Background()) })

	f := fsmtest.New(id, driverpb.Configuration{Voters: []driverpb.ServerID{id}}, true)
	t.Cleanup(f.Stop)

	rec := &recordingTransport{}
	drv, err := New(Config{
		ID:           id,
		FSM:          f,
		Storage:      store,
		Transport:    rec,
		StateMachine: memkv.New(),
		Stopper:      stopper,
		MaxLogSize:   1000,
	})
	require.NoError(t, err)

	// Seed the membership the driver believes is current: id and leaver.
	// The batch below moves it to id and joiner.
	drv.rpcConfiguration[id] = struct{}{}
	drv.rpcConfiguration[leaver] = struct{}{}

	batch := driverpb.OutputBatch{
		Configuration: &driverpb.Configuration{Voters: []driverpb.ServerID{id, joiner}},
		Messages: []driverpb.OutgoingMessage{
			{To: joiner, AppendEntriesResp: &driverpb.AppendEntriesResponse{Term: 1}},
			{To: leaver, AppendEntriesResp: &driverpb.AppendEntriesResponse{Term: 1}},
		},
	}
	drv.processBatch(context.Background(), batch)

	calls := rec.calls()
	require.Equal(t, []string{
		"add:" + joiner.String(),
		"send:" + joiner.String(),
		"send:" + leaver.String(),
		"remove:" + leaver.String(),
	}, calls)
}
