package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/fsm/fsmtest"
	"github.com/cockroachdb/raftdriver/pkg/statemachine/memkv"
	"github.com/cockroachdb/raftdriver/pkg/storage"
	"github.com/cockroachdb/raftdriver/pkg/stop"
	"github.com/cockroachdb/raftdriver/pkg/transport/local"
)

func validConfig(t *testing.T) Config {
	id := driverpb.NewServerID()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	stopper := stop.NewStopper()
	t.Cleanup(func() { stopper.Stop(context.Background()) })
	network := local.NewNetwork(stopper)

	return Config{
		ID:           id,
		FSM:          fsmtest.New(id, driverpb.Configuration{Voters: []driverpb.ServerID{id}}, true),
		Storage:      store,
		Transport:    network.Register(id, nil),
		StateMachine: memkv.New(),
		Stopper:      stopper,
		MaxLogSize:   1000,
	}
}

func TestConfigValidateRejectsZeroID(t *testing.T) {
	cfg := validConfig(t)
	cfg.ID = driverpb.ServerID{}
	require.ErrorIs(t, cfg.validate(), ErrConfigError)
}

func TestConfigValidateRejectsMissingCollaborators(t *testing.T) {
	cfg := validConfig(t)
	cfg.FSM = nil
	require.ErrorIs(t, cfg.validate(), ErrConfigError)
}

func TestConfigValidateRejectsNilStopper(t *testing.T) {
	cfg := validConfig(t)
	cfg.Stopper = nil
	require.ErrorIs(t, cfg.validate(), ErrConfigError)
}

func TestConfigValidateRejectsSnapshotThresholdAboveMaxLogSize(t *testing.T) {
	cfg := validConfig(t)
	cfg.MaxLogSize = 10
	cfg.SnapshotThreshold = 11
	require.ErrorIs(t, cfg.validate(), ErrConfigError)
}

func TestConfigValidateFillsDefaults(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.validate())
	require.Equal(t, 10, cfg.ApplierQueueCapacity)
	require.Equal(t, 5*time.Second, cfg.StepdownDefaultTimeout)
}

func TestConfigValidateKeepsExplicitOverrides(t *testing.T) {
	cfg := validConfig(t)
	cfg.ApplierQueueCapacity = 42
	cfg.StepdownDefaultTimeout = time.Minute
	require.NoError(t, cfg.validate())
	require.Equal(t, 42, cfg.ApplierQueueCapacity)
	require.Equal(t, time.Minute, cfg.StepdownDefaultTimeout)
}
