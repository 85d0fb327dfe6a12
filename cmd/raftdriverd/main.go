// Command raftdriverd is a minimal single-replica wiring example: it loads
// a driverconfig.FileConfig, constructs the four collaborators a
// driver.Driver needs, and starts it. It exists to exercise
// pkg/driverconfig end to end and to give a reader one concrete "how does
// this all get wired together" example; it is not a deployable cluster
// member, since this module's FSM contract has no real Raft implementation
// behind it (see DESIGN.md) — only fsmtest's scripted fake, which is what
// this binary uses.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cockroachdb/raftdriver/pkg/driver"
	"github.com/cockroachdb/raftdriver/pkg/driverconfig"
	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/fsm/fsmtest"
	"github.com/cockroachdb/raftdriver/pkg/logutil"
	"github.com/cockroachdb/raftdriver/pkg/metric"
	"github.com/cockroachdb/raftdriver/pkg/statemachine/memkv"
	"github.com/cockroachdb/raftdriver/pkg/storage"
	"github.com/cockroachdb/raftdriver/pkg/stop"
	"github.com/cockroachdb/raftdriver/pkg/transport/local"
)

func main() {
	if err := run(); err != nil {
		logutil.Errorf(context.Background(), "raftdriverd: %v", err)
		os.Exit(1)
	}
}

func run() error {
	var configFile string
	fs := pflag.NewFlagSet("raftdriverd", pflag.ExitOnError)
	fs.StringVar(&configFile, "config", "", "path to a TOML config file")

	cfg, err := driverconfig.LoadFile(firstPass(fs, configFile))
	if err != nil {
		return err
	}
	driverconfig.BindFlags(fs, &cfg)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	id, err := cfg.ServerID()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return err
	}

	stopper := stop.NewStopper()
	network := local.NewNetwork(stopper)
	tr := network.Register(id, nil)

	registry := metric.NewRegistry()
	fsm := fsmtest.New(id, driverpb.Configuration{Voters: []driverpb.ServerID{id}}, true)

	drv, err := driver.New(driver.Config{
		ID:                     id,
		FSM:                    fsm,
		Storage:                store,
		Transport:              tr,
		StateMachine:           memkv.New(),
		Stopper:                stopper,
		Registry:               registry,
		MaxLogSize:             cfg.MaxLogSize,
		SnapshotThreshold:      cfg.SnapshotThreshold,
		SnapshotTrailing:       cfg.SnapshotTrailing,
		ApplierQueueCapacity:   cfg.ApplierQueueCapacity,
		AppendRequestThreshold: cfg.AppendRequestThreshold,
		EnablePreVoting:        cfg.EnablePreVoting,
		StepdownDefaultTimeout: cfg.StepdownDefaultTimeout,
	})
	if err != nil {
		return err
	}
	network.Register(id, drv)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := drv.Start(ctx); err != nil {
		return err
	}
	logutil.Infof(context.Background(), "raftdriverd: replica %s listening (in-process transport only)", id)

	<-ctx.Done()
	drv.Stop(context.Background())
	return nil
}

// firstPass parses only --config out of os.Args, ahead of the real
// fs.Parse call, so the TOML file's values can seed the defaults that the
// full flag set's own Parse then overrides. Mirrors the teacher's
// two-pass flag handling for --config in its standalone CLI commands.
func firstPass(fs *pflag.FlagSet, fallback string) string {
	pre := pflag.NewFlagSet("raftdriverd-pre", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	var path string
	pre.StringVar(&path, "config", fallback, "")
	_ = pre.Parse(os.Args[1:])
	return path
}
