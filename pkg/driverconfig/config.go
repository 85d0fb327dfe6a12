// Package driverconfig loads the tunables a cmd/raftdriverd-style binary
// hands to driver.Config from a TOML file with command-line overrides,
// grounded on the teacher's pkg/server/config.go's pattern of combining a
// base config struct with flag-parsed overrides (the teacher reaches for
// pflag plus a YAML/TOML file in several of its standalone CLI tools; this
// module follows suit with BurntSushi/toml since no YAML concern is
// exercised elsewhere in this repo).
package driverconfig

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

// FileConfig is the subset of driver.Config that is plausibly
// deployment-specific and worth externalizing into a config file plus
// flag overrides, rather than being wired up directly in code by the
// binary embedding the driver (the FSM, Storage, Transport, and
// StateMachine collaborators are always constructed in Go, never from a
// file).
type FileConfig struct {
	ID                     string        `toml:"id"`
	DataDir                string        `toml:"data_dir"`
	MaxLogSize             int64         `toml:"max_log_size"`
	SnapshotThreshold      int64         `toml:"snapshot_threshold"`
	SnapshotTrailing       uint64        `toml:"snapshot_trailing"`
	ApplierQueueCapacity   int           `toml:"applier_queue_capacity"`
	AppendRequestThreshold int           `toml:"append_request_threshold"`
	EnablePreVoting        bool          `toml:"enable_pre_voting"`
	StepdownDefaultTimeout time.Duration `toml:"stepdown_default_timeout"`
}

// Default returns a FileConfig seeded with defaults, so a config file only
// needs to mention what it wants to override. Of these, driver.Config fills
// in only ApplierQueueCapacity and StepdownDefaultTimeout itself when left
// zero (see Config.validate).
func Default() FileConfig {
	return FileConfig{
		DataDir:                "raftdriver-data",
		MaxLogSize:             1 << 20,
		SnapshotThreshold:      1 << 16,
		SnapshotTrailing:       256,
		ApplierQueueCapacity:   10,
		StepdownDefaultTimeout: 5 * time.Second,
	}
}

// LoadFile decodes path as TOML into a FileConfig seeded with Default.
func LoadFile(path string) (FileConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, errors.Wrapf(err, "reading config file %s", path)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return FileConfig{}, errors.Wrapf(err, "parsing config file %s", path)
	}
	return cfg, nil
}

// BindFlags registers fs flags that, once fs.Parse has run, override
// whatever LoadFile produced. Grounded on the teacher's habit (pkg/cli/flags.go)
// of binding pflag.FlagSet variables directly into the struct fields they
// control.
func BindFlags(fs *pflag.FlagSet, cfg *FileConfig) {
	fs.StringVar(&cfg.ID, "id", cfg.ID, "this replica's server id (opaque string)")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for persisted log/snapshot state")
	fs.Int64Var(&cfg.MaxLogSize, "max-log-size", cfg.MaxLogSize, "bound on the in-memory unsnapshotted log")
	fs.Int64Var(&cfg.SnapshotThreshold, "snapshot-threshold", cfg.SnapshotThreshold, "applied entries between local snapshots")
	fs.Uint64Var(&cfg.SnapshotTrailing, "snapshot-trailing", cfg.SnapshotTrailing, "log entries retained after a local snapshot")
	fs.IntVar(&cfg.ApplierQueueCapacity, "applier-queue-capacity", cfg.ApplierQueueCapacity, "bound on the applier channel")
	fs.IntVar(&cfg.AppendRequestThreshold, "append-request-threshold", cfg.AppendRequestThreshold, "informational append-request batching threshold")
	fs.BoolVar(&cfg.EnablePreVoting, "enable-pre-voting", cfg.EnablePreVoting, "passed through to driver.Config.EnablePreVoting")
	fs.DurationVar(&cfg.StepdownDefaultTimeout, "stepdown-default-timeout", cfg.StepdownDefaultTimeout, "default Stepdown timeout when callers pass zero")
}

// ServerID parses cfg.ID with driverpb.ParseServerID. Empty input is
// rejected; the caller is expected to have required --id or id= in the
// file.
func (cfg FileConfig) ServerID() (driverpb.ServerID, error) {
	if cfg.ID == "" {
		return driverpb.ServerID{}, errors.New("driverconfig: id must be set")
	}
	return driverpb.ParseServerID(cfg.ID)
}
