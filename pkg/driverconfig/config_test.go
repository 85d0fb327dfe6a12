package driverconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadFileAppliesOverridesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raftdriverd.toml")
	writeFile(t, path, `
id = "not-a-real-uuid"
max_log_size = 5000
enable_pre_voting = true
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "not-a-real-uuid", cfg.ID)
	require.EqualValues(t, 5000, cfg.MaxLogSize)
	require.True(t, cfg.EnablePreVoting)
	// Untouched fields keep Default's values.
	require.Equal(t, "raftdriver-data", cfg.DataDir)
	require.Equal(t, 10, cfg.ApplierQueueCapacity)
}

func TestLoadFileEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFileRejectsMalformedToml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	writeFile(t, path, `this is not = [valid toml`)

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestBindFlagsOverridesFileValue(t *testing.T) {
	cfg := Default()
	cfg.MaxLogSize = 100

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &cfg)
	require.NoError(t, fs.Parse([]string{"--max-log-size=999", "--stepdown-default-timeout=2s"}))

	require.EqualValues(t, 999, cfg.MaxLogSize)
	require.Equal(t, 2*time.Second, cfg.StepdownDefaultTimeout)
}

func TestFileConfigServerIDRejectsEmpty(t *testing.T) {
	cfg := Default()
	_, err := cfg.ServerID()
	require.Error(t, err)
}

func TestFileConfigServerIDParsesValidUUID(t *testing.T) {
	cfg := Default()
	cfg.ID = "3b3e1c2e-8c1a-4e7e-9c3e-1e2e3e4e5e6e"
	id, err := cfg.ServerID()
	require.NoError(t, err)
	require.Equal(t, cfg.ID, id.String())
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
