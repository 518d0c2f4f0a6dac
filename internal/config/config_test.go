package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "claude", cfg.Provider.Executable)
	assert.Equal(t, 65536, cfg.Packet.MaxBytes)
	assert.Equal(t, 1200, cfg.Packet.MaxLines)
	assert.Equal(t, 600, cfg.Runner.TimeoutSeconds)
	assert.False(t, cfg.StrictValidation)
	assert.False(t, cfg.StrictDrift)
}

func TestConfigSaveLoadRoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Provider.Executable = "codex"
	cfg.Provider.Model = "gpt-5-codex"

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "codex", loaded.Provider.Executable)
	assert.Equal(t, "gpt-5-codex", loaded.Provider.Model)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.Provider.Executable)
}

func TestRunnerTimeoutFallsBackToSecondsWhenUnparsable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.Timeout = "not-a-duration"
	cfg.Runner.TimeoutSeconds = 42
	assert.Equal(t, 42, int(cfg.RunnerTimeout().Seconds()))
}

func TestLockTTLFallsBackToTwoHoursWhenUnparsable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lock.TTL = ""
	assert.Equal(t, 2*60*60.0, cfg.LockTTL().Seconds())
}

func TestValidateRejectsEmptyProviderExecutable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.Executable = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositivePacketBudgets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Packet.MaxBytes = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}
