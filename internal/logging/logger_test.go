package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogfNoopWhenDebugModeDisabled(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, false)
	l.Logf(CategoryOrchestrator, "phase %s starting", "requirements")

	_, err := os.Stat(filepath.Join(dir, "log", "orchestrator.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestLogfNoopOnNilLogger(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Logf(CategoryRunner, "never written") })
}

func TestLogfWritesCategoryFileWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, true)
	l.Logf(CategoryFixup, "applied %d targets", 3)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, "log", "fixup.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[fixup] applied 3 targets")
}

func TestLogfSeparatesCategoriesIntoDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, true)
	l.Logf(CategoryLock, "acquired")
	l.Logf(CategoryPacket, "built")
	require.NoError(t, l.Close())

	lockData, err := os.ReadFile(filepath.Join(dir, "log", "lock.log"))
	require.NoError(t, err)
	assert.Contains(t, string(lockData), "acquired")
	assert.NotContains(t, string(lockData), "built")

	packetData, err := os.ReadFile(filepath.Join(dir, "log", "packet.log"))
	require.NoError(t, err)
	assert.Contains(t, string(packetData), "built")
}

func TestCloseOnNeverEnabledLoggerIsNoop(t *testing.T) {
	var l *Logger
	assert.NoError(t, l.Close())

	dir := t.TempDir()
	disabled := New(dir, false)
	assert.NoError(t, disabled.Close())
}
