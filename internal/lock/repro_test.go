package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadReproPinMissingIsNotFound(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := ReadReproPin(dir, "spec-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteThenReadReproPinRoundTrips(t *testing.T) {
	dir := t.TempDir()
	pin := ReproPin{Provider: "claude", Model: "sonnet", SchemaVersion: "1"}
	require.NoError(t, WriteReproPin(dir, "spec-1", pin))

	got, ok, err := ReadReproPin(dir, "spec-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pin, got)
}

func TestCheckDriftDetectsChangedFields(t *testing.T) {
	pinned := ReproPin{Provider: "claude", Model: "sonnet", SchemaVersion: "1"}
	current := ReproPin{Provider: "claude", Model: "opus", SchemaVersion: "1"}

	drifts := CheckDrift(pinned, current)
	require.Len(t, drifts, 1)
	assert.Equal(t, "model", drifts[0].Field)
	assert.Equal(t, "sonnet", drifts[0].Pinned)
	assert.Equal(t, "opus", drifts[0].Current)
}

func TestCheckDriftIgnoresUnpinnedFields(t *testing.T) {
	pinned := ReproPin{Provider: "claude", SchemaVersion: "1"}
	current := ReproPin{Provider: "claude", Model: "opus", SchemaVersion: "1"}

	assert.Empty(t, CheckDrift(pinned, current))
}

func TestCheckDriftNoneWhenIdentical(t *testing.T) {
	pin := ReproPin{Provider: "claude", Model: "sonnet", SchemaVersion: "1"}
	assert.Empty(t, CheckDrift(pin, pin))
}
