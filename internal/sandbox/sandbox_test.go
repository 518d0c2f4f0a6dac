package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T) (*Sandbox, string) {
	t.Helper()
	dir := t.TempDir()
	sb, err := New(dir, Options{})
	require.NoError(t, err)
	return sb, dir
}

func TestResolveWithinRoot(t *testing.T) {
	sb, dir := newTestSandbox(t)
	resolved, err := sb.Resolve("sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub/file.txt"), resolved)
}

func TestResolveRejectsTraversal(t *testing.T) {
	sb, _ := newTestSandbox(t)
	_, err := sb.Resolve("../../etc/passwd")
	require.Error(t, err)
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, KindEscape, sErr.Kind)
}

func TestResolveRejectsAbsoluteEscape(t *testing.T) {
	sb, _ := newTestSandbox(t)
	_, err := sb.Resolve("/etc/passwd")
	require.Error(t, err)
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, KindEscape, sErr.Kind)
}

func TestResolveRejectsSymlinkByDefault(t *testing.T) {
	sb, dir := newTestSandbox(t)
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("secret"), 0o644))

	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	_, err := sb.Resolve("link.txt")
	require.Error(t, err)
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, KindSymlink, sErr.Kind)
}

func TestResolveAllowsSymlinkWithinRoot(t *testing.T) {
	dir := t.TempDir()
	sb, err := New(dir, Options{AllowSymlinks: true})
	require.NoError(t, err)

	target := filepath.Join(dir, "real.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	resolved, err := sb.Resolve("link.txt")
	require.NoError(t, err)
	assert.Equal(t, target, resolved)
}

func TestResolveRejectsSymlinkEscapeEvenWhenAllowed(t *testing.T) {
	dir := t.TempDir()
	sb, err := New(dir, Options{AllowSymlinks: true})
	require.NoError(t, err)

	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("secret"), 0o644))
	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	_, err = sb.Resolve("link.txt")
	require.Error(t, err)
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, KindSymlink, sErr.Kind)
}

func TestResolveNonExistentPathValidatesAncestor(t *testing.T) {
	sb, dir := newTestSandbox(t)
	resolved, err := sb.Resolve("does/not/exist.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "does/not/exist.txt"), resolved)
}

func TestWriteAtomicCreatesFile(t *testing.T) {
	sb, dir := newTestSandbox(t)
	_, err := sb.WriteAtomic("out.txt", []byte("hello"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestWriteAtomicNoPartialFileOnEscape(t *testing.T) {
	sb, _ := newTestSandbox(t)
	_, err := sb.WriteAtomic("../escape.txt", []byte("x"))
	require.Error(t, err)
}

func TestWriteAtomicOverwritesExisting(t *testing.T) {
	sb, dir := newTestSandbox(t)
	_, err := sb.WriteAtomic("out.txt", []byte("first"))
	require.NoError(t, err)
	_, err = sb.WriteAtomic("out.txt", []byte("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestWriteAtomicLeavesNoTempFilesOnSuccess(t *testing.T) {
	sb, dir := newTestSandbox(t)
	_, err := sb.WriteAtomic("out.txt", []byte("hello"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".xchecker-tmp-", "leftover temp file: %s", e.Name())
	}
}
