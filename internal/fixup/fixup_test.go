package fixup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xchecker/internal/sandbox"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	sb, err := sandbox.New(root, sandbox.Options{})
	require.NoError(t, err)
	return NewEngine(sb), root
}

const sampleDiff = `--- a/foo.go
+++ b/foo.go
@@ -1,3 +1,3 @@
 package foo
-func Old() {}
+func New() {}
 var x int
`

func TestParseTargetExtractsPathAndHunks(t *testing.T) {
	target, err := ParseTarget([]byte(sampleDiff))
	require.NoError(t, err)
	assert.Equal(t, "foo.go", target.Path)
	require.Len(t, target.Hunks, 1)
	assert.Equal(t, 1, target.Hunks[0].OldStart)
}

func TestParseTargetRejectsMissingHeader(t *testing.T) {
	_, err := ParseTarget([]byte("@@ -1,1 +1,1 @@\n-a\n+b\n"))
	require.Error(t, err)
}

func TestParseTargetRejectsNoHunks(t *testing.T) {
	_, err := ParseTarget([]byte("--- a/foo.go\n+++ b/foo.go\n"))
	require.Error(t, err)
}

func TestApplySucceedsOnExactContextMatch(t *testing.T) {
	engine, root := newTestEngine(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo.go"), []byte("package foo\nfunc Old() {}\nvar x int\n"), 0o644))

	target, err := ParseTarget([]byte(sampleDiff))
	require.NoError(t, err)

	outcome := engine.Apply(target, false)
	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Applied)
	assert.NotEmpty(t, outcome.BLAKE3Canonicalized)

	data, err := os.ReadFile(filepath.Join(root, "foo.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "func New() {}")
	assert.NotContains(t, string(data), "func Old() {}")
}

func TestApplyCreatesBackupWhenFileExisted(t *testing.T) {
	engine, root := newTestEngine(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo.go"), []byte("package foo\nfunc Old() {}\nvar x int\n"), 0o644))

	target, err := ParseTarget([]byte(sampleDiff))
	require.NoError(t, err)

	outcome := engine.Apply(target, false)
	require.NoError(t, outcome.Err)

	_, err = os.Stat(filepath.Join(root, "foo.go.bak"))
	assert.NoError(t, err)
}

func TestPreviewModeNeverMutates(t *testing.T) {
	engine, root := newTestEngine(t)
	original := "package foo\nfunc Old() {}\nvar x int\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo.go"), []byte(original), 0o644))

	target, err := ParseTarget([]byte(sampleDiff))
	require.NoError(t, err)

	outcome := engine.Apply(target, true)
	require.NoError(t, outcome.Err)
	assert.False(t, outcome.Applied)

	data, err := os.ReadFile(filepath.Join(root, "foo.go"))
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
}

func TestApplyFuzzyMatchWithinWindow(t *testing.T) {
	engine, root := newTestEngine(t)

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("filler\n")
	}
	b.WriteString("func Old() {}\n")
	content := b.String()
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo.go"), []byte(content), 0o644))

	shifted := `--- a/foo.go
+++ b/foo.go
@@ -1,1 +1,1 @@
-func Old() {}
+func New() {}
`
	target, err := ParseTarget([]byte(shifted))
	require.NoError(t, err)

	outcome := engine.Apply(target, false)
	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Applied)

	data, err := os.ReadFile(filepath.Join(root, "foo.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "func New() {}")
}

func TestApplyFailsBeyondSearchWindow(t *testing.T) {
	engine, root := newTestEngine(t)

	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString("filler\n")
	}
	b.WriteString("func Old() {}\n")
	content := b.String()
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo.go"), []byte(content), 0o644))

	shifted := `--- a/foo.go
+++ b/foo.go
@@ -1,1 +1,1 @@
-func Old() {}
+func New() {}
`
	target, err := ParseTarget([]byte(shifted))
	require.NoError(t, err)

	outcome := engine.Apply(target, false)
	require.Error(t, outcome.Err)
	var fixupErr *Error
	require.ErrorAs(t, outcome.Err, &fixupErr)
	assert.Equal(t, KindFuzzyMatchFailed, fixupErr.Kind)
}

func TestApplyAmbiguousMatchFails(t *testing.T) {
	engine, root := newTestEngine(t)
	content := "func Old() {}\nfiller\nfunc Old() {}\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo.go"), []byte(content), 0o644))

	d := `--- a/foo.go
+++ b/foo.go
@@ -1,1 +1,1 @@
-func Old() {}
+func New() {}
`
	target, err := ParseTarget([]byte(d))
	require.NoError(t, err)

	outcome := engine.Apply(target, false)
	require.Error(t, outcome.Err)
	var fixupErr *Error
	require.ErrorAs(t, outcome.Err, &fixupErr)
	assert.Equal(t, KindAmbiguousMatch, fixupErr.Kind)
}

func TestApplyRejectsSandboxEscape(t *testing.T) {
	engine, _ := newTestEngine(t)
	target := Target{Path: "../../etc/passwd"}

	outcome := engine.Apply(target, false)
	require.Error(t, outcome.Err)
	var fixupErr *Error
	require.ErrorAs(t, outcome.Err, &fixupErr)
	assert.Equal(t, KindEscapeAttempt, fixupErr.Kind)
}
