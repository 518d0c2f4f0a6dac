package packet

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xchecker/internal/sandbox"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newTestSandbox(t *testing.T) (*sandbox.Sandbox, string) {
	t.Helper()
	root := t.TempDir()
	sb, err := sandbox.New(root, sandbox.Options{})
	require.NoError(t, err)
	return sb, root
}

func TestBuildOrdersByPriorityThenPath(t *testing.T) {
	sb, root := newTestSandbox(t)
	writeFile(t, root, "b.txt", "low-b")
	writeFile(t, root, "a.txt", "low-a")
	writeFile(t, root, "upstream.md", "upstream-content")

	pkt, err := Build(sb, Spec{
		UpstreamPaths: []string{"upstream.md"},
		CandidatePaths: map[string]Priority{
			"b.txt": PriorityLow,
			"a.txt": PriorityLow,
		},
		MaxBytes: 65536,
		MaxLines: 1200,
	})
	require.NoError(t, err)
	require.Len(t, pkt.Files, 3)
	assert.Equal(t, "upstream.md", pkt.Files[0].Path)
	assert.Equal(t, "a.txt", pkt.Files[1].Path)
	assert.Equal(t, "b.txt", pkt.Files[2].Path)
}

func TestBuildAppliesMandatoryExclusions(t *testing.T) {
	sb, root := newTestSandbox(t)
	writeFile(t, root, ".env", "SECRET=1")
	writeFile(t, root, "ok.txt", "fine")

	pkt, err := Build(sb, Spec{
		CandidatePaths: map[string]Priority{
			".env":   PriorityHigh,
			"ok.txt": PriorityHigh,
		},
		MaxBytes: 65536,
		MaxLines: 1200,
	})
	require.NoError(t, err)
	require.Len(t, pkt.Files, 1)
	assert.Equal(t, "ok.txt", pkt.Files[0].Path)
}

func TestBuildUserExcludeGlobWins(t *testing.T) {
	sb, root := newTestSandbox(t)
	writeFile(t, root, "keep.go", "package a")
	writeFile(t, root, "skip.go", "package b")

	pkt, err := Build(sb, Spec{
		CandidatePaths: map[string]Priority{
			"keep.go": PriorityMedium,
			"skip.go": PriorityMedium,
		},
		UserExcludeGlobs: []string{"skip.go"},
		MaxBytes:         65536,
		MaxLines:         1200,
	})
	require.NoError(t, err)
	require.Len(t, pkt.Files, 1)
	assert.Equal(t, "keep.go", pkt.Files[0].Path)
}

func TestBuildUserIncludeGlobFilters(t *testing.T) {
	sb, root := newTestSandbox(t)
	writeFile(t, root, "a.md", "a")
	writeFile(t, root, "b.go", "b")

	pkt, err := Build(sb, Spec{
		CandidatePaths: map[string]Priority{
			"a.md": PriorityMedium,
			"b.go": PriorityMedium,
		},
		UserIncludeGlobs: []string{"*.md"},
		MaxBytes:         65536,
		MaxLines:         1200,
	})
	require.NoError(t, err)
	require.Len(t, pkt.Files, 1)
	assert.Equal(t, "a.md", pkt.Files[0].Path)
}

func TestBuildOversizeNonCriticalSkippedWithWarning(t *testing.T) {
	sb, root := newTestSandbox(t)
	writeFile(t, root, "big.txt", strings.Repeat("x", 100))

	pkt, err := Build(sb, Spec{
		CandidatePaths: map[string]Priority{"big.txt": PriorityLow},
		MaxBytes:       65536,
		MaxLines:       1200,
		MaxFileBytes:   10,
	})
	require.NoError(t, err)
	assert.Empty(t, pkt.Files)
	require.Len(t, pkt.Warnings, 1)
	assert.Contains(t, pkt.Warnings[0], "big.txt")
}

func TestBuildOversizeUpstreamIsFatal(t *testing.T) {
	sb, root := newTestSandbox(t)
	writeFile(t, root, "upstream.md", strings.Repeat("x", 100))

	_, err := Build(sb, Spec{
		UpstreamPaths: []string{"upstream.md"},
		MaxBytes:      65536,
		MaxLines:      1200,
		MaxFileBytes:  10,
	})
	require.Error(t, err)
	var oversizeErr *ErrUpstreamOversize
	require.ErrorAs(t, err, &oversizeErr)
}

func TestBuildOverflowAtExactBudgetSucceeds(t *testing.T) {
	sb, root := newTestSandbox(t)
	content := strings.Repeat("a", 65536)
	writeFile(t, root, "exact.txt", content)

	pkt, err := Build(sb, Spec{
		CandidatePaths: map[string]Priority{"exact.txt": PriorityHigh},
		MaxBytes:       65536,
		MaxLines:       1200,
	})
	require.NoError(t, err)
	assert.Equal(t, 65536, pkt.TotalBytes)
}

func TestBuildOverflowOneByteOverFails(t *testing.T) {
	sb, root := newTestSandbox(t)
	content := strings.Repeat("a", 65537)
	writeFile(t, root, "over.txt", content)

	_, err := Build(sb, Spec{
		CandidatePaths: map[string]Priority{"over.txt": PriorityHigh},
		MaxBytes:       65536,
		MaxLines:       1200,
		MaxFileBytes:   65537,
	})
	require.Error(t, err)
	var overflowErr *ErrOverflow
	require.ErrorAs(t, err, &overflowErr)
}

func TestBuildDeduplicatesByCanonicalPath(t *testing.T) {
	sb, root := newTestSandbox(t)
	writeFile(t, root, "dup.txt", "content")

	pkt, err := Build(sb, Spec{
		UpstreamPaths: []string{"dup.txt", "./dup.txt"},
		MaxBytes:      65536,
		MaxLines:      1200,
	})
	require.NoError(t, err)
	assert.Len(t, pkt.Files, 1)
}

func TestManifestContainsNoContent(t *testing.T) {
	sb, root := newTestSandbox(t)
	writeFile(t, root, "a.txt", "hello world")

	pkt, err := Build(sb, Spec{
		CandidatePaths: map[string]Priority{"a.txt": PriorityHigh},
		MaxBytes:       65536,
		MaxLines:       1200,
	})
	require.NoError(t, err)
	m := pkt.Manifest(65536, 1200)
	assert.Equal(t, 11, m.TotalBytes)
	assert.Len(t, m.Files, 1)
	assert.NotEmpty(t, m.Files[0].Hash)
}
