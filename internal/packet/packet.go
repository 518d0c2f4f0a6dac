// Package packet assembles the deterministic, byte/line-budgeted set of
// workspace files (plus prior-phase artifacts) fed to a provider for one
// phase execution.
package packet

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"xchecker/internal/canon"
	"xchecker/internal/sandbox"
)

// Priority orders a file's inclusion tier; higher value sorts first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUpstream
)

func (p Priority) String() string {
	switch p {
	case PriorityUpstream:
		return "upstream"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// File is one accepted packet entry.
type File struct {
	Path     string   `json:"path"` // relative to sandbox root
	Priority Priority `json:"-"`
	Hash     string   `json:"blake3_first8"`
	Bytes    int      `json:"bytes"`
}

// Spec is an input to Build describing the files a phase wants, before
// exclusion/inclusion/budget rules are applied.
type Spec struct {
	// UpstreamPaths are prior-phase artifact paths; oversize upstream files
	// are fatal rather than skipped.
	UpstreamPaths []string
	// CandidatePaths are additional workspace files to consider (already
	// filtered to exist), each tagged with a non-upstream priority.
	CandidatePaths map[string]Priority

	UserExcludeGlobs []string
	UserIncludeGlobs []string

	MaxBytes     int
	MaxLines     int
	MaxFileBytes int // per-file hard cap; 0 means MaxBytes
}

// mandatoryExclusions is a built-in, non-overridable set of basename/suffix
// patterns that are never included regardless of user configuration
// (spec.md §4.6, rule 1).
var mandatoryExclusions = []string{
	".env",
	".env.local",
	".env.production",
	"id_rsa",
	"id_ed25519",
	"id_ecdsa",
	"*.pem",
	"*.p12",
	"*.pfx",
	"credentials.json",
	"credentials.yaml",
	".netrc",
	".npmrc",
	".pypirc",
}

// ErrOverflow is returned by Build when the packet exceeds its configured
// byte or line budget.
type ErrOverflow struct {
	Bytes     int
	Lines     int
	MaxBytes  int
	MaxLines  int
}

func (e *ErrOverflow) Error() string {
	return fmt.Sprintf("packet: overflow (bytes=%d/%d lines=%d/%d)", e.Bytes, e.MaxBytes, e.Lines, e.MaxLines)
}

// ErrUpstreamOversize is fatal: a prior-phase artifact exceeds the per-file
// cap and cannot simply be dropped from the packet.
type ErrUpstreamOversize struct {
	Path  string
	Bytes int
	Cap   int
}

func (e *ErrUpstreamOversize) Error() string {
	return fmt.Sprintf("packet: upstream file %q (%d bytes) exceeds per-file cap %d", e.Path, e.Bytes, e.Cap)
}

// Manifest is the sanitized, content-free summary written to the context
// directory on overflow or for debug preview (no file content, ever).
type Manifest struct {
	MaxBytes   int    `json:"max_bytes"`
	MaxLines   int    `json:"max_lines"`
	TotalBytes int    `json:"total_bytes"`
	TotalLines int    `json:"total_lines"`
	Files      []File `json:"files"`
}

// Packet is a sealed, budget-checked assembly of files ready for prompt
// construction.
type Packet struct {
	Files      []File
	Contents   map[string][]byte // path -> raw bytes, for prompt construction only
	TotalBytes int
	TotalLines int
	Warnings   []string
}

// Manifest produces the sanitized, content-free summary of p.
func (p *Packet) Manifest(maxBytes, maxLines int) Manifest {
	return Manifest{
		MaxBytes:   maxBytes,
		MaxLines:   maxLines,
		TotalBytes: p.TotalBytes,
		TotalLines: p.TotalLines,
		Files:      p.Files,
	}
}

// Build assembles a Packet from spec, reading files through sb (the
// sandbox), applying mandatory exclusions, user excludes/includes,
// deduplication, per-file size checks, priority tagging, and budget
// enforcement, in that order (spec.md §4.6).
func Build(sb *sandbox.Sandbox, spec Spec) (*Packet, error) {
	maxFileBytes := spec.MaxFileBytes
	if maxFileBytes <= 0 {
		maxFileBytes = spec.MaxBytes
	}

	type candidate struct {
		path     string
		priority Priority
	}

	seen := map[string]bool{}
	var candidates []candidate

	addCandidate := func(path string, priority Priority) {
		resolved, err := sb.Resolve(path)
		if err != nil {
			return
		}
		if seen[resolved] {
			return
		}
		seen[resolved] = true
		candidates = append(candidates, candidate{path: path, priority: priority})
	}

	for _, p := range spec.UpstreamPaths {
		addCandidate(p, PriorityUpstream)
	}

	for p, pr := range spec.CandidatePaths {
		if isMandatorilyExcluded(p) {
			continue
		}
		if matchesAny(p, spec.UserExcludeGlobs) {
			continue
		}
		if len(spec.UserIncludeGlobs) > 0 && !matchesAny(p, spec.UserIncludeGlobs) {
			continue
		}
		addCandidate(p, pr)
	}

	pkt := &Packet{Contents: map[string][]byte{}}

	for _, c := range candidates {
		resolved, err := sb.Resolve(c.path)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			continue
		}

		if len(data) > maxFileBytes {
			if c.priority == PriorityUpstream {
				return nil, &ErrUpstreamOversize{Path: c.path, Bytes: len(data), Cap: maxFileBytes}
			}
			pkt.Warnings = append(pkt.Warnings, fmt.Sprintf("skipped oversize file %q (%d bytes)", c.path, len(data)))
			continue
		}

		data = canon.NormalizeLineEndings(data)
		hash := canon.HashFirst8(data)

		pkt.Files = append(pkt.Files, File{
			Path:     filepath.ToSlash(c.path),
			Priority: c.priority,
			Hash:     hash,
			Bytes:    len(data),
		})
		pkt.Contents[c.path] = data
	}

	sort.Slice(pkt.Files, func(i, j int) bool {
		if pkt.Files[i].Priority != pkt.Files[j].Priority {
			return pkt.Files[i].Priority > pkt.Files[j].Priority
		}
		return pkt.Files[i].Path < pkt.Files[j].Path
	})

	for _, f := range pkt.Files {
		pkt.TotalBytes += f.Bytes
		pkt.TotalLines += countLines(pkt.Contents[f.Path])
	}

	if pkt.TotalBytes > spec.MaxBytes || pkt.TotalLines > spec.MaxLines {
		return nil, &ErrOverflow{Bytes: pkt.TotalBytes, Lines: pkt.TotalLines, MaxBytes: spec.MaxBytes, MaxLines: spec.MaxLines}
	}

	return pkt, nil
}

func isMandatorilyExcluded(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range mandatoryExclusions {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func matchesAny(path string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, path); ok {
			return true
		}
		if ok, _ := filepath.Match(g, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}

func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := 1
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
