// Package fixup applies proposed edits (fixup targets) against the
// sandboxed workspace: unified-diff hunk parsing, windowed fuzzy context
// matching, and sandboxed atomic apply with a non-mutating preview mode.
package fixup

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"xchecker/internal/canon"
	"xchecker/internal/diff"
	"xchecker/internal/sandbox"
)

// searchWindow is how many lines on either side of a hunk's declared
// anchor the fuzzy matcher searches for an exact context match (spec.md
// §4.9).
const searchWindow = 50

// Kind classifies a fixup failure.
type Kind string

const (
	KindEscapeAttempt    Kind = "escape_attempt"
	KindFuzzyMatchFailed Kind = "fuzzy_match_failed"
	KindAmbiguousMatch   Kind = "ambiguous_match"
	KindReadFailed       Kind = "read_failed"
	KindParseFailed      Kind = "parse_failed"
)

// Error is returned for one target's failure; callers collect these per
// workflow without aborting the remaining targets.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fixup: %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Target is a proposed edit: a path relative to the sandbox root and a
// sequence of hunks (spec.md §3).
type Target struct {
	Path  string
	Hunks []diff.Hunk
}

// ParseTarget parses a unified-diff text block (as produced by Review
// postprocess) into a Target. The block is expected to carry standard
// "--- a/<path>" / "+++ b/<path>" headers and one or more "@@ ... @@"
// hunks.
func ParseTarget(raw []byte) (Target, error) {
	lines := strings.Split(string(canon.NormalizeLineEndings(raw)), "\n")

	var path string
	var hunks []diff.Hunk
	var current *diff.Hunk
	oldLine, newLine := 0, 0

	flush := func() {
		if current != nil {
			hunks = append(hunks, *current)
			current = nil
		}
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++ "):
			path = stripDiffPathPrefix(strings.TrimPrefix(line, "+++ "))
		case strings.HasPrefix(line, "--- "):
			if path == "" {
				path = stripDiffPathPrefix(strings.TrimPrefix(line, "--- "))
			}
		case strings.HasPrefix(line, "@@"):
			flush()
			oldStart, newStart, err := parseHunkHeader(line)
			if err != nil {
				return Target{}, &Error{Kind: KindParseFailed, Path: path, Err: err}
			}
			current = &diff.Hunk{OldStart: oldStart, NewStart: newStart}
			oldLine, newLine = oldStart, newStart
		case current == nil:
			continue
		case strings.HasPrefix(line, "+"):
			current.Lines = append(current.Lines, diff.Line{LineNum: newLine, Content: strings.TrimPrefix(line, "+"), Type: diff.LineAdded})
			current.NewCount++
			newLine++
		case strings.HasPrefix(line, "-"):
			current.Lines = append(current.Lines, diff.Line{LineNum: oldLine, Content: strings.TrimPrefix(line, "-"), Type: diff.LineRemoved})
			current.OldCount++
			oldLine++
		case strings.HasPrefix(line, " ") || line == "":
			content := strings.TrimPrefix(line, " ")
			current.Lines = append(current.Lines, diff.Line{LineNum: oldLine, Content: content, Type: diff.LineContext})
			current.OldCount++
			current.NewCount++
			oldLine++
			newLine++
		}
	}
	flush()

	if path == "" {
		return Target{}, &Error{Kind: KindParseFailed, Err: fmt.Errorf("no file header found in diff block")}
	}
	if len(hunks) == 0 {
		return Target{}, &Error{Kind: KindParseFailed, Path: path, Err: fmt.Errorf("no hunks found in diff block")}
	}

	return Target{Path: path, Hunks: hunks}, nil
}

func stripDiffPathPrefix(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "a/")
	p = strings.TrimPrefix(p, "b/")
	return p
}

func parseHunkHeader(line string) (oldStart, newStart int, err error) {
	// "@@ -oldStart,oldCount +newStart,newCount @@"
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return 0, 0, fmt.Errorf("malformed hunk header %q", line)
	}
	oldStart, err = parseRangeStart(fields[1], "-")
	if err != nil {
		return 0, 0, err
	}
	newStart, err = parseRangeStart(fields[2], "+")
	if err != nil {
		return 0, 0, err
	}
	return oldStart, newStart, nil
}

func parseRangeStart(field, sigil string) (int, error) {
	field = strings.TrimPrefix(field, sigil)
	parts := strings.SplitN(field, ",", 2)
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed range %q: %w", field, err)
	}
	return n, nil
}

// AppliedOutcome records one target's apply (or preview) result.
type AppliedOutcome struct {
	Path                string
	Applied             bool
	BLAKE3Canonicalized string
	LinesAdded          int
	LinesRemoved        int
	Warning             string
	Err                 error
}

// Engine applies fixup targets against a sandboxed workspace.
type Engine struct {
	sb *sandbox.Sandbox
}

// NewEngine builds an Engine rooted at sb.
func NewEngine(sb *sandbox.Sandbox) *Engine {
	return &Engine{sb: sb}
}

// Apply resolves target.Path against the sandbox, locates each hunk's
// pre-image via windowed fuzzy matching, and — unless preview is true —
// writes the result atomically with a backup sibling created if the file
// previously existed. Preview never mutates any file.
func (e *Engine) Apply(target Target, preview bool) AppliedOutcome {
	resolved, err := e.sb.Resolve(target.Path)
	if err != nil {
		var sbErr *sandbox.Error
		if errors.As(err, &sbErr) {
			return AppliedOutcome{Path: target.Path, Err: &Error{Kind: KindEscapeAttempt, Path: target.Path, Err: err}}
		}
		return AppliedOutcome{Path: target.Path, Err: &Error{Kind: KindReadFailed, Path: target.Path, Err: err}}
	}

	original, err := readOrEmpty(resolved)
	if err != nil {
		return AppliedOutcome{Path: target.Path, Err: &Error{Kind: KindReadFailed, Path: target.Path, Err: err}}
	}
	original = canon.NormalizeLineEndings(original)

	lines := splitLines(original)
	added, removed := 0, 0

	for _, h := range target.Hunks {
		pos, err := locateHunk(lines, h)
		if err != nil {
			return AppliedOutcome{Path: target.Path, Err: &Error{Kind: errKindFor(err), Path: target.Path, Err: err}}
		}
		var a, r int
		lines, a, r = applyHunk(lines, h, pos)
		added += a
		removed += r
	}

	result := strings.Join(lines, "\n")
	if len(lines) > 0 {
		result += "\n"
	}

	if preview {
		return AppliedOutcome{
			Path:         target.Path,
			Applied:      false,
			LinesAdded:   added,
			LinesRemoved: removed,
		}
	}

	if len(original) > 0 {
		backupPath := target.Path + ".bak"
		if _, err := e.sb.WriteAtomic(backupPath, original); err != nil {
			return AppliedOutcome{Path: target.Path, Err: &Error{Kind: KindReadFailed, Path: target.Path, Err: err}}
		}
	}

	warning, err := e.sb.WriteAtomic(target.Path, []byte(result))
	if err != nil {
		return AppliedOutcome{Path: target.Path, Err: &Error{Kind: KindReadFailed, Path: target.Path, Err: err}}
	}

	return AppliedOutcome{
		Path:                target.Path,
		Applied:             true,
		BLAKE3Canonicalized: canon.HashArtifact([]byte(result)),
		LinesAdded:          added,
		LinesRemoved:        removed,
		Warning:             warning,
	}
}

func errKindFor(err error) Kind {
	if fe, ok := err.(*fuzzyMatchError); ok && fe.ambiguous {
		return KindAmbiguousMatch
	}
	return KindFuzzyMatchFailed
}

func readOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	text := strings.TrimSuffix(string(data), "\n")
	return strings.Split(text, "\n")
}

// fuzzyMatchError is returned by locateHunk.
type fuzzyMatchError struct {
	ambiguous bool
	msg       string
}

func (e *fuzzyMatchError) Error() string { return e.msg }

// contextBlock returns the contiguous pre-image lines of h (context and
// removed lines, in order) that must be found verbatim in the target file.
func contextBlock(h diff.Hunk) []string {
	var out []string
	for _, l := range h.Lines {
		if l.Type == diff.LineContext || l.Type == diff.LineRemoved {
			out = append(out, l.Content)
		}
	}
	return out
}

// locateHunk performs the windowed fuzzy search: it looks for an exact
// match of h's contiguous pre-image context within ±searchWindow lines of
// h's declared anchor (OldStart). Multiple matches within the window are
// ambiguous and fail.
func locateHunk(lines []string, h diff.Hunk) (int, error) {
	block := contextBlock(h)
	if len(block) == 0 {
		// Pure-addition hunk with no pre-image: anchor position is used
		// directly, clamped to the file length.
		pos := h.OldStart - 1
		if pos < 0 {
			pos = 0
		}
		if pos > len(lines) {
			pos = len(lines)
		}
		return pos, nil
	}

	anchor := h.OldStart - 1
	lo := anchor - searchWindow
	if lo < 0 {
		lo = 0
	}
	hi := anchor + searchWindow
	if hi > len(lines) {
		hi = len(lines)
	}

	var matches []int
	for start := lo; start+len(block) <= hi; start++ {
		if matchesAt(lines, start, block) {
			matches = append(matches, start)
		}
	}

	switch len(matches) {
	case 0:
		return 0, &fuzzyMatchError{msg: fmt.Sprintf("no match for context near line %d (window ±%d)", h.OldStart, searchWindow)}
	case 1:
		return matches[0], nil
	default:
		return 0, &fuzzyMatchError{ambiguous: true, msg: fmt.Sprintf("ambiguous match for context near line %d: %d candidate positions", h.OldStart, len(matches))}
	}
}

func matchesAt(lines []string, start int, block []string) bool {
	if start+len(block) > len(lines) {
		return false
	}
	for i, want := range block {
		if lines[start+i] != want {
			return false
		}
	}
	return true
}

// applyHunk rewrites lines by replacing the located pre-image at pos with
// h's post-image (context + added lines), returning the new slice and the
// count of added/removed lines.
func applyHunk(lines []string, h diff.Hunk, pos int) ([]string, int, int) {
	consumed := len(contextBlock(h))

	var post []string
	added, removed := 0, 0
	for _, l := range h.Lines {
		switch l.Type {
		case diff.LineContext:
			post = append(post, l.Content)
		case diff.LineAdded:
			post = append(post, l.Content)
			added++
		case diff.LineRemoved:
			removed++
		}
	}

	out := make([]string, 0, len(lines)-consumed+len(post))
	out = append(out, lines[:pos]...)
	out = append(out, post...)
	out = append(out, lines[pos+consumed:]...)
	return out, added, removed
}
