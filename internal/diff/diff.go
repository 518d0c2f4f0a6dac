// Package diff defines the line/hunk types the fixup engine parses unified
// diffs into. sergi/go-diff's diffmatchpatch.DiffMatchPatch previously lived
// here to compute these from two content strings directly; that path is
// gone now that fixup targets always arrive as unified diff text from a
// phase's Postprocess, so only the shared vocabulary survives.
package diff

// LineType represents the type of diff line
type LineType int

const (
	LineContext LineType = iota // Unchanged context line
	LineAdded                   // Added line
	LineRemoved                 // Removed line
	LineHeader                  // Diff header line
)

// Line represents a single line in the diff
type Line struct {
	LineNum int
	Content string
	Type    LineType
}

// Hunk represents a group of changes
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}
