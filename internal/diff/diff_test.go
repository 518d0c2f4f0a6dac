package diff

import "testing"

func TestHunkCountsComputedByConsumer(t *testing.T) {
	h := Hunk{
		OldStart: 1,
		NewStart: 1,
		Lines: []Line{
			{LineNum: 1, Content: "line1", Type: LineContext},
			{LineNum: 2, Content: "old", Type: LineRemoved},
			{LineNum: 2, Content: "new", Type: LineAdded},
			{LineNum: 3, Content: "line3", Type: LineContext},
		},
	}

	var oldCount, newCount int
	for _, line := range h.Lines {
		if line.Type == LineRemoved || line.Type == LineContext {
			oldCount++
		}
		if line.Type == LineAdded || line.Type == LineContext {
			newCount++
		}
	}

	if oldCount != 3 {
		t.Errorf("expected 3 old-side lines, got %d", oldCount)
	}
	if newCount != 3 {
		t.Errorf("expected 3 new-side lines, got %d", newCount)
	}
}

func TestLineTypeConstantsAreDistinct(t *testing.T) {
	types := []LineType{LineContext, LineAdded, LineRemoved, LineHeader}
	seen := map[LineType]bool{}
	for _, typ := range types {
		if seen[typ] {
			t.Fatalf("duplicate LineType value %d", typ)
		}
		seen[typ] = true
	}
}
