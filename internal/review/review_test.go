package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xchecker/internal/phase"
	"xchecker/internal/sandbox"
	"xchecker/pkg/specid"
)

func testContext(t *testing.T) phase.Context {
	t.Helper()
	sb, err := sandbox.New(t.TempDir(), sandbox.Options{})
	require.NoError(t, err)
	return phase.Context{
		SpecID:  specid.SpecId("spec-1"),
		Sandbox: sb,
		PriorArtifacts: map[string][]byte{
			"artifacts/20-tasks.md": []byte("tasks"),
		},
	}
}

func TestPostprocessDefaultsToContinue(t *testing.T) {
	markdown := "# Review\n## Findings\nlooks good"
	result, err := Phase{}.Postprocess(testContext(t), markdown)
	require.NoError(t, err)
	assert.Equal(t, phase.NextStepContinue, result.Next.Kind)
	assert.Empty(t, result.FixupTargets)
}

func TestPostprocessParsesRewindDirective(t *testing.T) {
	markdown := "# Review\n## Findings\nneeds rework\nREWIND: design"
	result, err := Phase{}.Postprocess(testContext(t), markdown)
	require.NoError(t, err)
	assert.Equal(t, phase.NextStepRewind, result.Next.Kind)
	assert.Equal(t, specid.Design, result.Next.RewindTo)
}

func TestPostprocessIgnoresInvalidRewindTarget(t *testing.T) {
	markdown := "# Review\n## Findings\nREWIND: final"
	result, err := Phase{}.Postprocess(testContext(t), markdown)
	require.NoError(t, err)
	assert.Equal(t, phase.NextStepContinue, result.Next.Kind)
}

func TestPostprocessExtractsFixupBlocks(t *testing.T) {
	markdown := "# Review\n## Findings\nfix needed\n```diff\n--- a/foo.go\n+++ b/foo.go\n@@ -1 +1 @@\n-old\n+new\n```\n"
	result, err := Phase{}.Postprocess(testContext(t), markdown)
	require.NoError(t, err)
	require.Len(t, result.FixupTargets, 1)
	assert.Contains(t, string(result.FixupTargets[0].Hunks), "foo.go")
}

func TestIDIsReview(t *testing.T) {
	assert.Equal(t, specid.Review, Phase{}.ID())
}

func TestPostprocessNonStrictWarnsOnValidationFloorMiss(t *testing.T) {
	ctx := testContext(t)
	ctx.StrictValidation = false
	result, err := Phase{}.Postprocess(ctx, "too short")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Artifacts)
	assert.NotEmpty(t, result.Warnings)
}
