package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xchecker/internal/phase"
	"xchecker/internal/sandbox"
	"xchecker/pkg/specid"
)

func testContext(t *testing.T, design string) phase.Context {
	t.Helper()
	sb, err := sandbox.New(t.TempDir(), sandbox.Options{})
	require.NoError(t, err)
	return phase.Context{
		SpecID:  specid.SpecId("spec-1"),
		Sandbox: sb,
		PriorArtifacts: map[string][]byte{
			"artifacts/10-design.md": []byte(design),
		},
	}
}

func TestPromptRequiresUpstreamDesign(t *testing.T) {
	sb, err := sandbox.New(t.TempDir(), sandbox.Options{})
	require.NoError(t, err)
	_, err = Phase{}.Prompt(phase.Context{Sandbox: sb})
	assert.Error(t, err)
}

func TestPostprocessProducesArtifacts(t *testing.T) {
	markdown := "# Tasks\n## Tasks\n1. do a thing\n2. do another"
	result, err := Phase{}.Postprocess(testContext(t, "design"), markdown)
	require.NoError(t, err)
	assert.Contains(t, result.Artifacts, "artifacts/20-tasks.md")
	assert.Contains(t, result.Artifacts, "artifacts/20-tasks.core.yaml")
}

func TestIDIsTasks(t *testing.T) {
	assert.Equal(t, specid.Tasks, Phase{}.ID())
}

func TestPostprocessNonStrictWarnsOnValidationFloorMiss(t *testing.T) {
	ctx := testContext(t, "design")
	ctx.StrictValidation = false
	result, err := Phase{}.Postprocess(ctx, "too short")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Artifacts)
	assert.NotEmpty(t, result.Warnings)
}
