package fixup

import (
	"fmt"
	"strings"

	"xchecker/internal/packet"
	"xchecker/internal/phase"
	"xchecker/pkg/specid"
)

const promptTemplate = `You are re-reviewing a proposed implementation after fixup diffs from an
earlier review round.

Tasks:
%s

Review findings:
%s

Produce a Markdown report with a top-level heading and a "## Findings"
section. If further changes are required, include one or more fenced
"` + "```diff" + `" blocks, one per file, proposing the fix. If the
implementation is now acceptable, state so and include no diff blocks.`

// Phase implements phase.Phase for specid.Fixup: it re-examines the
// implementation after Review's proposed diffs have been applied and may
// itself produce additional fixup.Target values.
type Phase struct{}

func (Phase) ID() specid.PhaseId { return specid.Fixup }

func (Phase) Prompt(ctx phase.Context) (string, error) {
	tasksArtifact, ok := ctx.PriorArtifacts["artifacts/20-tasks.md"]
	if !ok {
		return "", fmt.Errorf("fixup: missing upstream tasks artifact")
	}
	reviewArtifact, ok := ctx.PriorArtifacts["artifacts/30-review.md"]
	if !ok {
		return "", fmt.Errorf("fixup: missing upstream review artifact")
	}
	return strings.TrimSpace(fmt.Sprintf(promptTemplate, string(tasksArtifact), string(reviewArtifact))), nil
}

func (Phase) BuildPacket(ctx phase.Context, maxBytes, maxLines int) (*packet.Packet, error) {
	return packet.Build(ctx.Sandbox, packet.Spec{
		UpstreamPaths: []string{
			"artifacts/20-tasks.md", "artifacts/20-tasks.core.yaml",
			"artifacts/30-review.md", "artifacts/30-review.core.yaml",
		},
		MaxBytes: maxBytes,
		MaxLines: maxLines,
	})
}

func (Phase) Postprocess(ctx phase.Context, rawResponse string) (phase.Result, error) {
	markdown := strings.TrimSpace(rawResponse)
	var warnings []string
	if err := phase.CheckValidationFloor(DefaultValidationFloor, markdown); err != nil {
		if ctx.StrictValidation {
			return phase.Result{}, err
		}
		warnings = append(warnings, fmt.Sprintf("validation floor missed in soft mode: %v", err))
	}

	summary := phase.BuildCoreSummary(ctx.SpecID, specid.Fixup, markdown)
	core, err := phase.EncodeCoreSummary(summary)
	if err != nil {
		return phase.Result{}, err
	}

	return phase.Result{
		Artifacts: map[string][]byte{
			"artifacts/40-fixup.md":        []byte(markdown),
			"artifacts/40-fixup.core.yaml": core,
		},
		FixupTargets: parseFixupBlocksForPhase(markdown),
		Warnings:     warnings,
		Next:         phase.NextStep{Kind: phase.NextStepContinue},
	}, nil
}

// DefaultValidationFloor is the Fixup phase's data-driven quality gate.
var DefaultValidationFloor = phase.ValidationFloor{
	MinLines:           2,
	RequiredHeadings:   []string{"## Findings"},
	RejectMetaPrefixes: []string{"Here is", "Sure,", "Certainly,"},
}

func (Phase) ValidationFloor() phase.ValidationFloor { return DefaultValidationFloor }

// parseFixupBlocksForPhase extracts each fenced ```diff ... ``` block as an
// opaque phase.FixupTarget, the same shape Review's postprocess produces;
// internal/fixup's own Engine/ParseTarget own actual hunk parsing.
func parseFixupBlocksForPhase(markdown string) []phase.FixupTarget {
	var targets []phase.FixupTarget
	lines := strings.Split(markdown, "\n")
	inBlock := false
	var current strings.Builder

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inBlock && trimmed == "```diff":
			inBlock = true
			current.Reset()
		case inBlock && trimmed == "```":
			inBlock = false
			targets = append(targets, phase.FixupTarget{Hunks: []byte(current.String())})
		case inBlock:
			current.WriteString(line)
			current.WriteByte('\n')
		}
	}
	return targets
}
