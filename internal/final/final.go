// Package final implements the Final phase: consumes the Fixup round's
// outcome and produces a closing artifact, ending the workflow.
package final

import (
	"fmt"
	"strings"

	"xchecker/internal/packet"
	"xchecker/internal/phase"
	"xchecker/pkg/specid"
)

const promptTemplate = `You are closing out a completed implementation workflow.

Fixup round outcome:
%s

Produce a Markdown closing summary with a top-level heading and a
"## Summary" section describing the final state of the work and any
follow-up the operator should be aware of.`

// Phase implements phase.Phase for specid.Final.
type Phase struct{}

func (Phase) ID() specid.PhaseId { return specid.Final }

func (Phase) Prompt(ctx phase.Context) (string, error) {
	fixupArtifact, ok := ctx.PriorArtifacts["artifacts/40-fixup.md"]
	if !ok {
		return "", fmt.Errorf("final: missing upstream fixup artifact")
	}
	return strings.TrimSpace(fmt.Sprintf(promptTemplate, string(fixupArtifact))), nil
}

func (Phase) BuildPacket(ctx phase.Context, maxBytes, maxLines int) (*packet.Packet, error) {
	return packet.Build(ctx.Sandbox, packet.Spec{
		UpstreamPaths: []string{"artifacts/40-fixup.md", "artifacts/40-fixup.core.yaml"},
		MaxBytes:      maxBytes,
		MaxLines:      maxLines,
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

	summary := phase.BuildCoreSummary(ctx.SpecID, specid.Final, markdown)
	core, err := phase.EncodeCoreSummary(summary)
	if err != nil {
		return phase.Result{}, err
	}

	return phase.Result{
		Artifacts: map[string][]byte{
			"artifacts/50-final.md":        []byte(markdown),
			"artifacts/50-final.core.yaml": core,
		},
		Warnings: warnings,
		Next:     phase.NextStep{Kind: phase.NextStepStop},
	}, nil
}

// DefaultValidationFloor is the Final phase's data-driven quality gate.
var DefaultValidationFloor = phase.ValidationFloor{
	MinLines:           2,
	RequiredHeadings:   []string{"## Summary"},
	RejectMetaPrefixes: []string{"Here is", "Sure,", "Certainly,"},
}

func (Phase) ValidationFloor() phase.ValidationFloor { return DefaultValidationFloor }
