// Package design implements the Design phase: consumes the promoted
// Requirements artifact and produces a design document.
package design

import (
	"fmt"
	"strings"

	"xchecker/internal/packet"
	"xchecker/internal/phase"
	"xchecker/pkg/specid"
)

const promptTemplate = `You are drafting the design document for a software change, given its
approved requirements.

Requirements:
%s

Produce a Markdown design document with a top-level heading, an
"## Architecture" section, and a "## Interfaces" section.`

// Phase implements phase.Phase for specid.Design.
type Phase struct{}

func (Phase) ID() specid.PhaseId { return specid.Design }

func (Phase) Prompt(ctx phase.Context) (string, error) {
	reqs, ok := ctx.PriorArtifacts["artifacts/00-requirements.md"]
	if !ok {
		return "", fmt.Errorf("design: missing upstream requirements artifact")
	}
	return strings.TrimSpace(fmt.Sprintf(promptTemplate, string(reqs))), nil
}

func (Phase) BuildPacket(ctx phase.Context, maxBytes, maxLines int) (*packet.Packet, error) {
	return packet.Build(ctx.Sandbox, packet.Spec{
		UpstreamPaths: []string{"artifacts/00-requirements.md", "artifacts/00-requirements.core.yaml"},
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

	summary := phase.BuildCoreSummary(ctx.SpecID, specid.Design, markdown)
	core, err := phase.EncodeCoreSummary(summary)
	if err != nil {
		return phase.Result{}, err
	}

	return phase.Result{
		Artifacts: map[string][]byte{
			"artifacts/10-design.md":        []byte(markdown),
			"artifacts/10-design.core.yaml": core,
		},
		Warnings: warnings,
		Next:     phase.NextStep{Kind: phase.NextStepContinue},
	}, nil
}

// DefaultValidationFloor is the Design phase's data-driven quality gate.
var DefaultValidationFloor = phase.ValidationFloor{
	MinLines:           5,
	RequiredHeadings:   []string{"## Architecture", "## Interfaces"},
	RejectMetaPrefixes: []string{"Here is", "Sure,", "Certainly,"},
}

func (Phase) ValidationFloor() phase.ValidationFloor { return DefaultValidationFloor }
