// Package tasks implements the Tasks phase: consumes the promoted Design
// artifact and produces an ordered task breakdown.
package tasks

import (
	"fmt"
	"strings"

	"xchecker/internal/packet"
	"xchecker/internal/phase"
	"xchecker/pkg/specid"
)

const promptTemplate = `You are breaking an approved design into an ordered list of implementation
tasks.

Design:
%s

Produce a Markdown task list with a top-level heading and a
"## Tasks" section containing a numbered list. Each task must be small
enough to implement and verify independently.`

// Phase implements phase.Phase for specid.Tasks.
type Phase struct{}

func (Phase) ID() specid.PhaseId { return specid.Tasks }

func (Phase) Prompt(ctx phase.Context) (string, error) {
	design, ok := ctx.PriorArtifacts["artifacts/10-design.md"]
	if !ok {
		return "", fmt.Errorf("tasks: missing upstream design artifact")
	}
	return strings.TrimSpace(fmt.Sprintf(promptTemplate, string(design))), nil
}

func (Phase) BuildPacket(ctx phase.Context, maxBytes, maxLines int) (*packet.Packet, error) {
	return packet.Build(ctx.Sandbox, packet.Spec{
		UpstreamPaths: []string{"artifacts/10-design.md", "artifacts/10-design.core.yaml"},
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

	summary := phase.BuildCoreSummary(ctx.SpecID, specid.Tasks, markdown)
	core, err := phase.EncodeCoreSummary(summary)
	if err != nil {
		return phase.Result{}, err
	}

	return phase.Result{
		Artifacts: map[string][]byte{
			"artifacts/20-tasks.md":        []byte(markdown),
			"artifacts/20-tasks.core.yaml": core,
		},
		Warnings: warnings,
		Next:     phase.NextStep{Kind: phase.NextStepContinue},
	}, nil
}

// DefaultValidationFloor is the Tasks phase's data-driven quality gate.
var DefaultValidationFloor = phase.ValidationFloor{
	MinLines:           3,
	RequiredHeadings:   []string{"## Tasks"},
	RejectMetaPrefixes: []string{"Here is", "Sure,", "Certainly,"},
}

func (Phase) ValidationFloor() phase.ValidationFloor { return DefaultValidationFloor }
