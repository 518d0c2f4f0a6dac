// Package reqs implements the Requirements phase: the first step of the
// pipeline, consuming only the problem statement (no upstream artifacts).
package reqs

import (
	"fmt"
	"strings"

	"xchecker/internal/packet"
	"xchecker/internal/phase"
	"xchecker/pkg/specid"
)

const promptTemplate = `You are drafting the requirements document for a software change.

Problem statement:
%s

Produce a Markdown requirements document with a top-level heading, a
"## Goals" section, and a "## Non-goals" section. Be concrete and testable.`

// Phase implements phase.Phase for specid.Requirements.
type Phase struct{}

func (Phase) ID() specid.PhaseId { return specid.Requirements }

func (Phase) Prompt(ctx phase.Context) (string, error) {
	return strings.TrimSpace(fmt.Sprintf(promptTemplate, ctx.ProblemStatement)), nil
}

func (Phase) BuildPacket(ctx phase.Context, maxBytes, maxLines int) (*packet.Packet, error) {
	// Requirements has no upstream artifacts and no workspace scan target
	// of its own; it packets only the problem statement, which travels in
	// the prompt rather than as a packet file.
	return packet.Build(ctx.Sandbox, packet.Spec{MaxBytes: maxBytes, MaxLines: maxLines})
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

	summary := phase.BuildCoreSummary(ctx.SpecID, specid.Requirements, markdown)
	core, err := phase.EncodeCoreSummary(summary)
	if err != nil {
		return phase.Result{}, err
	}

	return phase.Result{
		Artifacts: map[string][]byte{
			"artifacts/00-requirements.md":        []byte(markdown),
			"artifacts/00-requirements.core.yaml": core,
		},
		Warnings: warnings,
		Next:     phase.NextStep{Kind: phase.NextStepContinue},
	}, nil
}

// DefaultValidationFloor is the Requirements phase's data-driven quality
// gate: a minimum length and the two sections the prompt asks for.
var DefaultValidationFloor = phase.ValidationFloor{
	MinLines:           5,
	RequiredHeadings:   []string{"## Goals", "## Non-goals"},
	RejectMetaPrefixes: []string{"Here is", "Sure,", "Certainly,"},
}

func (Phase) ValidationFloor() phase.ValidationFloor { return DefaultValidationFloor }
