// Package review implements the Review phase: consumes the Tasks artifact
// and produces either an approval or a set of fixup targets (and
// optionally a rewind directive) for the orchestrator to act on.
package review

import (
	"bufio"
	"fmt"
	"strings"

	"xchecker/internal/packet"
	"xchecker/internal/phase"
	"xchecker/pkg/specid"
)

const promptTemplate = `You are reviewing an implementation plan against its approved tasks.

Tasks:
%s

Produce a Markdown review with a top-level heading and a "## Findings"
section. If changes are required, include one or more fenced "` + "```diff" + `"
blocks, one per file, proposing the fix. If an earlier phase must be
redone, include a line "REWIND: <phase>" naming one of requirements,
design, tasks.`

// rewindPrefix marks a line directing the orchestrator to rewind.
const rewindPrefix = "REWIND:"

// Phase implements phase.Phase for specid.Review.
type Phase struct{}

func (Phase) ID() specid.PhaseId { return specid.Review }

func (Phase) Prompt(ctx phase.Context) (string, error) {
	t, ok := ctx.PriorArtifacts["artifacts/20-tasks.md"]
	if !ok {
		return "", fmt.Errorf("review: missing upstream tasks artifact")
	}
	return strings.TrimSpace(fmt.Sprintf(promptTemplate, string(t))), nil
}

func (Phase) BuildPacket(ctx phase.Context, maxBytes, maxLines int) (*packet.Packet, error) {
	return packet.Build(ctx.Sandbox, packet.Spec{
		UpstreamPaths: []string{"artifacts/20-tasks.md", "artifacts/20-tasks.core.yaml"},
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

	summary := phase.BuildCoreSummary(ctx.SpecID, specid.Review, markdown)
	core, err := phase.EncodeCoreSummary(summary)
	if err != nil {
		return phase.Result{}, err
	}

	next := phase.NextStep{Kind: phase.NextStepContinue}
	if rewindTo, ok := parseRewindDirective(markdown); ok {
		next = phase.NextStep{Kind: phase.NextStepRewind, RewindTo: rewindTo}
	}

	return phase.Result{
		Artifacts: map[string][]byte{
			"artifacts/30-review.md":        []byte(markdown),
			"artifacts/30-review.core.yaml": core,
		},
		FixupTargets: parseFixupBlocks(markdown),
		Warnings:     warnings,
		Next:         next,
	}, nil
}

// DefaultValidationFloor is the Review phase's data-driven quality gate.
var DefaultValidationFloor = phase.ValidationFloor{
	MinLines:           2,
	RequiredHeadings:   []string{"## Findings"},
	RejectMetaPrefixes: []string{"Here is", "Sure,", "Certainly,"},
}

func (Phase) ValidationFloor() phase.ValidationFloor { return DefaultValidationFloor }

// parseRewindDirective looks for a line "REWIND: <phase>" and returns the
// named phase if it is one of requirements, design, tasks.
func parseRewindDirective(markdown string) (specid.PhaseId, bool) {
	scanner := bufio.NewScanner(strings.NewReader(markdown))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, rewindPrefix) {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(line, rewindPrefix))
		target := specid.PhaseId(strings.ToLower(name))
		if target != specid.Requirements && target != specid.Design && target != specid.Tasks {
			continue
		}
		return target, true
	}
	return "", false
}

// parseFixupBlocks extracts each fenced ```diff ... ``` block as an opaque
// phase.FixupTarget; internal/fixup owns actual hunk parsing.
func parseFixupBlocks(markdown string) []phase.FixupTarget {
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
