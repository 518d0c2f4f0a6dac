// Package phase defines the Phase Registry: the capability-bundle
// abstraction (identity, dependency set, packet-building, postprocess)
// that concrete phases implement, plus the rewind-control value returned
// from postprocess.
package phase

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"xchecker/internal/packet"
	"xchecker/internal/sandbox"
	"xchecker/pkg/specid"
)

// Context is the value a Phase's Prompt and BuildPacket operate over: the
// spec id, sandboxed workspace root, and the problem statement plus any
// prior-phase artifact bytes available at this point in the workflow.
type Context struct {
	SpecID           specid.SpecId
	Sandbox          *sandbox.Sandbox
	ProblemStatement string
	PriorArtifacts   map[string][]byte // path -> bytes, keyed by prior-phase artifact name
	StrictValidation bool
}

// NextStepKind closes the set of control values a Phase's Postprocess may
// return.
type NextStepKind int

const (
	// NextStepContinue advances the workflow to the next phase in order.
	NextStepContinue NextStepKind = iota
	// NextStepRewind restarts the workflow from an earlier phase.
	NextStepRewind
	// NextStepStop ends the workflow after this phase (used by Final).
	NextStepStop
)

// NextStep is the explicit control-flow value returned from Postprocess;
// the orchestrator loop inspects it rather than using exceptions or
// continuations.
type NextStep struct {
	Kind     NextStepKind
	RewindTo specid.PhaseId // valid only when Kind == NextStepRewind
}

// Result is the outcome of a successful Postprocess call.
type Result struct {
	Artifacts    map[string][]byte // relative artifact path -> bytes to promote
	FixupTargets []FixupTarget     // only Review/Fixup populate this
	Next         NextStep
	Warnings     []string
}

// FixupTarget is a proposed edit unit: a path relative to the sandbox
// root and a sequence of hunks, as produced by Review/Fixup postprocess
// (spec.md §3, §4.9). The concrete hunk shape lives in internal/fixup;
// phase only needs to carry it opaquely between postprocess and the
// orchestrator.
type FixupTarget struct {
	Path  string
	Hunks []byte // serialized hunk set; internal/fixup owns parsing
}

// ValidationFloor is a data-driven quality gate a phase's Postprocess may
// apply: a minimum artifact length and a set of section headers that must
// appear (spec.md §4.7's "length floors per phase, required section
// headers"). Implementers may make these data-driven rather than
// hard-coded, per the Open Question in spec.md §9.
type ValidationFloor struct {
	MinLines           int
	RequiredHeadings   []string
	RejectMetaPrefixes []string
}

// Phase is the capability bundle every concrete phase implements: identity,
// dependency set (via specid.PhaseId.DependsOn), deterministic prompt
// construction, packet assembly, and response postprocessing.
type Phase interface {
	ID() specid.PhaseId
	Prompt(ctx Context) (string, error)
	BuildPacket(ctx Context, maxBytes, maxLines int) (*packet.Packet, error)
	Postprocess(ctx Context, rawResponse string) (Result, error)
	ValidationFloor() ValidationFloor
}

// Registry holds one Phase implementation per specid.PhaseId, frozen
// after construction (spec.md §9: "the phase registry is frozen after
// construction").
type Registry struct {
	phases map[specid.PhaseId]Phase
}

// NewRegistry builds a Registry from phases, keyed by each Phase's own
// ID(). Returns an error if a phase id is missing or duplicated.
func NewRegistry(phases ...Phase) (*Registry, error) {
	m := make(map[specid.PhaseId]Phase, len(phases))
	for _, p := range phases {
		id := p.ID()
		if !id.Valid() {
			return nil, &InvalidPhaseError{ID: id}
		}
		if _, exists := m[id]; exists {
			return nil, &DuplicatePhaseError{ID: id}
		}
		m[id] = p
	}
	return &Registry{phases: m}, nil
}

// Get returns the Phase registered for id, or ok=false if none is
// registered.
func (r *Registry) Get(id specid.PhaseId) (Phase, bool) {
	p, ok := r.phases[id]
	return p, ok
}

// InvalidPhaseError is returned by NewRegistry for an unrecognized phase id.
type InvalidPhaseError struct{ ID specid.PhaseId }

func (e *InvalidPhaseError) Error() string { return "phase: invalid phase id: " + string(e.ID) }

// DuplicatePhaseError is returned by NewRegistry when two phases share an id.
type DuplicatePhaseError struct{ ID specid.PhaseId }

func (e *DuplicatePhaseError) Error() string {
	return "phase: duplicate registration for phase id: " + string(e.ID)
}

// CheckValidationFloor applies floor's length/heading/meta-prefix checks to
// text, returning a non-nil error naming the first violation found
// (spec.md §4.7's "length floors per phase, required section headers,
// rejection of meta-summary prefixes"). Callers under strict_validation
// treat a non-nil return as validation_failed; otherwise they log it as a
// warning.
func CheckValidationFloor(floor ValidationFloor, text string) error {
	lines := strings.Split(text, "\n")
	if floor.MinLines > 0 && len(lines) < floor.MinLines {
		return fmt.Errorf("phase: artifact has %d lines, below floor of %d", len(lines), floor.MinLines)
	}
	for _, heading := range floor.RequiredHeadings {
		if !strings.Contains(text, heading) {
			return fmt.Errorf("phase: artifact missing required heading %q", heading)
		}
	}
	trimmed := strings.TrimSpace(text)
	for _, prefix := range floor.RejectMetaPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return fmt.Errorf("phase: artifact begins with rejected meta-summary prefix %q", prefix)
		}
	}
	return nil
}

// CoreSummary is the deterministic structured companion every Markdown
// artifact is paired with (the "<NN-name>.core.yaml" sibling named in
// spec.md §3). It does not attempt to re-derive the model's full output;
// it records the metadata an operator or later phase needs without
// re-parsing prose.
type CoreSummary struct {
	SpecID    string `yaml:"spec_id"`
	Phase     string `yaml:"phase"`
	Title     string `yaml:"title"`
	LineCount int    `yaml:"line_count"`
}

// BuildCoreSummary derives a CoreSummary from markdown's first heading
// line (or the phase id if none is present) and its line count.
func BuildCoreSummary(specID specid.SpecId, id specid.PhaseId, markdown string) CoreSummary {
	title := string(id)
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			title = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			break
		}
	}
	return CoreSummary{
		SpecID:    string(specID),
		Phase:     string(id),
		Title:     title,
		LineCount: len(strings.Split(markdown, "\n")),
	}
}

// EncodeCoreSummary marshals a CoreSummary to YAML bytes for the
// ".core.yaml" artifact.
func EncodeCoreSummary(s CoreSummary) ([]byte, error) {
	b, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("phase: marshal core summary: %w", err)
	}
	return b, nil
}
