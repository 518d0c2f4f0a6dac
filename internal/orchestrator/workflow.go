package orchestrator

import (
	"context"
	"fmt"

	"xchecker/internal/receipt"
	"xchecker/pkg/specid"
)

// WorkflowResult is the outcome of a full multi-phase run.
type WorkflowResult struct {
	Receipts    []receipt.Receipt
	RewindCount int
	Stopped     bool // true if a phase returned NextStepStop
}

// ErrTooManyRewinds is returned when a workflow would exceed MaxRewinds.
var ErrTooManyRewinds = fmt.Errorf("orchestrator: workflow exceeded the maximum of %d rewinds", MaxRewinds)

// RunWorkflow drives phases in dependency order starting at from, through
// to and including Final (or until a phase reports NextStepStop), replaying
// forward from a rewind target whenever a phase's postprocess requests one.
// A hard cap of two rewinds per workflow prevents infinite loops (spec.md
// §4.8, "Multi-phase execution with rewind").
func (o *Orchestrator) RunWorkflow(ctx context.Context, specID specid.SpecId, from specid.PhaseId) (WorkflowResult, error) {
	result := WorkflowResult{}
	current := from
	rewinds := 0

	for {
		r, err := o.RunPhase(ctx, specID, current)
		if err != nil {
			return result, err
		}
		result.Receipts = append(result.Receipts, r)

		if r.ExitCode != 0 {
			return result, nil
		}

		if r.Flags != nil {
			if _, rewound := r.Flags["rewind_triggered"]; rewound {
				rewinds++
				result.RewindCount = rewinds
				if rewinds > MaxRewinds {
					return result, ErrTooManyRewinds
				}
				target, ok := r.Flags["rewind_target"].(string)
				if !ok || !specid.PhaseId(target).Valid() {
					return result, fmt.Errorf("orchestrator: malformed rewind_target flag %v", r.Flags["rewind_target"])
				}
				current = specid.PhaseId(target)
				continue
			}
		}

		if isTerminal(r) {
			result.Stopped = true
			return result, nil
		}

		next, ok := specid.PhaseId(r.Phase).Next()
		if !ok {
			result.Stopped = true
			return result, nil
		}
		current = next
	}
}

// isTerminal reports whether r's phase is the workflow's last phase
// (spec.md's NextStepStop is only ever returned by Final's postprocess, but
// state derivation itself — rather than trusting the in-memory Result — is
// what RunWorkflow can see from a receipt, so it treats reaching Final
// successfully as terminal).
func isTerminal(r receipt.Receipt) bool {
	return specid.PhaseId(r.Phase) == specid.Final
}
