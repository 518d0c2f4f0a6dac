package orchestrator

// Hook execution is an open question in spec.md §9, resolved here as:
// the orchestrator does not invoke any hook binary or script itself. It
// documents the environment-variable contract a future hook runner would
// receive, so that a caller wiring its own pre/post-phase automation (CI
// step, notification webhook, custom audit sink) can read the same
// variables a first-party hook runner would set, without the core
// depending on a process-spawn surface it does not otherwise need.
//
// A hook invocation, if one existed, would receive:
//
//	SPEC_ID    - the spec.md spec id being executed (specid.SpecId)
//	PHASE      - the phase id about to run, or that just completed
//	HOOK_TYPE  - "pre" or "post"
//
// No part of this package sets these variables or spawns a process; this
// file exists purely as the documented contract point named in
// SPEC_FULL.md's Non-goals section.
const (
	HookEnvSpecID = "SPEC_ID"
	HookEnvPhase  = "PHASE"
	HookEnvType   = "HOOK_TYPE"
	HookTypePre   = "pre"
	HookTypePost  = "post"
)
