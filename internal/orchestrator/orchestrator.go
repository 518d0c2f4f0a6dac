// Package orchestrator drives the fixed six-phase pipeline: single-phase
// execution through the ten-step sequence (§4.8), multi-phase workflows
// with bounded rewind, and state derivation from receipt history.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"xchecker/internal/canon"
	"xchecker/internal/fixup"
	"xchecker/internal/llmadapter"
	"xchecker/internal/lock"
	"xchecker/internal/logging"
	"xchecker/internal/packet"
	"xchecker/internal/phase"
	"xchecker/internal/receipt"
	"xchecker/internal/redact"
	"xchecker/internal/sandbox"
	"xchecker/pkg/specid"
)

// MaxRewinds is the hard cap on rewinds per workflow (spec.md §4.8).
const MaxRewinds = 2

// artifactBaseName maps each phase to its promoted artifact's base name
// (spec.md §6's state directory layout).
var artifactBaseName = map[specid.PhaseId]string{
	specid.Requirements: "00-requirements",
	specid.Design:       "10-design",
	specid.Tasks:        "20-tasks",
	specid.Review:       "30-review",
	specid.Fixup:        "40-fixup",
	specid.Final:        "50-final",
}

// Config carries the tunables every RunPhase call needs.
type Config struct {
	PacketMaxBytes   int
	PacketMaxLines   int
	RunnerTimeout    time.Duration
	Model            string
	ProviderName     string // pinned into the reproducibility lockfile alongside Model
	StrictValidation bool
	StrictDrift      bool
	BreakStaleLock   bool
	Runner           string // "native" or "wsl", recorded on every receipt
	RunnerDistro     string

	// DebugMode enables the secondary category-gated file logger under
	// <home>/specs/<id>/context/log/ (internal/logging). Off by default;
	// zap already covers ordinary operational logging.
	DebugMode bool
}

// DefaultConfig returns the packet/runner defaults named in spec.md §4.6/§4.5.
func DefaultConfig() Config {
	return Config{
		PacketMaxBytes: 65536,
		PacketMaxLines: 1200,
		RunnerTimeout:  600 * time.Second,
		Runner:         "native",
	}
}

// Orchestrator wires the phase registry, provider, lock manager, and
// redactor together to drive phase execution for specs rooted at specsDir.
type Orchestrator struct {
	specsDir string
	registry *phase.Registry
	provider llmadapter.Provider
	locks    *lock.Manager
	redactor *redact.Redactor
	logger   *zap.Logger
	cfg      Config
}

// New builds an Orchestrator.
func New(specsDir string, registry *phase.Registry, provider llmadapter.Provider, locks *lock.Manager, redactor *redact.Redactor, logger *zap.Logger, cfg Config) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		specsDir: specsDir,
		registry: registry,
		provider: provider,
		locks:    locks,
		redactor: redactor,
		logger:   logger,
		cfg:      cfg,
	}
}

func (o *Orchestrator) specDir(specID specid.SpecId) string {
	return filepath.Join(o.specsDir, string(specID))
}

func (o *Orchestrator) openSandbox(specID specid.SpecId) (*sandbox.Sandbox, error) {
	dir := o.specDir(specID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("orchestrator: prepare spec dir: %w", err)
	}
	return sandbox.New(dir, sandbox.Options{})
}

// CurrentPhase derives the current completed phase: the maximum-order phase
// whose latest receipt has exit_code == 0 (spec.md §4.8, "State
// derivation"). ok is false if no phase has ever completed successfully.
func (o *Orchestrator) CurrentPhase(specID specid.SpecId) (specid.PhaseId, bool, error) {
	sb, err := o.openSandbox(specID)
	if err != nil {
		return "", false, err
	}
	store := receipt.NewStore(sb)

	var current specid.PhaseId
	found := false
	for _, p := range specid.All {
		r, ok, err := store.Latest(string(p))
		if err != nil {
			return "", false, err
		}
		if ok && r.ExitCode == 0 {
			if !found || p.Rank() > current.Rank() {
				current = p
				found = true
			}
		}
	}
	return current, found, nil
}

// completedSet returns the set of phases with a successful latest receipt.
func (o *Orchestrator) completedSet(store *receipt.Store) (map[specid.PhaseId]bool, error) {
	done := map[specid.PhaseId]bool{}
	for _, p := range specid.All {
		r, ok, err := store.Latest(string(p))
		if err != nil {
			return nil, err
		}
		if ok && r.ExitCode == 0 {
			done[p] = true
		}
	}
	return done, nil
}

// readProblemStatement reads the spec's read-only problem statement input.
func readProblemStatement(sb *sandbox.Sandbox) (string, error) {
	resolved, err := sb.Resolve("problem_statement.txt")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("orchestrator: problem_statement.txt not found")
		}
		return "", err
	}
	return string(data), nil
}

// priorArtifacts reads the promoted artifact bytes for every phase that
// target depends on, keyed by the conventional artifact path.
func priorArtifacts(sb *sandbox.Sandbox, target specid.PhaseId) map[string][]byte {
	out := map[string][]byte{}
	for _, dep := range target.DependsOn() {
		base, ok := artifactBaseName[dep]
		if !ok {
			continue
		}
		for _, ext := range []string{".md", ".core.yaml"} {
			rel := filepath.Join("artifacts", base+ext)
			resolved, err := sb.Resolve(rel)
			if err != nil {
				continue
			}
			if data, err := os.ReadFile(resolved); err == nil {
				out[filepath.ToSlash(rel)] = data
			}
		}
	}
	return out
}

// sweepPartial removes any leftover staging content from a prior, possibly
// crashed, run before this phase starts (spec.md §4.8 step 1).
func sweepPartial(sb *sandbox.Sandbox) error {
	resolved, err := sb.Resolve(".partial")
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(resolved, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func nowReceiptBase(specID specid.SpecId, target specid.PhaseId) receipt.Receipt {
	return receipt.Receipt{
		SchemaVersion:           receipt.SchemaVersion,
		EmittedAt:               time.Now().UTC(),
		CanonicalizationBackend: "jcs-rfc8785",
		SpecID:                  string(specID),
		Phase:                   string(target),
		Pipeline:                receipt.Pipeline{ExecutionStrategy: "controlled"},
	}
}

func (o *Orchestrator) writeFailureReceipt(store *receipt.Store, base receipt.Receipt, kind receipt.ErrorKind, reason string, warnings []string) (receipt.Receipt, error) {
	base.ExitCode = kind.ExitCode()
	base.ErrorKind = kind
	base.ErrorReason = o.redactor.Redact(reason)
	base.Warnings = warnings
	if base.Outputs == nil {
		base.Outputs = []receipt.Output{}
	}
	if _, err := store.Write(base); err != nil {
		return base, fmt.Errorf("orchestrator: write failure receipt: %w", err)
	}
	return base, nil
}

// RunPhase executes target for specID through the fixed ten-step pipeline
// (spec.md §4.8). It always returns a receipt; errors are returned only for
// conditions that precede any receipt being written (e.g. the lock manager
// itself failing unexpectedly).
func (o *Orchestrator) RunPhase(ctx context.Context, specID specid.SpecId, target specid.PhaseId) (receipt.Receipt, error) {
	if err := specID.Validate(); err != nil {
		return receipt.Receipt{}, fmt.Errorf("orchestrator: %w", err)
	}
	if !target.Valid() {
		return receipt.Receipt{}, fmt.Errorf("orchestrator: invalid phase %q", target)
	}

	impl, ok := o.registry.Get(target)
	if !ok {
		return receipt.Receipt{}, fmt.Errorf("orchestrator: no phase registered for %q", target)
	}

	o.logger.Info("phase starting", zap.String("spec_id", string(specID)), zap.String("phase", string(target)))

	diag := logging.New(filepath.Join(o.specDir(specID), "context"), o.cfg.DebugMode)
	defer diag.Close()
	diag.Logf(logging.CategoryOrchestrator, "phase %s starting for spec %s", target, specID)

	sb, err := o.openSandbox(specID)
	if err != nil {
		return receipt.Receipt{}, err
	}
	store := receipt.NewStore(sb)
	base := nowReceiptBase(specID, target)
	base.Runner = o.cfg.Runner
	base.RunnerDistro = o.cfg.RunnerDistro

	// Step 1: sweep leftover staging content.
	if err := sweepPartial(sb); err != nil {
		return receipt.Receipt{}, fmt.Errorf("orchestrator: sweep partial: %w", err)
	}

	// Step 2: validate the transition.
	done, err := o.completedSet(store)
	if err != nil {
		return receipt.Receipt{}, fmt.Errorf("orchestrator: read completed phases: %w", err)
	}
	for _, dep := range target.DependsOn() {
		if !done[dep] {
			return o.writeFailureReceipt(store, base, receipt.ErrorCLIArgs,
				fmt.Sprintf("phase %q requires completed phase %q", target, dep), nil)
		}
	}

	var warnings []string

	// Reproducibility drift check (spec.md §3, "Reproducibility Lockfile"):
	// compare the pinned provider/model/schema against the current run's,
	// failing closed in strict mode before any phase work begins.
	currentPin := lock.ReproPin{Provider: o.cfg.ProviderName, Model: o.cfg.Model, SchemaVersion: receipt.SchemaVersion}
	if pinned, ok, err := lock.ReadReproPin(o.specsDir, string(specID)); err != nil {
		return receipt.Receipt{}, fmt.Errorf("orchestrator: read reproducibility lockfile: %w", err)
	} else if ok {
		if drifts := lock.CheckDrift(pinned, currentPin); len(drifts) > 0 {
			reason := formatDrift(drifts)
			if o.cfg.StrictDrift {
				return o.writeFailureReceipt(store, base, receipt.ErrorCLIArgs, reason, nil)
			}
			warnings = append(warnings, reason)
		}
	}

	// Step 3: acquire the spec lock.
	handle, err := o.locks.Acquire(string(specID), o.cfg.BreakStaleLock)
	if err != nil {
		if err == lock.ErrHeld {
			return o.writeFailureReceipt(store, base, receipt.ErrorLockHeld, err.Error(), warnings)
		}
		return receipt.Receipt{}, fmt.Errorf("orchestrator: acquire lock: %w", err)
	}
	defer handle.Release()

	diag.Logf(logging.CategoryLock, "acquired lock for spec %s", specID)
	if handle.Warning != "" {
		warnings = append(warnings, handle.Warning)
		o.logger.Warn("stale lock broken", zap.String("spec_id", string(specID)), zap.String("detail", handle.Warning))
		diag.Logf(logging.CategoryLock, "stale lock broken: %s", handle.Warning)
	}

	// Step 4: assemble context and build the packet.
	problemStatement, err := readProblemStatement(sb)
	if err != nil {
		return o.writeFailureReceipt(store, base, receipt.ErrorCLIArgs, err.Error(), warnings)
	}
	phaseCtx := phase.Context{
		SpecID:           specID,
		Sandbox:          sb,
		ProblemStatement: problemStatement,
		PriorArtifacts:   priorArtifacts(sb, target),
		StrictValidation: o.cfg.StrictValidation,
	}

	pkt, err := impl.BuildPacket(phaseCtx, o.cfg.PacketMaxBytes, o.cfg.PacketMaxLines)
	if err != nil {
		kind := receipt.ErrorUnknown
		if _, ok := err.(*packet.ErrOverflow); ok {
			kind = receipt.ErrorPacketOverflow
		}
		if _, ok := err.(*packet.ErrUpstreamOversize); ok {
			kind = receipt.ErrorPacketOverflow
		}
		return o.writeFailureReceipt(store, base, kind, err.Error(), warnings)
	}
	base.Packet = receipt.FromPacket(pkt, o.cfg.PacketMaxBytes, o.cfg.PacketMaxLines)
	warnings = append(warnings, pkt.Warnings...)
	diag.Logf(logging.CategoryPacket, "built packet: %d bytes, %d lines, %d warnings", pkt.TotalBytes, pkt.TotalLines, len(pkt.Warnings))
	if len(pkt.Warnings) > 0 {
		if err := writePacketManifest(sb, target, pkt, o.cfg.PacketMaxBytes, o.cfg.PacketMaxLines); err != nil {
			o.logger.Warn("failed to write packet manifest", zap.String("spec_id", string(specID)), zap.String("phase", string(target)), zap.Error(err))
		}
	}

	prompt, err := impl.Prompt(phaseCtx)
	if err != nil {
		return o.writeFailureReceipt(store, base, receipt.ErrorCLIArgs, err.Error(), warnings)
	}

	// Step 5: scan packet content and planned filenames for secrets.
	if hit := o.scanForSecrets(pkt, prompt, target); hit != "" {
		return o.writeFailureReceipt(store, base, receipt.ErrorSecretDetected, hit, warnings)
	}

	// Step 6: invoke the provider.
	req := llmadapter.Request{
		Messages: []llmadapter.Message{{Role: "user", Content: prompt}},
		Model:    o.cfg.Model,
		Timeout:  int(o.cfg.RunnerTimeout.Seconds()),
	}
	resp, err := o.provider.Invoke(ctx, req)
	if err != nil {
		// Step 7: save partial output, construct failure receipt.
		o.logger.Warn("provider invocation failed", zap.String("spec_id", string(specID)), zap.String("phase", string(target)), zap.Error(err))
		diag.Logf(logging.CategoryRunner, "provider invocation failed: %v", err)
		return o.handleProviderFailure(sb, store, base, target, warnings, err)
	}
	diag.Logf(logging.CategoryRunner, "provider invocation ok: model=%s tokens_in=%d tokens_out=%d", resp.ModelUsed, resp.TokensInput, resp.TokensOutput)

	base.LLM = &receipt.LLMMetadata{
		Provider:       resp.Provider,
		ModelUsed:      resp.ModelUsed,
		TokensInput:    resp.TokensInput,
		TokensOutput:   resp.TokensOutput,
		TimedOut:       resp.TimedOut,
		TimeoutSeconds: int(o.cfg.RunnerTimeout.Seconds()),
	}

	// Step 8: postprocess.
	result, err := impl.Postprocess(phaseCtx, resp.RawResponse)
	if err != nil {
		savePartial(sb, target, resp.RawResponse)
		o.logger.Warn("postprocess validation failed", zap.String("spec_id", string(specID)), zap.String("phase", string(target)), zap.Error(err))
		return o.writeFailureReceipt(store, base, receipt.ErrorValidationFailed, err.Error(), warnings)
	}
	warnings = append(warnings, result.Warnings...)

	// Fixup targets (from Review or Fixup postprocess) are applied now, as
	// part of this phase's execution (spec.md §4.9: "consumes a list of
	// fixup targets produced by Review/Fixup postprocess").
	applied, fixupWarnings := o.applyFixupTargets(sb, result.FixupTargets)
	warnings = append(warnings, fixupWarnings...)
	if len(result.FixupTargets) > 0 {
		diag.Logf(logging.CategoryFixup, "applied %d fixup targets, %d warnings", len(applied), len(fixupWarnings))
	}

	// Step 9: stage and promote artifacts. sandbox.WriteAtomic already
	// stages (temp file + fsync) then promotes via atomic rename per file,
	// so a failure partway through leaves only already-renamed files
	// promoted; nothing partially written is ever visible at the final
	// path.
	var outputs []receipt.Output
	for path, data := range result.Artifacts {
		if warning, err := sb.WriteAtomic(path, data); err != nil {
			base.Outputs = outputs
			return o.writeFailureReceipt(store, base, receipt.ErrorUnknown,
				fmt.Sprintf("promote artifact %q: %v", path, err), warnings)
		} else if warning != "" {
			warnings = append(warnings, warning)
		}
		outputs = append(outputs, receipt.Output{Path: path, BLAKE3Canonicalized: canon.HashArtifact(data)})
	}
	for _, a := range applied {
		if a.Applied {
			outputs = append(outputs, receipt.Output{Path: a.Path, BLAKE3Canonicalized: a.BLAKE3Canonicalized})
		}
	}

	// Step 10: compute receipt, write it, release the lock (deferred).
	base.ExitCode = 0
	base.Outputs = outputs
	base.Warnings = warnings
	base.Flags = map[string]any{}
	if result.Next.Kind == phase.NextStepRewind {
		base.Flags["rewind_triggered"] = true
		base.Flags["rewind_target"] = string(result.Next.RewindTo)
	}
	if len(applied) > 0 {
		base.Flags["fixup_targets_applied"] = countApplied(applied)
	}

	if _, err := store.Write(base); err != nil {
		return base, fmt.Errorf("orchestrator: write receipt: %w", err)
	}
	if _, ok, _ := lock.ReadReproPin(o.specsDir, string(specID)); !ok {
		_ = lock.WriteReproPin(o.specsDir, string(specID), currentPin)
	}
	o.logger.Info("phase completed", zap.String("spec_id", string(specID)), zap.String("phase", string(target)), zap.Int("outputs", len(outputs)))
	return base, nil
}

// formatDrift renders detected reproducibility drift as a single warning
// string (spec.md §3: "any mismatch is surfaced as drift in status output").
func formatDrift(drifts []lock.Drift) string {
	msg := "reproducibility drift detected:"
	for _, d := range drifts {
		msg += fmt.Sprintf(" %s pinned=%q current=%q;", d.Field, d.Pinned, d.Current)
	}
	return msg
}

func countApplied(outcomes []fixup.AppliedOutcome) int {
	n := 0
	for _, outcome := range outcomes {
		if outcome.Applied {
			n++
		}
	}
	return n
}

// scanForSecrets runs the redactor over packet contents, the composed
// prompt, and every planned filename; returns a non-empty reason string on
// the first hit.
func (o *Orchestrator) scanForSecrets(pkt *packet.Packet, prompt string, target specid.PhaseId) string {
	if o.redactor == nil {
		return ""
	}
	if res := o.redactor.Scan(prompt); res.Any() {
		return fmt.Sprintf("secret pattern %q detected in phase %q prompt", res.Hits[0].PatternID, target)
	}
	for path, data := range pkt.Contents {
		if res := o.redactor.Scan(string(data)); res.Any() {
			return fmt.Sprintf("secret pattern %q detected in packet file %q", res.Hits[0].PatternID, path)
		}
		if res := o.redactor.Scan(path); res.Any() {
			return fmt.Sprintf("secret pattern %q detected in packet filename %q", res.Hits[0].PatternID, path)
		}
	}
	return ""
}

// handleProviderFailure saves whatever partial output is available and
// constructs the failure receipt (spec.md §4.8 step 7). On a timeout, the
// provider's partial stdout (if any) is preserved under ".partial" so an
// operator can inspect what the model had produced before the deadline cut
// the invocation short (spec.md §4.8 step 7, end-to-end scenario 5).
func (o *Orchestrator) handleProviderFailure(sb *sandbox.Sandbox, store *receipt.Store, base receipt.Receipt, target specid.PhaseId, warnings []string, err error) (receipt.Receipt, error) {
	kind := receipt.ErrorProviderFailure
	var adapterErr *llmadapter.Error
	timedOut := false
	reason := err.Error()
	if e, ok := err.(*llmadapter.Error); ok {
		adapterErr = e
		if adapterErr.Kind == llmadapter.ErrorTimeout {
			kind = receipt.ErrorPhaseTimeout
			timedOut = true
		}
	}

	if kind == receipt.ErrorPhaseTimeout && adapterErr != nil && adapterErr.Partial != "" {
		savePartial(sb, target, adapterErr.Partial)
	}

	base.LLM = &receipt.LLMMetadata{TimedOut: timedOut, TimeoutSeconds: int(o.cfg.RunnerTimeout.Seconds())}
	stderrTail := o.redactor.Redact(reason)
	if len(stderrTail) > 2048 {
		stderrTail = stderrTail[:2048]
	}
	base.StderrRedacted = stderrTail

	return o.writeFailureReceipt(store, base, kind, reason, warnings)
}

// writePacketManifest writes the sanitized, content-free manifest of pkt
// under context/manifest/<phase>.json for operator debugging when the
// packet carried any overflow/truncation warning (spec.md §4.6, §6).
func writePacketManifest(sb *sandbox.Sandbox, target specid.PhaseId, pkt *packet.Packet, maxBytes, maxLines int) error {
	data, err := canon.Encode(pkt.Manifest(maxBytes, maxLines))
	if err != nil {
		return fmt.Errorf("orchestrator: encode packet manifest: %w", err)
	}
	rel := filepath.Join("context", "manifest", string(target)+".json")
	_, err = sb.WriteAtomic(rel, data)
	return err
}

// savePartial preserves a failed postprocess's raw response under a
// ".partial" name for operator inspection (spec.md §5, §7).
func savePartial(sb *sandbox.Sandbox, target specid.PhaseId, raw string) {
	rel := filepath.Join(".partial", string(target)+".partial")
	_, _ = sb.WriteAtomic(rel, []byte(raw))
}

// applyFixupTargets parses and applies every fixup.Target produced by this
// phase's postprocess, in order, via the Fixup Engine.
func (o *Orchestrator) applyFixupTargets(sb *sandbox.Sandbox, targets []phase.FixupTarget) ([]fixup.AppliedOutcome, []string) {
	if len(targets) == 0 {
		return nil, nil
	}
	engine := fixup.NewEngine(sb)
	var outcomes []fixup.AppliedOutcome
	var warnings []string
	for _, t := range targets {
		parsed, err := fixup.ParseTarget(t.Hunks)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("fixup target parse failed: %v", err))
			continue
		}
		outcome := engine.Apply(parsed, false)
		if outcome.Err != nil {
			warnings = append(warnings, fmt.Sprintf("fixup target %q failed: %v", outcome.Path, outcome.Err))
		}
		if outcome.Warning != "" {
			warnings = append(warnings, outcome.Warning)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, warnings
}
