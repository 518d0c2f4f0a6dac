// Package receipt defines the canonical per-phase audit record and its
// staged-then-promoted, append-only storage.
package receipt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"xchecker/internal/canon"
	"xchecker/internal/packet"
	"xchecker/internal/sandbox"
)

// SchemaVersion is the receipt schema's additive-only version tag.
const SchemaVersion = "1"

// ErrorKind closes the set of phase failure classes (spec.md §6).
type ErrorKind string

const (
	ErrorNone             ErrorKind = ""
	ErrorCLIArgs          ErrorKind = "cli_args"
	ErrorPacketOverflow   ErrorKind = "packet_overflow"
	ErrorSecretDetected   ErrorKind = "secret_detected"
	ErrorLockHeld         ErrorKind = "lock_held"
	ErrorPhaseTimeout     ErrorKind = "phase_timeout"
	ErrorProviderFailure  ErrorKind = "claude_failure"
	ErrorValidationFailed ErrorKind = "validation_failed"
	ErrorUnknown          ErrorKind = "unknown"
)

// ExitCode returns the process exit code the error taxonomy table maps
// this kind to.
func (k ErrorKind) ExitCode() int {
	switch k {
	case ErrorNone:
		return 0
	case ErrorCLIArgs:
		return 2
	case ErrorPacketOverflow:
		return 7
	case ErrorSecretDetected:
		return 8
	case ErrorLockHeld:
		return 9
	case ErrorPhaseTimeout:
		return 10
	case ErrorProviderFailure:
		return 70
	case ErrorValidationFailed:
		return 1
	default:
		return 1
	}
}

// PacketFile is one packet evidence entry.
type PacketFile struct {
	Path     string `json:"path"`
	Hash     string `json:"blake3_first8"`
	Priority string `json:"priority"`
}

// PacketEvidence records the packet's limits and file list for audit.
type PacketEvidence struct {
	MaxBytes int          `json:"max_bytes"`
	MaxLines int          `json:"max_lines"`
	Files    []PacketFile `json:"files"`
}

// Output is one promoted artifact's content hash record.
type Output struct {
	Path               string `json:"path"`
	BLAKE3Canonicalized string `json:"blake3_canonicalized"`
}

// Pipeline records the execution-strategy tag (spec.md §6).
type Pipeline struct {
	ExecutionStrategy string `json:"execution_strategy"`
}

// LLMMetadata records provider invocation details, or is omitted entirely
// (nil) when no provider call was made (e.g. secret_detected abort).
type LLMMetadata struct {
	Provider       string `json:"provider"`
	ModelUsed      string `json:"model_used"`
	TokensInput    *int   `json:"tokens_input,omitempty"`
	TokensOutput   *int   `json:"tokens_output,omitempty"`
	TimedOut       bool   `json:"timed_out"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// Receipt is the canonical per-phase execution audit record (spec.md §6).
type Receipt struct {
	SchemaVersion           string          `json:"schema_version"`
	EmittedAt               time.Time       `json:"emitted_at"`
	CanonicalizationBackend string          `json:"canonicalization_backend"`
	SpecID                  string          `json:"spec_id"`
	Phase                   string          `json:"phase"`
	ExitCode                int             `json:"exit_code"`
	ErrorKind               ErrorKind       `json:"error_kind,omitempty"`
	ErrorReason             string          `json:"error_reason,omitempty"`
	Packet                  *PacketEvidence `json:"packet,omitempty"`
	Outputs                 []Output        `json:"outputs"`
	Pipeline                Pipeline        `json:"pipeline"`
	LLM                     *LLMMetadata    `json:"llm,omitempty"`
	Runner                  string          `json:"runner"`
	RunnerDistro            string          `json:"runner_distro,omitempty"`
	Flags                   map[string]any  `json:"flags,omitempty"`
	Warnings                []string        `json:"warnings,omitempty"`
	StderrRedacted          string          `json:"stderr_redacted,omitempty"`
}

// FromPacket converts a packet.Packet into its receipt evidence form,
// sorted by path ascending as §6 requires for observable-order arrays.
func FromPacket(p *packet.Packet, maxBytes, maxLines int) *PacketEvidence {
	if p == nil {
		return nil
	}
	files := make([]PacketFile, len(p.Files))
	for i, f := range p.Files {
		files[i] = PacketFile{Path: f.Path, Hash: f.Hash, Priority: f.Priority.String()}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return &PacketEvidence{MaxBytes: maxBytes, MaxLines: maxLines, Files: files}
}

// SortOutputs sorts outputs by path ascending, the order §6 requires.
func SortOutputs(outputs []Output) {
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Path < outputs[j].Path })
}

// Store writes receipts under <specsDir>/<specID>/receipts/, one
// append-only file per execution named <phase>-<iso-timestamp>.json.
type Store struct {
	sb *sandbox.Sandbox
}

// NewStore builds a Store rooted at sb (the spec's sandboxed state
// directory).
func NewStore(sb *sandbox.Sandbox) *Store {
	return &Store{sb: sb}
}

// Write canonically encodes r and atomically writes it to its
// append-only receipt file, returning the relative path written.
func (s *Store) Write(r Receipt) (string, error) {
	SortOutputs(r.Outputs)

	data, err := canon.Encode(r)
	if err != nil {
		return "", fmt.Errorf("receipt: encode: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", r.Phase, r.EmittedAt.UTC().Format("20060102T150405.000000000Z"))
	rel := filepath.Join("receipts", name)

	if _, err := s.sb.WriteAtomic(rel, data); err != nil {
		return "", fmt.Errorf("receipt: write: %w", err)
	}
	return rel, nil
}

// Latest reads all receipts for phase under specDir's receipts directory
// and returns the one with the greatest emitted_at, or ok=false if none
// exist.
func (s *Store) Latest(phase string) (Receipt, bool, error) {
	dir, err := s.sb.Resolve("receipts")
	if err != nil {
		return Receipt{}, false, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Receipt{}, false, nil
		}
		return Receipt{}, false, fmt.Errorf("receipt: list: %w", err)
	}

	var latest Receipt
	found := false
	prefix := phase + "-"
	for _, e := range entries {
		if e.IsDir() || len(e.Name()) < len(prefix) || e.Name()[:len(prefix)] != prefix {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var r Receipt
		if err := canon.Decode(data, &r); err != nil {
			continue
		}
		if !found || r.EmittedAt.After(latest.EmittedAt) {
			latest = r
			found = true
		}
	}
	return latest, found, nil
}
