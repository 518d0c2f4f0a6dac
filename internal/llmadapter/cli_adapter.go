package llmadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"xchecker/internal/runner"
)

// CLIConfig configures a CLIAdapter invocation of an external provider
// binary as a subprocess, one completion per call.
type CLIConfig struct {
	Executable string // resolved path, e.g. "claude", "codex"
	ExtraArgs  []string

	Timeout           time.Duration
	StdoutBufferBytes int
	StderrBufferBytes int
}

// cliResponseEnvelope is the shape a CLI adapter expects on its last
// valid stdout JSON line: {"result": {"content":[{"text":"..."}]}, "error":
// "...", "model": "...", "tokens_input": N, "tokens_output": N}.
type cliResponseEnvelope struct {
	Result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
	Error        string `json:"error,omitempty"`
	Model        string `json:"model,omitempty"`
	TokensInput  *int   `json:"tokens_input,omitempty"`
	TokensOutput *int   `json:"tokens_output,omitempty"`
}

// CLIAdapter wraps internal/runner to satisfy Provider over an external
// provider CLI invoked as a subprocess with a fully specified argument
// vector — no shell interpolation.
type CLIAdapter struct {
	cfg CLIConfig
}

// NewCLIAdapter builds a CLIAdapter for cfg.
func NewCLIAdapter(cfg CLIConfig) *CLIAdapter {
	return &CLIAdapter{cfg: cfg}
}

// Invoke implements Provider.
func (a *CLIAdapter) Invoke(ctx context.Context, req Request) (Response, error) {
	args := a.buildArgs(req)

	timeout := a.cfg.Timeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}

	result, err := runner.Run(ctx, runner.Spec{
		Path:              a.cfg.Executable,
		Args:              args,
		Timeout:           timeout,
		StdoutBufferBytes: a.cfg.StdoutBufferBytes,
		StderrBufferBytes: a.cfg.StderrBufferBytes,
	})
	if err != nil {
		return Response{}, &Error{Kind: ErrorTransport, Reason: "failed to start provider process", Err: err}
	}

	if result.TimedOut {
		partial := string(result.StdoutTail)
		return Response{TimedOut: true, RawResponse: partial}, &Error{
			Kind:    ErrorTimeout,
			Reason:  "provider invocation exceeded wall-clock deadline",
			Partial: partial,
		}
	}

	if result.Kind == runner.KindNoValidJSON {
		return Response{}, &Error{Kind: ErrorTransport, Reason: "no valid json object in provider stdout"}
	}

	var env cliResponseEnvelope
	if err := json.Unmarshal(result.JSON, &env); err != nil {
		return Response{}, &Error{Kind: ErrorTransport, Reason: "malformed provider response envelope", Err: err}
	}

	if env.Error != "" {
		kind := ErrorOutage
		if isRateLimitMessage(env.Error) {
			kind = ErrorQuota
		}
		return Response{}, &Error{Kind: kind, Reason: env.Error}
	}

	text := ""
	if len(env.Result.Content) > 0 {
		text = env.Result.Content[0].Text
	}

	modelUsed := env.Model
	if modelUsed == "" {
		modelUsed = req.Model
	}

	return Response{
		RawResponse:  text,
		Provider:     "cli",
		ModelUsed:    modelUsed,
		TokensInput:  env.TokensInput,
		TokensOutput: env.TokensOutput,
		TimedOut:     false,
	}, nil
}

func (a *CLIAdapter) buildArgs(req Request) []string {
	args := make([]string, 0, len(a.cfg.ExtraArgs)+8)
	args = append(args, a.cfg.ExtraArgs...)
	args = append(args, "--model", req.Model, "--output-format", "json")

	for _, m := range req.Messages {
		if m.Role == "system" {
			args = append(args, "--system-prompt", m.Content)
			continue
		}
		args = append(args, "-p", m.Content)
	}

	if req.MaxTokens > 0 {
		args = append(args, "--max-tokens", fmt.Sprintf("%d", req.MaxTokens))
	}

	return args
}

func isRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, needle := range []string{"rate limit", "rate_limit", "429", "quota exceeded"} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
