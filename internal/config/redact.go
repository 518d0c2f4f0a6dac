package config

import (
	"fmt"
	"regexp"

	"xchecker/internal/redact"
)

// PatternRule is a user-supplied redaction pattern, YAML-serializable (the
// compiled form, redact.Pattern, carries a *regexp.Regexp and is not).
type PatternRule struct {
	ID      string `yaml:"id"`
	Pattern string `yaml:"pattern"`
}

// RedactConfig configures the user overlay on top of the redactor's frozen
// mandatory pattern set (spec.md §4.3).
type RedactConfig struct {
	AdditionalPatterns []PatternRule `yaml:"additional_patterns,omitempty"`
	Suppress           []string      `yaml:"suppress,omitempty"`
}

// BuildRedactor compiles this RedactConfig into a frozen redact.Redactor.
func (r RedactConfig) BuildRedactor() (*redact.Redactor, error) {
	patterns := make([]redact.Pattern, 0, len(r.AdditionalPatterns))
	for _, rule := range r.AdditionalPatterns {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("config: compile redact pattern %q: %w", rule.ID, err)
		}
		patterns = append(patterns, redact.Pattern{ID: rule.ID, Regexp: re})
	}
	return redact.New(redact.Options{AdditionalPatterns: patterns, Suppress: r.Suppress})
}
