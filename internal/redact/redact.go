// Package redact implements the fail-closed secret-scan and redaction layer:
// a frozen set of mandatory patterns plus a user-configurable overlay, used
// to block phase execution before any external invocation or persistence
// that could later leak a credential.
package redact

import (
	"fmt"
	"regexp"
)

// Pattern is one named detection rule.
type Pattern struct {
	ID       string
	Regexp   *regexp.Regexp
	Mandatory bool
}

// mandatoryPatterns is the non-overridable baseline. It covers cloud
// provider keys, platform tokens, LLM provider keys, private key PEM blocks,
// JWT/Bearer forms, and database connection URLs, per spec.md §4.3.
var mandatoryPatterns = []Pattern{
	{ID: "aws_access_key_id", Regexp: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{ID: "aws_secret_access_key", Regexp: regexp.MustCompile(`(?i)aws(.{0,20})?secret(.{0,20})?['"]\s*[:=]\s*['"][0-9a-zA-Z/+]{40}['"]`)},
	{ID: "gcp_api_key", Regexp: regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
	{ID: "gcp_service_account", Regexp: regexp.MustCompile(`"type":\s*"service_account"`)},
	{ID: "azure_storage_key", Regexp: regexp.MustCompile(`(?i)(AccountKey|SharedAccessKey)=[A-Za-z0-9+/=]{20,}`)},
	{ID: "github_token", Regexp: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,255}`)},
	{ID: "gitlab_token", Regexp: regexp.MustCompile(`glpat-[A-Za-z0-9\-_]{20}`)},
	{ID: "slack_token", Regexp: regexp.MustCompile(`xox[baprs]-[0-9A-Za-z-]{10,72}`)},
	{ID: "stripe_key", Regexp: regexp.MustCompile(`(sk|rk)_(live|test)_[0-9a-zA-Z]{24,}`)},
	{ID: "npm_token", Regexp: regexp.MustCompile(`npm_[A-Za-z0-9]{36}`)},
	{ID: "pypi_token", Regexp: regexp.MustCompile(`pypi-AgEIcHlwaS5vcmc[A-Za-z0-9\-_]{50,}`)},
	{ID: "llm_provider_key", Regexp: regexp.MustCompile(`sk-(ant|proj|org)-[A-Za-z0-9_\-]{20,}`)},
	{ID: "llm_provider_key_legacy", Regexp: regexp.MustCompile(`\bsk-[A-Za-z0-9]{48}\b`)},
	{ID: "private_key_pem", Regexp: regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA |)PRIVATE KEY-----`)},
	{ID: "jwt", Regexp: regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)},
	{ID: "bearer_token", Regexp: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{20,}=*`)},
	{ID: "database_url", Regexp: regexp.MustCompile(`(?i)(postgres(ql)?|mysql|mongodb(\+srv)?|redis):\/\/[^:\s]+:[^@\s]+@[^\s'"]+`)},
}

func init() {
	for i := range mandatoryPatterns {
		mandatoryPatterns[i].Mandatory = true
	}
}

// Hit records one detected span.
type Hit struct {
	PatternID string
	Start     int
	End       int
}

// ScanResult is the outcome of Scan.
type ScanResult struct {
	Hits []Hit
}

// Any reports whether the scan produced at least one hit.
func (r ScanResult) Any() bool { return len(r.Hits) > 0 }

// Redactor holds the frozen pattern set: mandatory patterns plus any user
// additions, with user-suppressed non-mandatory pattern ids removed. It is
// immutable after New returns, per spec.md §5/§9 ("frozen after
// construction... no other process-global mutable state").
type Redactor struct {
	patterns []Pattern
}

// Options configures user-level additions to the mandatory pattern set.
type Options struct {
	// AdditionalPatterns are extra regexes to scan for, identified by ID.
	AdditionalPatterns []Pattern
	// Suppress lists non-mandatory pattern IDs to exclude. Suppressing a
	// mandatory pattern ID is rejected by New.
	Suppress []string
}

// New builds a frozen Redactor from the mandatory baseline plus opts.
func New(opts Options) (*Redactor, error) {
	suppressed := make(map[string]bool, len(opts.Suppress))
	for _, id := range opts.Suppress {
		suppressed[id] = true
	}

	for _, p := range mandatoryPatterns {
		if suppressed[p.ID] {
			return nil, fmt.Errorf("redact: cannot suppress mandatory pattern %q", p.ID)
		}
	}

	patterns := make([]Pattern, 0, len(mandatoryPatterns)+len(opts.AdditionalPatterns))
	patterns = append(patterns, mandatoryPatterns...)
	for _, p := range opts.AdditionalPatterns {
		if p.Mandatory {
			return nil, fmt.Errorf("redact: user pattern %q cannot declare itself mandatory", p.ID)
		}
		if suppressed[p.ID] {
			continue
		}
		if p.Regexp == nil {
			return nil, fmt.Errorf("redact: pattern %q has no regexp", p.ID)
		}
		patterns = append(patterns, p)
	}

	return &Redactor{patterns: patterns}, nil
}

// Default builds a Redactor with only the mandatory pattern set.
func Default() *Redactor {
	r, err := New(Options{})
	if err != nil {
		// unreachable: no suppression list means no mandatory conflict is possible.
		panic(err)
	}
	return r
}

// Scan reports every pattern match in content.
func (r *Redactor) Scan(content string) ScanResult {
	var hits []Hit
	for _, p := range r.patterns {
		for _, loc := range p.Regexp.FindAllStringIndex(content, -1) {
			hits = append(hits, Hit{PatternID: p.ID, Start: loc[0], End: loc[1]})
		}
	}
	return ScanResult{Hits: hits}
}

// Redact replaces every pattern match in content with
// "[REDACTED:<pattern_id>]". Replacement is computed against the original
// string's byte offsets; overlapping matches are resolved left-to-right by
// pattern iteration order, each replacement consuming its matched span.
func (r *Redactor) Redact(content string) string {
	result := content
	for _, p := range r.patterns {
		result = p.Regexp.ReplaceAllString(result, "[REDACTED:"+p.ID+"]")
	}
	return result
}

// RedactHuman replaces every pattern match with "***", for human-facing
// surfaces (CLI/terminal output) rather than machine-readable receipts.
func (r *Redactor) RedactHuman(content string) string {
	result := content
	for _, p := range r.patterns {
		result = p.Regexp.ReplaceAllString(result, "***")
	}
	return result
}

// PatternIDs returns the ids of every active pattern, mandatory and user.
func (r *Redactor) PatternIDs() []string {
	ids := make([]string, len(r.patterns))
	for i, p := range r.patterns {
		ids[i] = p.ID
	}
	return ids
}
