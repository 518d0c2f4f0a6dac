package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReproPin is the content of a spec's optional reproducibility lockfile
// (spec.md §3, "Reproducibility Lockfile (separate)"): the provider, model,
// and receipt schema version a spec was first run against. Unlike the
// advisory .lock stamp, this file is never removed by Release — it persists
// for the life of the spec so later runs can detect drift.
type ReproPin struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	SchemaVersion string `json:"schema_version"`
}

// Drift names one field where the current run's values differ from the
// pinned reproducibility lockfile.
type Drift struct {
	Field   string
	Pinned  string
	Current string
}

func reproPath(specsDir, specID string) string {
	return filepath.Join(specsDir, specID, "lock.json")
}

// ReadReproPin reads a spec's reproducibility lockfile. ok is false if none
// has been written yet (the first run of a spec has nothing to compare
// against).
func ReadReproPin(specsDir, specID string) (ReproPin, bool, error) {
	data, err := os.ReadFile(reproPath(specsDir, specID))
	if err != nil {
		if os.IsNotExist(err) {
			return ReproPin{}, false, nil
		}
		return ReproPin{}, false, fmt.Errorf("lock: read reproducibility lockfile: %w", err)
	}
	var pin ReproPin
	if err := json.Unmarshal(data, &pin); err != nil {
		return ReproPin{}, false, fmt.Errorf("lock: parse reproducibility lockfile: %w", err)
	}
	return pin, true, nil
}

// WriteReproPin writes or overwrites a spec's reproducibility lockfile,
// pinning the current run's values for future drift comparisons.
func WriteReproPin(specsDir, specID string, pin ReproPin) error {
	path := reproPath(specsDir, specID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("lock: prepare spec dir: %w", err)
	}
	data, err := json.MarshalIndent(pin, "", "  ")
	if err != nil {
		return fmt.Errorf("lock: marshal reproducibility lockfile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("lock: write reproducibility lockfile: %w", err)
	}
	return nil
}

// CheckDrift compares pinned against current and reports every field that
// differs. An empty pinned field is treated as unconstrained and never
// drifts, so a lockfile predating a newly-tracked field doesn't misfire.
func CheckDrift(pinned, current ReproPin) []Drift {
	var drifts []Drift
	fields := []struct {
		name            string
		pinned, current string
	}{
		{"provider", pinned.Provider, current.Provider},
		{"model", pinned.Model, current.Model},
		{"schema_version", pinned.SchemaVersion, current.SchemaVersion},
	}
	for _, f := range fields {
		if f.pinned != "" && f.pinned != f.current {
			drifts = append(drifts, Drift{Field: f.name, Pinned: f.pinned, Current: f.current})
		}
	}
	return drifts
}
