package config

// PacketConfig bounds the deterministic context packet a phase assembles
// before invoking the provider (spec.md §4.6): a packet is sealed only if
// it stays within both the byte and line budget, otherwise it overflows.
type PacketConfig struct {
	MaxBytes int `yaml:"max_bytes"`
	MaxLines int `yaml:"max_lines"`
}

// LockConfig configures the advisory per-spec lock's staleness window
// (spec.md §4.4).
type LockConfig struct {
	// TTL is a time.ParseDuration string; a lock older than this is
	// considered stale regardless of owning-PID liveness.
	TTL string `yaml:"ttl"`
}
