package config

// RunnerConfig configures external process invocation (spec.md §4.5): a
// wall-clock timeout and bounded stdout/stderr ring buffers, so a runaway
// provider process can never exhaust host memory.
type RunnerConfig struct {
	TimeoutSeconds    int `yaml:"timeout_seconds"`
	StdoutBufferBytes int `yaml:"stdout_buffer_bytes"`
	StderrBufferBytes int `yaml:"stderr_buffer_bytes"`
}
