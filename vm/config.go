package vm

import "time"

// Config bounds the resources a VM instance is allowed to consume. Every
// limit is independently enforced at dispatch time; hitting any one of them
// produces the matching typed error rather than a panic or silent
// truncation.
type Config struct {
	MaxDataStackDepth    int           `toml:"max_data_stack_depth"`
	MaxControlStackDepth int           `toml:"max_control_stack_depth"`
	MaxMemoryCells       int           `toml:"max_memory_cells"`
	MaxSteps             int           `toml:"max_steps"`
	LLMRequestTimeout    time.Duration `toml:"llm_request_timeout"`
}

// DefaultConfig returns the resource bounds used when no Config is supplied.
// Sandboxed evolution candidates run under a much tighter variant; see
// evolution.SandboxConfig.
func DefaultConfig() Config {
	return Config{
		MaxDataStackDepth:    1024,
		MaxControlStackDepth: 256,
		MaxMemoryCells:       65536,
		MaxSteps:             1_000_000,
		LLMRequestTimeout:    30 * time.Second,
	}
}
