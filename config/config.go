package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable knob for a sovereign process: VM resource
// bounds, and the Ollama endpoint/model the evolution subsystem talks to.
type Config struct {
	VM struct {
		MaxDataStackDepth     int `toml:"max_data_stack_depth"`
		MaxControlStackDepth  int `toml:"max_control_stack_depth"`
		MaxMemoryCells        int `toml:"max_memory_cells"`
		MaxSteps              int `toml:"max_steps"`
		LLMRequestTimeoutSecs int `toml:"llm_request_timeout_seconds"`
	} `toml:"vm"`

	Ollama struct {
		Host           string   `toml:"host"`
		Model          string   `toml:"model"`
		FallbackModels []string `toml:"fallback_models"`
		TimeoutSeconds int      `toml:"timeout_seconds"`
	} `toml:"ollama"`

	Evolution struct {
		AcceptThreshold   float64 `toml:"accept_threshold"`
		MaxAttempts       int     `toml:"max_attempts"`
		PatternStorePath  string  `toml:"pattern_store_path"`
		SandboxMaxSteps   int     `toml:"sandbox_max_steps"`
		BridgeInitTimeout int     `toml:"bridge_init_timeout_seconds"`
	} `toml:"evolution"`

	Debug bool `toml:"debug"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	cfg := &Config{}

	cfg.VM.MaxDataStackDepth = 1024
	cfg.VM.MaxControlStackDepth = 256
	cfg.VM.MaxMemoryCells = 65536
	cfg.VM.MaxSteps = 1_000_000
	cfg.VM.LLMRequestTimeoutSecs = 30

	cfg.Ollama.Host = "http://localhost:11434"
	cfg.Ollama.Model = "qwen2.5-coder"
	cfg.Ollama.FallbackModels = []string{"codellama", "llama3.1"}
	cfg.Ollama.TimeoutSeconds = 30

	cfg.Evolution.AcceptThreshold = 0.7
	cfg.Evolution.MaxAttempts = 3
	cfg.Evolution.PatternStorePath = "patterns.ndjson"
	cfg.Evolution.SandboxMaxSteps = 10_000
	cfg.Evolution.BridgeInitTimeout = 5

	cfg.Debug = false

	return cfg
}

// ConfigPath returns the platform-specific config file path.
func ConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "sovereign")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "sovereign")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// Load reads configuration from path, layering it additively over Default
// (fields absent from the file keep their default value). A missing file
// is not an error: Default is returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to path, creating parent directories as
// needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- caller-supplied config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// FromEnv applies the OLLAMA_HOST, OLLAMA_MODEL and SOVEREIGN_DEBUG
// environment overrides on top of c, mutating it in place.
func (c *Config) FromEnv() {
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Ollama.Host = host
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		c.Ollama.Model = model
	}
	if debug := os.Getenv("SOVEREIGN_DEBUG"); debug != "" {
		if b, err := strconv.ParseBool(debug); err == nil {
			c.Debug = b
		}
	}
}
