package evolution

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tinymachines/sovereign/parser"
	"github.com/tinymachines/sovereign/vm"
)

// SandboxConfig bounds a candidate-validation run far tighter than a
// normal VM, so a misbehaving candidate cannot consume unbounded time or
// memory while it is still unproven.
type SandboxConfig struct {
	MaxSteps             int
	Timeout              time.Duration
	MaxDataStackDepth    int
	MaxControlStackDepth int
	MaxMemoryCells       int
}

// DefaultSandboxConfig returns the bounds used when validating evolution
// candidates: a far tighter VMConfig than an ordinary run gets.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		MaxSteps:             1_000,
		Timeout:              1 * time.Second,
		MaxDataStackDepth:    100,
		MaxControlStackDepth: 20,
		MaxMemoryCells:       1_000,
	}
}

// ValidationResult is the outcome of sandboxing one candidate fix.
type ValidationResult struct {
	SandboxID        string
	Score            float64
	Accepted         bool
	Parsed           bool
	TerminatedCleanly bool
	ReproducedCause  bool
	WithinBounds     bool
}

const acceptThreshold = 0.7

// Validate parses and runs candidate under tight sandbox bounds, scoring
// it against the failure (originalCategory) it is meant to fix. The score
// is a weighted sum of four boolean checks; scores above acceptThreshold
// mark the candidate Accepted.
func Validate(candidate string, originalCategory string, cfg SandboxConfig) ValidationResult {
	result := ValidationResult{SandboxID: uuid.NewString()}

	program, err := parser.Parse(candidate)
	if err != nil {
		return result
	}
	result.Parsed = true

	vmCfg := vm.DefaultConfig()
	if cfg.MaxSteps > 0 {
		vmCfg.MaxSteps = cfg.MaxSteps
	}
	if cfg.MaxDataStackDepth > 0 {
		vmCfg.MaxDataStackDepth = cfg.MaxDataStackDepth
	}
	if cfg.MaxControlStackDepth > 0 {
		vmCfg.MaxControlStackDepth = cfg.MaxControlStackDepth
	}
	if cfg.MaxMemoryCells > 0 {
		vmCfg.MaxMemoryCells = cfg.MaxMemoryCells
	}
	instance := vm.New(program, candidate, vmCfg, vm.NewRegistry(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	runErr := instance.Run(ctx)
	result.TerminatedCleanly = runErr == nil
	result.WithinBounds = !vm.IsKind(runErr, vm.ErrStepLimitExceeded) &&
		!vm.IsKind(runErr, vm.ErrMemoryLimitExceeded) &&
		!vm.IsKind(runErr, vm.ErrStackOverflow) &&
		!vm.IsKind(runErr, vm.ErrCallDepthExceeded)

	if runErr != nil {
		result.ReproducedCause = categorize(runErr.Error()) == originalCategory
	}

	result.Score = weightedScore(result)
	result.Accepted = result.Score > acceptThreshold
	return result
}

func weightedScore(r ValidationResult) float64 {
	var score float64
	if r.Parsed {
		score += 0.25
	}
	if r.TerminatedCleanly {
		score += 0.35
	}
	if !r.ReproducedCause {
		score += 0.25
	}
	if r.WithinBounds {
		score += 0.15
	}
	return score
}
