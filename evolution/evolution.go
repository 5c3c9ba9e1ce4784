package evolution

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tinymachines/sovereign/evolution/metrics"
)

// Evolution implements vm.LLMAdapter: it is the concrete thing a VM talks
// to for LLMGEN and EVOLVE, wiring together the Ollama client, model
// fallback chain, error-pattern memory, the sync/async bridge, and
// sandboxed candidate validation.
type Evolution struct {
	client     *Client
	registry   *ModelRegistry
	patterns   *PatternStore
	bridge     *Bridge
	metrics    *metrics.Metrics
	sandboxCfg SandboxConfig
	maxAttempts int
}

// New builds an Evolution adapter. Call Initialize before first use and
// Shutdown when done.
func New(client *Client, registry *ModelRegistry, patterns *PatternStore, maxAttempts int) *Evolution {
	return &Evolution{
		client:      client,
		registry:    registry,
		patterns:    patterns,
		bridge:      NewBridge(),
		metrics:     metrics.New(),
		sandboxCfg:  DefaultSandboxConfig(),
		maxAttempts: maxAttempts,
	}
}

// Initialize starts the evolution subsystem's background bridge.
func (e *Evolution) Initialize(timeout time.Duration) error {
	return e.bridge.Initialize(timeout)
}

// Shutdown stops the background bridge.
func (e *Evolution) Shutdown(timeout time.Duration) error {
	return e.bridge.Shutdown(timeout)
}

// Metrics returns the subsystem's prometheus registry accessor.
func (e *Evolution) Metrics() *metrics.Metrics { return e.metrics }

// GenerateCode satisfies vm.LLMAdapter for the LLMGEN opcode: it asks the
// preferred (or first healthy fallback) code-gen model to produce source
// text for prompt. timeout bounds this single call.
func (e *Evolution) GenerateCode(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	model, ok := e.registry.FallbackFor(CapabilityCodeGeneration)
	if !ok {
		return "", newEvoError(ErrLLMUnavailable, nil, "no healthy model available for code generation")
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := e.bridge.Submit(cctx, func(ctx context.Context) (string, error) {
		return e.client.Chat(ctx, model, prompt)
	})
	e.metrics.LLMLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		e.registry.MarkUnhealthy(model)
		return "", translateAdapterErr(err)
	}
	return result, nil
}

// Evolve satisfies vm.LLMAdapter for the EVOLVE opcode: given the code that
// failed and its failure description, it drives up to maxAttempts rounds of
// LLM-proposed fix -> sandbox validation, accepting the first candidate
// that scores above threshold. timeout bounds each individual LLM call.
func (e *Evolution) Evolve(ctx context.Context, code, errText string, timeout time.Duration) (string, error) {
	category := categorize(errText)
	pattern := e.patterns.Observe(errText)
	e.metrics.AttemptsTotal.WithLabelValues(category).Inc()

	model, ok := e.registry.FallbackFor(CapabilityCodeGeneration)
	if !ok {
		return "", newEvoError(ErrLLMUnavailable, nil, "no healthy model available for evolution")
	}

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		attemptID := uuid.NewString()
		prompt := repairPrompt(code, errText, attempt)
		log.Printf("evolution: attempt=%s category=%s round=%d", attemptID, category, attempt)

		cctx, cancel := context.WithTimeout(ctx, timeout)
		candidate, err := e.bridge.Submit(cctx, func(ctx context.Context) (string, error) {
			return e.client.Chat(ctx, model, prompt)
		})
		cancel()
		if err != nil {
			e.registry.MarkUnhealthy(model)
			continue
		}

		result := Validate(candidate, category, e.sandboxCfg)
		result.SandboxID = attemptID
		e.metrics.ValidationScore.Observe(result.Score)

		if result.Accepted {
			e.metrics.AcceptedTotal.Inc()
			e.patterns.RecordFixOutcome(pattern, true)
			return candidate, nil
		}
		e.metrics.RejectedTotal.Inc()
		e.patterns.RecordFixOutcome(pattern, false)
	}

	return "", newEvoError(ErrEvolutionFailed, nil, "no accepted candidate after %d attempts", e.maxAttempts)
}

func repairPrompt(code, errText string, attempt int) string {
	return fmt.Sprintf(
		"The following program failed with error: %s\n\nProgram:\n%s\n\nProvide a corrected version that avoids this failure. Attempt %d.",
		errText, code, attempt+1,
	)
}

// translateAdapterErr maps a context deadline into the same LLMTimeout kind
// the sandbox/VM layer expects, leaving any already-typed EvoError as is.
func translateAdapterErr(err error) error {
	if _, ok := err.(*EvoError); ok {
		return err
	}
	if err == context.DeadlineExceeded {
		return newEvoError(ErrLLMTimeout, err, "llm request timed out")
	}
	return newEvoError(ErrLLMUnavailable, err, "llm request failed")
}
