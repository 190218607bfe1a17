package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/logger"
)

// Default attempt budgets. An attempt is never started when the remaining
// caller deadline cannot cover MinAttemptBudget.
const (
	DefaultAttemptTimeout   = 30 * time.Second
	DefaultMinAttemptBudget = 2 * time.Second
)

// FallbackRecorder is invoked when one provider fails and the router moves
// on to the next ranked provider. Callers use it to append a
// provider_fallback job event.
type FallbackRecorder func(ctx context.Context, failed, next string, cause error)

// Router selects an LLM provider for a correction request and applies
// fallback across the ranked provider snapshot. The snapshot is immutable;
// configuration reloads build a new Router.
type Router struct {
	providers        []Provider
	fallbackDefault  bool
	attemptTimeout   time.Duration
	minAttemptBudget time.Duration
}

// NewRouter creates a router over the ranked providers.
func NewRouter(providers []Provider, fallbackDefault bool) *Router {
	return &Router{
		providers:        providers,
		fallbackDefault:  fallbackDefault,
		attemptTimeout:   DefaultAttemptTimeout,
		minAttemptBudget: DefaultMinAttemptBudget,
	}
}

// SetAttemptTimeout overrides the per-attempt timeout (used by tests).
func (r *Router) SetAttemptTimeout(d time.Duration) {
	r.attemptTimeout = d
}

// Providers returns the ranked provider names.
func (r *Router) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// FallbackEnabled returns the global fallback default.
func (r *Router) FallbackEnabled() bool { return r.fallbackDefault }

// Ollama returns the ranked Ollama adapter if one is configured.
func (r *Router) Ollama() (*OllamaProvider, bool) {
	for _, p := range r.providers {
		if o, ok := p.(*OllamaProvider); ok {
			return o, true
		}
	}
	return nil, false
}

// Correct runs LLM text correction for one page of OCR output and returns
// the corrected text plus the name of the provider that served it ("" for
// the bypass case).
//
// Selection rules:
//   - options disable the LLM entirely: the input text is returned unchanged
//     (explicit bypass, not a failure);
//   - a forced provider: only that provider is attempted, never any fallback;
//   - otherwise providers are attempted in rank order, moving on after a
//     failure only while fallback is enabled.
//
// All attempts share the caller's deadline. When the remaining budget cannot
// cover another attempt the router stops instead of starting a doomed call.
func (r *Router) Correct(ctx context.Context, text string, opts *models.LLMOptions, record FallbackRecorder) (string, string, error) {
	if !opts.Enabled() {
		return text, "", nil
	}

	candidates, fallback, err := r.selectCandidates(opts)
	if err != nil {
		return "", "", err
	}

	prompt := buildPrompt(text)
	model := ""
	if opts != nil {
		model = opts.Model
	}

	var lastErr error
	for i, provider := range candidates {
		if !r.budgetCovers(ctx) {
			logger.WarnWithFields("stopping llm attempts, deadline budget exhausted", map[string]interface{}{
				"provider": provider.Name(),
			})
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		out, attemptErr := provider.Generate(attemptCtx, prompt, model)
		cancel()

		if attemptErr == nil {
			return out, provider.Name(), nil
		}
		lastErr = &ProviderError{Provider: provider.Name(), Err: attemptErr}
		logger.WarnWithFields("llm provider attempt failed", map[string]interface{}{
			"provider": provider.Name(),
			"error":    attemptErr.Error(),
		})

		if i+1 >= len(candidates) || !fallback {
			break
		}
		if record != nil {
			record(ctx, provider.Name(), candidates[i+1].Name(), attemptErr)
		}
	}

	if lastErr != nil {
		return "", "", fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
	}
	return "", "", ErrAllProvidersFailed
}

// selectCandidates resolves the attempt list and whether fallback applies.
func (r *Router) selectCandidates(opts *models.LLMOptions) ([]Provider, bool, error) {
	if forced := opts.Forced(); forced != "" {
		for _, p := range r.providers {
			if strings.EqualFold(p.Name(), forced) {
				// Forced provider disables fallback regardless of flags.
				return []Provider{p}, false, nil
			}
		}
		return nil, false, fmt.Errorf("%w: provider %q is not configured", ErrAllProvidersFailed, forced)
	}
	if len(r.providers) == 0 {
		return nil, false, fmt.Errorf("%w: no providers configured", ErrAllProvidersFailed)
	}
	return r.providers, opts.Fallback(r.fallbackDefault), nil
}

func (r *Router) budgetCovers(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) >= r.minAttemptBudget
}

// buildPrompt wraps a page of OCR text into the correction instruction. The
// instruction targets Vietnamese documents, matching the OCR language
// configuration default.
func buildPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Bạn là một trợ lý giúp chuẩn hóa kết quả OCR. ")
	b.WriteString("Hãy cải thiện chính tả và điền vào các chỗ còn thiếu nếu có thể. ")
	b.WriteString("Chỉ trả về văn bản đã sửa.\n")
	b.WriteString("Nội dung OCR:\n")
	b.WriteString(text)
	b.WriteString("\n")
	return b.String()
}
