// Package llm implements LLM-backed text correction with multi-provider
// fallback. Provider adapters hide the wire schema of each service; the
// router owns selection, ranking and the shared deadline budget.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pdfconvert/convertd/internal/config"
)

// ErrAllProvidersFailed is returned when every attempted provider failed or
// the remaining deadline budget could not cover another attempt.
var ErrAllProvidersFailed = errors.New("all llm providers failed")

// ProviderError wraps a single provider attempt failure.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Provider is an adapter for one external LLM service.
type Provider interface {
	// Name returns the configured provider identifier.
	Name() string
	// Generate sends the prompt and returns the model's text. The request
	// and response schema are provider-specific and not exposed further.
	Generate(ctx context.Context, prompt, model string) (string, error)
}

// defaultHTTPClient is shared by adapters; per-attempt deadlines come from
// the request context, not the client.
var defaultHTTPClient = &http.Client{}

// NewProviders builds ranked adapters from the configuration snapshot,
// skipping disabled entries and entries without an endpoint.
func NewProviders(configs []config.ProviderConfig) []Provider {
	providers := make([]Provider, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled || cfg.BaseURL == "" {
			continue
		}
		if cfg.Name == "ollama" {
			providers = append(providers, NewOllamaProvider(cfg.BaseURL, cfg.Model))
			continue
		}
		providers = append(providers, NewRESTProvider(cfg.Name, cfg.BaseURL, cfg.Model, cfg.APIKey))
	}
	return providers
}
