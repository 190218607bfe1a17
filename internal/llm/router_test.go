package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdfconvert/convertd/internal/db/models"
)

// fakeProvider scripts one provider's behavior.
type fakeProvider struct {
	name  string
	out   string
	err   error
	calls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Generate(_ context.Context, _, _ string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.out, nil
}

type fallbackCall struct {
	failed string
	next   string
}

func recordingFallback(calls *[]fallbackCall) FallbackRecorder {
	return func(_ context.Context, failed, next string, _ error) {
		*calls = append(*calls, fallbackCall{failed: failed, next: next})
	}
}

func TestCorrectBypassWhenDisabled(t *testing.T) {
	primary := &fakeProvider{name: "a", out: "never"}
	router := NewRouter([]Provider{primary}, true)

	off := false
	out, provider, err := router.Correct(context.Background(), "raw ocr text",
		&models.LLMOptions{EnableLLM: &off}, nil)
	require.NoError(t, err)
	assert.Equal(t, "raw ocr text", out, "bypass returns the input verbatim")
	assert.Empty(t, provider)
	assert.Zero(t, primary.calls)
}

func TestCorrectFirstProviderWins(t *testing.T) {
	primary := &fakeProvider{name: "a", out: "corrected"}
	secondary := &fakeProvider{name: "b", out: "unused"}
	router := NewRouter([]Provider{primary, secondary}, true)

	var calls []fallbackCall
	out, provider, err := router.Correct(context.Background(), "text", nil, recordingFallback(&calls))
	require.NoError(t, err)
	assert.Equal(t, "corrected", out)
	assert.Equal(t, "a", provider)
	assert.Zero(t, secondary.calls)
	assert.Empty(t, calls, "no fallback on first-provider success")
}

func TestCorrectFallsBackToNextProvider(t *testing.T) {
	primary := &fakeProvider{name: "a", err: errors.New("connection refused")}
	secondary := &fakeProvider{name: "b", out: "rescued"}
	router := NewRouter([]Provider{primary, secondary}, true)

	var calls []fallbackCall
	out, provider, err := router.Correct(context.Background(), "text", nil, recordingFallback(&calls))
	require.NoError(t, err)
	assert.Equal(t, "rescued", out)
	assert.Equal(t, "b", provider)
	require.Len(t, calls, 1, "exactly one fallback hop")
	assert.Equal(t, fallbackCall{failed: "a", next: "b"}, calls[0])
}

func TestCorrectFallbackDisabledFailsFast(t *testing.T) {
	primary := &fakeProvider{name: "a", err: errors.New("connection refused")}
	secondary := &fakeProvider{name: "b", out: "unused"}
	router := NewRouter([]Provider{primary, secondary}, false)

	var calls []fallbackCall
	_, _, err := router.Correct(context.Background(), "text", nil, recordingFallback(&calls))
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Zero(t, secondary.calls)
	assert.Empty(t, calls)
}

func TestCorrectPerJobFallbackOverridesGlobal(t *testing.T) {
	primary := &fakeProvider{name: "a", err: errors.New("down")}
	secondary := &fakeProvider{name: "b", out: "rescued"}
	router := NewRouter([]Provider{primary, secondary}, false)

	on := true
	out, _, err := router.Correct(context.Background(), "text",
		&models.LLMOptions{FallbackEnabled: &on}, nil)
	require.NoError(t, err)
	assert.Equal(t, "rescued", out)
}

func TestCorrectForcedProviderNeverFallsBack(t *testing.T) {
	primary := &fakeProvider{name: "a", out: "unused"}
	secondary := &fakeProvider{name: "b", err: errors.New("down")}
	router := NewRouter([]Provider{primary, secondary}, true)

	_, _, err := router.Correct(context.Background(), "text",
		&models.LLMOptions{Provider: "b"}, nil)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Zero(t, primary.calls, "forced provider disables fallback entirely")
	assert.Equal(t, 1, secondary.calls)
}

func TestCorrectForcedUnknownProvider(t *testing.T) {
	router := NewRouter([]Provider{&fakeProvider{name: "a"}}, true)

	_, _, err := router.Correct(context.Background(), "text",
		&models.LLMOptions{Provider: "nonexistent"}, nil)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestCorrectAllProvidersFailed(t *testing.T) {
	primary := &fakeProvider{name: "a", err: errors.New("down")}
	secondary := &fakeProvider{name: "b", err: errors.New("also down")}
	router := NewRouter([]Provider{primary, secondary}, true)

	_, _, err := router.Correct(context.Background(), "text", nil, nil)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestCorrectNoProvidersConfigured(t *testing.T) {
	router := NewRouter(nil, true)
	_, _, err := router.Correct(context.Background(), "text", nil, nil)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestCorrectStopsWhenBudgetExhausted(t *testing.T) {
	primary := &fakeProvider{name: "a", err: errors.New("down")}
	secondary := &fakeProvider{name: "b", out: "unreachable"}
	router := NewRouter([]Provider{primary, secondary}, true)

	// The remaining deadline cannot cover the minimum attempt budget, so no
	// provider is attempted at all.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := router.Correct(ctx, "text", nil, nil)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Zero(t, primary.calls)
	assert.Zero(t, secondary.calls)
}

func TestProvidersAndAccessors(t *testing.T) {
	ollama := NewOllamaProvider("http://127.0.0.1:11434", "")
	rest := NewRESTProvider("openrouter", "https://example.test/v1/chat/completions", "gpt", "key")
	router := NewRouter([]Provider{ollama, rest}, true)

	assert.Equal(t, []string{"ollama", "openrouter"}, router.Providers())
	assert.True(t, router.FallbackEnabled())

	got, ok := router.Ollama()
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:11434", got.BaseURL())
}
