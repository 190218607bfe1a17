package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultJobTimeout, cfg.JobTimeout)
	assert.Equal(t, DefaultOCRLanguage, cfg.OCRLanguage)
	assert.True(t, cfg.LLMFallbackEnabled)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "ollama", cfg.Providers[0].Name)
	assert.Equal(t, DefaultOllamaURL, cfg.Providers[0].BaseURL)
}

func TestLoadProviderRanking(t *testing.T) {
	t.Setenv("CONVERTD_LLM_PROVIDERS", "ollama, openrouter")
	t.Setenv("CONVERTD_LLM_OPENROUTER_API_KEY", "secret")
	t.Setenv("CONVERTD_LLM_OPENROUTER_MODEL", "gpt-4o-mini")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)

	assert.Equal(t, "ollama", cfg.Providers[0].Name)
	assert.Equal(t, "openrouter", cfg.Providers[1].Name)
	assert.Equal(t, DefaultOpenRouterURL, cfg.Providers[1].BaseURL)
	assert.Equal(t, "secret", cfg.Providers[1].APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers[1].Model)
}

func TestLoadRejectsZeroWorkers(t *testing.T) {
	t.Setenv("CONVERTD_WORKERS", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD_INT", "abc")

	assert.Equal(t, "value", GetEnv("TEST_STR", "fallback"))
	assert.Equal(t, "fallback", GetEnv("TEST_MISSING", "fallback"))
	assert.Equal(t, 42, GetEnvInt("TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("TEST_BAD_INT", 1))
	assert.True(t, GetEnvBool("TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, GetEnvDuration("TEST_DURATION", time.Minute))
	assert.Equal(t, time.Minute, GetEnvDuration("TEST_MISSING", time.Minute))
}
