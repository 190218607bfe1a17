// Package config loads the process configuration from environment variables.
// Values are read once at startup; the resulting Config (including the ranked
// LLM provider snapshot) is immutable afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default values for tunables that are usually left unset.
const (
	DefaultListenAddr    = ":8080"
	DefaultStoragePath   = "var/storage"
	DefaultResultsPath   = "var/results"
	DefaultWorkers       = 4
	DefaultMaxAttempts   = 3
	DefaultStageRetries  = 3
	DefaultStallTimeout  = 2 * time.Minute
	DefaultStageTimeout  = 2 * time.Minute
	DefaultJobTimeout    = 30 * time.Minute
	DefaultRetryBackoff  = 2 * time.Second
	DefaultOCRLanguage   = "vie+eng"
	DefaultRasterDPI     = 200
	DefaultOllamaURL     = "http://127.0.0.1:11434"
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1/chat/completions"
)

// ProviderConfig describes one ranked LLM provider.
type ProviderConfig struct {
	Name    string
	BaseURL string
	Model   string
	APIKey  string
	Enabled bool
}

// Config holds every environment-supplied setting.
type Config struct {
	ListenAddr string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	StoragePath string
	ResultsPath string

	Workers      int
	MaxAttempts  int
	StageRetries int
	StallTimeout time.Duration
	StageTimeout time.Duration
	JobTimeout   time.Duration
	RetryBackoff time.Duration

	OCRLanguage  string
	PdftoppmPath string
	RasterDPI    int

	LLMModel           string
	LLMFallbackEnabled bool
	Providers          []ProviderConfig
}

// Load reads .env (if present) and builds the Config.
func Load() (*Config, error) {
	// A missing .env file is not an error; env vars may come from the shell.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:         GetEnv("CONVERTD_LISTEN_ADDR", DefaultListenAddr),
		DBHost:             GetEnv("CONVERTD_DB_HOST", "localhost"),
		DBPort:             GetEnvInt("CONVERTD_DB_PORT", 5432),
		DBUser:             GetEnv("CONVERTD_DB_USER", "postgres"),
		DBPassword:         GetEnv("CONVERTD_DB_PASSWORD", "postgres"),
		DBName:             GetEnv("CONVERTD_DB_NAME", "convertd"),
		DBSSLMode:          GetEnv("CONVERTD_DB_SSLMODE", "disable"),
		StoragePath:        GetEnv("CONVERTD_STORAGE_PATH", DefaultStoragePath),
		ResultsPath:        GetEnv("CONVERTD_RESULTS_PATH", DefaultResultsPath),
		Workers:            GetEnvInt("CONVERTD_WORKERS", DefaultWorkers),
		MaxAttempts:        GetEnvInt("CONVERTD_MAX_ATTEMPTS", DefaultMaxAttempts),
		StageRetries:       GetEnvInt("CONVERTD_STAGE_RETRIES", DefaultStageRetries),
		StallTimeout:       GetEnvDuration("CONVERTD_STALL_TIMEOUT", DefaultStallTimeout),
		StageTimeout:       GetEnvDuration("CONVERTD_STAGE_TIMEOUT", DefaultStageTimeout),
		JobTimeout:         GetEnvDuration("CONVERTD_JOB_TIMEOUT", DefaultJobTimeout),
		RetryBackoff:       GetEnvDuration("CONVERTD_RETRY_BACKOFF", DefaultRetryBackoff),
		OCRLanguage:        GetEnv("CONVERTD_OCR_LANG", DefaultOCRLanguage),
		PdftoppmPath:       GetEnv("CONVERTD_PDFTOPPM", "pdftoppm"),
		RasterDPI:          GetEnvInt("CONVERTD_RASTER_DPI", DefaultRasterDPI),
		LLMModel:           GetEnv("CONVERTD_LLM_MODEL", ""),
		LLMFallbackEnabled: GetEnvBool("CONVERTD_LLM_FALLBACK", true),
	}

	if cfg.Workers < 1 {
		return nil, fmt.Errorf("CONVERTD_WORKERS must be at least 1, got %d", cfg.Workers)
	}

	cfg.Providers = loadProviders(cfg.LLMModel)
	return cfg, nil
}

// loadProviders builds the ranked provider list from CONVERTD_LLM_PROVIDERS,
// a comma-separated list of provider names in fallback order. Per-provider
// settings come from CONVERTD_LLM_<NAME>_URL / _MODEL / _API_KEY.
func loadProviders(defaultModel string) []ProviderConfig {
	names := strings.Split(GetEnv("CONVERTD_LLM_PROVIDERS", "ollama"), ",")
	providers := make([]ProviderConfig, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		prefix := "CONVERTD_LLM_" + strings.ToUpper(name)
		p := ProviderConfig{
			Name:    name,
			BaseURL: GetEnv(prefix+"_URL", defaultProviderURL(name)),
			Model:   GetEnv(prefix+"_MODEL", defaultModel),
			APIKey:  GetEnv(prefix+"_API_KEY", ""),
			Enabled: GetEnvBool(prefix+"_ENABLED", true),
		}
		providers = append(providers, p)
	}
	return providers
}

func defaultProviderURL(name string) string {
	switch name {
	case "ollama":
		return DefaultOllamaURL
	case "openrouter":
		return DefaultOpenRouterURL
	default:
		return ""
	}
}

// GetEnv retrieves the value of an environment variable with a fallback value if not set
func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// GetEnvInt retrieves an integer environment variable with a fallback value
func GetEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

// GetEnvBool retrieves a boolean environment variable with a fallback value
func GetEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

// GetEnvDuration retrieves a duration environment variable with a fallback value
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
