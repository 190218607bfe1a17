package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaModel is used when neither the job nor the configuration
// names a model.
const DefaultOllamaModel = "llama3"

// OllamaProvider talks to a local Ollama instance over its REST API.
type OllamaProvider struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// NewOllamaProvider creates an adapter targeting the given Ollama base URL.
func NewOllamaProvider(baseURL, defaultModel string) *OllamaProvider {
	if defaultModel == "" {
		defaultModel = DefaultOllamaModel
	}
	return &OllamaProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		httpClient:   defaultHTTPClient,
	}
}

// Name implements Provider.
func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Text     string `json:"text"`
}

// Generate implements Provider using POST /api/generate.
func (p *OllamaProvider) Generate(ctx context.Context, prompt, model string) (string, error) {
	if model == "" {
		model = p.defaultModel
	}
	body, err := json.Marshal(ollamaGenerateRequest{Model: model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var decoded ollamaGenerateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	text := decoded.Response
	if text == "" {
		text = decoded.Text
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty completion")
	}
	return text, nil
}

// IsRunning reports whether the Ollama server answers GET /api/tags.
func (p *OllamaProvider) IsRunning(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return true, nil
}

// BaseURL returns the configured endpoint, for the admin status surface.
func (p *OllamaProvider) BaseURL() string { return p.baseURL }
