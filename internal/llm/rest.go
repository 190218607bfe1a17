package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RESTProvider is a generic adapter for chat-completions style services such
// as OpenRouter or AgentRouter.
type RESTProvider struct {
	name         string
	baseURL      string
	defaultModel string
	apiKey       string
	httpClient   *http.Client
}

// NewRESTProvider creates an adapter for the named service.
func NewRESTProvider(name, baseURL, defaultModel, apiKey string) *RESTProvider {
	return &RESTProvider{
		name:         name,
		baseURL:      baseURL,
		defaultModel: defaultModel,
		apiKey:       apiKey,
		httpClient:   defaultHTTPClient,
	}
}

// Name implements Provider.
func (p *RESTProvider) Name() string { return p.name }

type chatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse tolerates both chat-completions and plain completion shapes.
type chatResponse struct {
	Response string `json:"response"`
	Text     string `json:"text"`
	Choices  []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate implements Provider.
func (p *RESTProvider) Generate(ctx context.Context, prompt, model string) (string, error) {
	if model == "" {
		model = p.defaultModel
	}
	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

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

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	text := decoded.Response
	if text == "" {
		text = decoded.Text
	}
	if text == "" && len(decoded.Choices) > 0 {
		text = decoded.Choices[0].Message.Content
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty completion")
	}
	return text, nil
}
