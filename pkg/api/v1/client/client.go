// Package client provides a typed HTTP client for the conversion API, used
// by the CLI and by integration tooling.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pdfconvert/convertd/internal/db/models"
)

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// DefaultBaseURL is the default API endpoint.
const DefaultBaseURL = "http://localhost:8080"

// Client defines the interface for interacting with the conversion API
type Client interface {
	// Job methods
	SubmitJob(ctx context.Context, req *SubmitJobRequest) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, limit int, status string) ([]models.Job, error)
	GetJobEvents(ctx context.Context, id string) ([]models.JobEvent, error)
	GetJobResult(ctx context.Context, id string) (json.RawMessage, error)
	DownloadArtifact(ctx context.Context, id, kind, destination string) error
	ResubmitJob(ctx context.Context, id string) (*models.Job, error)
	CancelJob(ctx context.Context, id string) error

	// Health check
	HealthCheck(ctx context.Context) (map[string]string, error)
}

// SubmitJobRequest describes one document submission.
type SubmitJobRequest struct {
	FilePath   string
	Priority   int
	LLMOptions *models.LLMOptions
}

// ClientOptions contains configuration options for the API client
type ClientOptions struct {
	// BaseURL is the base URL of the API
	BaseURL string

	// APIKey authenticates every request
	APIKey string

	// Timeout is the request timeout
	Timeout time.Duration
}

// DefaultOptions returns the default client options
func DefaultOptions() *ClientOptions {
	return &ClientOptions{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// APIClient implements the Client interface
type APIClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

// NewClient creates a new API client with the given options
func NewClient(opts *ClientOptions) (Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &APIClient{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		timeout: timeout,
	}, nil
}

// createAgent creates a new Fiber Agent for the given method and endpoint
func (c *APIClient) createAgent(ctx context.Context, method, endpoint string, body interface{}) (*fiber.Agent, error) {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	case http.MethodDelete:
		agent = fiber.Delete(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	// Set timeout from context or client default
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}

	agent.Set("Accept", "application/json")
	if c.apiKey != "" {
		agent.Set("X-API-Key", c.apiKey)
	}
	if body != nil {
		agent.Set("Content-Type", "application/json")
		agent.JSON(body)
	}

	return agent, nil
}

// executeRequest creates an agent, sends the request, and processes the response
func (c *APIClient) executeRequest(ctx context.Context, method, endpoint string, body, response interface{}) error {
	agent, err := c.createAgent(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	return c.doRequest(agent, response)
}

// doRequest sends the HTTP request and processes the response
func (c *APIClient) doRequest(agent *fiber.Agent, v interface{}) error {
	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("error sending request: %w", errs[0])
	}

	if statusCode < 200 || statusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return &fiber.Error{Code: statusCode, Message: errResp.Error}
		}
		return &fiber.Error{Code: statusCode, Message: "unknown error"}
	}

	if v != nil && len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("error decoding response: %w", err)
		}
	}
	return nil
}

// Job methods implementation

// SubmitJob uploads a document and creates a conversion job
func (c *APIClient) SubmitJob(ctx context.Context, req *SubmitJobRequest) (*models.Job, error) {
	content, err := os.ReadFile(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	agent := fiber.Post(c.baseURL + "/api/v1/jobs")
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}
	if c.apiKey != "" {
		agent.Set("X-API-Key", c.apiKey)
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("priority", fmt.Sprintf("%d", req.Priority))
	if req.LLMOptions != nil {
		raw, err := json.Marshal(req.LLMOptions)
		if err != nil {
			return nil, fmt.Errorf("error encoding llm options: %w", err)
		}
		args.Set("llm_options", string(raw))
	}
	agent.FileData(&fiber.FormFile{
		Fieldname: "file",
		Name:      req.FilePath,
		Content:   content,
	})
	agent.MultipartForm(args)

	var job models.Job
	if err := c.doRequest(agent, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob retrieves a job by ID
func (c *APIClient) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.executeRequest(ctx, http.MethodGet, "/api/v1/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists jobs with optional filtering
func (c *APIClient) ListJobs(ctx context.Context, limit int, status string) ([]models.Job, error) {
	endpoint := "/api/v1/jobs"
	if limit > 0 {
		endpoint += fmt.Sprintf("?limit=%d", limit)
		if status != "" {
			endpoint += fmt.Sprintf("&status=%s", status)
		}
	} else if status != "" {
		endpoint += fmt.Sprintf("?status=%s", status)
	}

	var response struct {
		Jobs []models.Job `json:"jobs"`
	}
	if err := c.executeRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return response.Jobs, nil
}

// GetJobEvents retrieves a job's progress log
func (c *APIClient) GetJobEvents(ctx context.Context, id string) ([]models.JobEvent, error) {
	var response struct {
		Events []models.JobEvent `json:"events"`
	}
	if err := c.executeRequest(ctx, http.MethodGet, "/api/v1/jobs/"+id+"/events", nil, &response); err != nil {
		return nil, err
	}
	return response.Events, nil
}

// GetJobResult retrieves the structured result payload of a completed job
func (c *APIClient) GetJobResult(ctx context.Context, id string) (json.RawMessage, error) {
	var result json.RawMessage
	if err := c.executeRequest(ctx, http.MethodGet, "/api/v1/jobs/"+id+"/result", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DownloadArtifact saves an exported document to destination
func (c *APIClient) DownloadArtifact(ctx context.Context, id, kind, destination string) error {
	agent, err := c.createAgent(ctx, http.MethodGet, "/api/v1/jobs/"+id+"/artifacts/"+kind, nil)
	if err != nil {
		return err
	}
	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("error sending request: %w", errs[0])
	}
	if statusCode < 200 || statusCode >= 300 {
		return &fiber.Error{Code: statusCode, Message: "artifact download failed"}
	}
	if err := os.WriteFile(destination, body, 0o644); err != nil {
		return fmt.Errorf("error writing artifact: %w", err)
	}
	return nil
}

// ResubmitJob puts a failed job back in the queue
func (c *APIClient) ResubmitJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.executeRequest(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/resubmit", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob requests cancellation of a processing job
func (c *APIClient) CancelJob(ctx context.Context, id string) error {
	return c.executeRequest(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil, nil)
}

// HealthCheck checks the health of the API
func (c *APIClient) HealthCheck(ctx context.Context) (map[string]string, error) {
	agent := fiber.Get(c.baseURL + "/health")
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}
	var response map[string]string
	if err := c.doRequest(agent, &response); err != nil {
		return nil, err
	}
	return response, nil
}
