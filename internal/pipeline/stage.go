// Package pipeline executes the ordered conversion stage sequence for one
// claimed job: rasterize, OCR, structure recognition, post-processing and
// artifact persistence. Concrete stage implementations are swappable
// collaborators behind the Stage interface; the runner owns sequencing,
// timeouts, retries and the job store transitions.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdfconvert/convertd/internal/db/models"
)

// Stage is one step of the conversion pipeline. A stage reads and extends
// the shared State; it classifies its own failures as retriable or not.
type Stage interface {
	Name() string
	Run(ctx context.Context, state *State) error
}

// StageError is a failure scoped to one pipeline stage. Retriable errors are
// retried up to the stage retry budget before the job fails.
type StageError struct {
	Stage     string
	Retriable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// RetriableError wraps err as a retriable stage failure.
func RetriableError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Retriable: true, Err: err}
}

// FatalError wraps err as a non-retriable stage failure.
func FatalError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Retriable: false, Err: err}
}

// IsRetriable reports whether err is a stage failure worth retrying.
// Unclassified errors are treated as non-retriable; retrying is an explicit
// decision of the stage that understands the failure.
func IsRetriable(err error) bool {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Retriable
	}
	return false
}

// ErrCancelled is returned when a stage observes the cooperative
// cancellation flag at a safe point.
var ErrCancelled = errors.New("cancelled")

// PageImage is one rasterized page of the input document.
type PageImage struct {
	Index  int
	Path   string
	Width  int
	Height int
}

// PageText is the OCR output for one page.
type PageText struct {
	Index      int
	Text       string
	Confidence float64
}

// PageStructure is the recognized layout for one page: detected table rows
// (cells split on column gaps) and free-text blocks.
type PageStructure struct {
	Index  int
	Tables [][]string
	Blocks []string
}

// PageDetail is the per-page entry of the result payload.
type PageDetail struct {
	Page       int        `json:"page"`
	RawText    string     `json:"raw_text"`
	FinalText  string     `json:"final_text"`
	Confidence float64    `json:"confidence"`
	Provider   string     `json:"provider,omitempty"`
	Tables     [][]string `json:"tables,omitempty"`
}

// LLMMetadata summarizes the post-processing stage in the result payload.
type LLMMetadata struct {
	Enabled            bool              `json:"enabled"`
	Providers          []string          `json:"providers,omitempty"`
	ProviderUsage      map[string]string `json:"provider_usage,omitempty"`
	Model              string            `json:"model,omitempty"`
	FallbackConfigured bool              `json:"fallback_configured"`
	FallbackUsed       bool              `json:"fallback_used"`
}

// ResultPayload is the structured output stored on a completed job.
type ResultPayload struct {
	RawPages          []string          `json:"raw_pages"`
	Pages             []string          `json:"pages"`
	RawCombinedText   string            `json:"raw_combined_text"`
	CombinedText      string            `json:"combined_text"`
	AverageConfidence float64           `json:"average_confidence"`
	PageDetails       []PageDetail      `json:"page_details"`
	LLM               LLMMetadata       `json:"llm"`
	Artifacts         map[string]string `json:"artifacts"`
}

// State is the shared context a job's stages read and extend. It also
// carries the cooperative cancellation check the runner installs; stages
// call it at safe points within long loops.
type State struct {
	JobID      string
	InputPath  string
	WorkDir    string
	LLMOptions *models.LLMOptions

	Images     []PageImage
	Pages      []PageText
	Structures []PageStructure

	FinalPages    []string
	ProviderUsage map[int]string
	FallbackUsed  bool

	Artifacts  map[string]string
	ResultJSON []byte
	ResultPath string

	// CheckCancelled returns ErrCancelled once cancellation was requested.
	// Nil when the runner is driven without cancellation support (tests).
	CheckCancelled func(ctx context.Context) error

	// RecordFallback appends a provider_fallback job event. Nil disables
	// event recording.
	RecordFallback func(ctx context.Context, failed, next string, cause error)
}

// Cancelled runs the installed cancellation check, if any.
func (s *State) Cancelled(ctx context.Context) error {
	if s.CheckCancelled == nil {
		return nil
	}
	return s.CheckCancelled(ctx)
}
