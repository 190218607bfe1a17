package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pdfconvert/convertd/internal/llm"
)

var (
	trailingSpaces = regexp.MustCompile(`[ \t]+\n`)
	excessBlanks   = regexp.MustCompile(`\n{3,}`)
)

// PostprocessStage normalizes the raw OCR text and, when the job enables it,
// runs each page through the LLM router for correction. Pages are processed
// sequentially; cancellation is honored between pages.
type PostprocessStage struct {
	router *llm.Router
}

// NewPostprocessStage creates the post-processing stage.
func NewPostprocessStage(router *llm.Router) *PostprocessStage {
	return &PostprocessStage{router: router}
}

// Name implements Stage.
func (s *PostprocessStage) Name() string { return "postprocess" }

// Run implements Stage.
func (s *PostprocessStage) Run(ctx context.Context, state *State) error {
	final := make([]string, 0, len(state.Pages))
	usage := make(map[int]string, len(state.Pages))

	for _, page := range state.Pages {
		if err := state.Cancelled(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		text := normalize(page.Text)
		corrected, provider, err := s.router.Correct(ctx, text, state.LLMOptions, s.recorder(state))
		if err != nil {
			// Provider outages are transient from the job's point of view.
			return RetriableError(s.Name(), fmt.Errorf("page %d: %w", page.Index, err))
		}
		if provider != "" {
			usage[page.Index] = provider
			if ranked := s.router.Providers(); len(ranked) > 0 && !strings.EqualFold(ranked[0], provider) {
				state.FallbackUsed = true
			}
		}
		final = append(final, strings.TrimSpace(corrected))
	}

	state.FinalPages = final
	state.ProviderUsage = usage
	return nil
}

func (s *PostprocessStage) recorder(state *State) llm.FallbackRecorder {
	if state.RecordFallback == nil {
		return nil
	}
	return func(ctx context.Context, failed, next string, cause error) {
		state.RecordFallback(ctx, failed, next, cause)
	}
}

// normalize cleans OCR noise without touching content: trailing whitespace,
// runs of blank lines, stray carriage returns.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = trailingSpaces.ReplaceAllString(text, "\n")
	text = excessBlanks.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
