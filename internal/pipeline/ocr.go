package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// OCRStage extracts text from each rasterized page with Tesseract. A fresh
// client is created per job so a crashed native handle never poisons later
// jobs on the same worker.
type OCRStage struct {
	languages []string
}

// NewOCRStage creates the OCR stage. The language string is the Tesseract
// form, e.g. "vie+eng".
func NewOCRStage(language string) *OCRStage {
	langs := strings.Split(language, "+")
	for i := range langs {
		langs[i] = strings.TrimSpace(langs[i])
	}
	return &OCRStage{languages: langs}
}

// Name implements Stage.
func (s *OCRStage) Name() string { return "ocr" }

// Run implements Stage.
func (s *OCRStage) Run(ctx context.Context, state *State) error {
	if len(state.Images) == 0 {
		return FatalError(s.Name(), fmt.Errorf("no page images to recognize"))
	}

	client := gosseract.NewClient()
	defer client.Close()
	if len(s.languages) > 0 {
		if err := client.SetLanguage(s.languages...); err != nil {
			return FatalError(s.Name(), fmt.Errorf("unsupported language %v: %w", s.languages, err))
		}
	}

	pages := make([]PageText, 0, len(state.Images))
	for _, img := range state.Images {
		if err := state.Cancelled(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := client.SetImage(img.Path); err != nil {
			return RetriableError(s.Name(), fmt.Errorf("page %d: %w", img.Index, err))
		}
		text, err := client.Text()
		if err != nil {
			return RetriableError(s.Name(), fmt.Errorf("page %d recognition failed: %w", img.Index, err))
		}
		pages = append(pages, PageText{
			Index:      img.Index,
			Text:       text,
			Confidence: pageConfidence(client),
		})
	}

	state.Pages = pages
	return nil
}

// pageConfidence averages the word-level confidences for the current image.
// Errors degrade to zero confidence rather than failing the page.
func pageConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}
