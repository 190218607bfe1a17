package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pdfconvert/convertd/internal/artifacts"
	"github.com/pdfconvert/convertd/internal/llm"
	"github.com/pdfconvert/convertd/internal/storage"
)

// PersistStage assembles the result payload and writes the result JSON plus
// the docx and xlsx artifacts. It runs last; once it succeeds the runner can
// mark the job completed.
type PersistStage struct {
	storage *storage.Manager
	router  *llm.Router
	model   string
}

// NewPersistStage creates the persistence stage. model is the default LLM
// model recorded in the result metadata.
func NewPersistStage(mgr *storage.Manager, router *llm.Router, model string) *PersistStage {
	return &PersistStage{storage: mgr, router: router, model: model}
}

// Name implements Stage.
func (s *PersistStage) Name() string { return "persist" }

// Run implements Stage.
func (s *PersistStage) Run(ctx context.Context, state *State) error {
	if err := state.Cancelled(ctx); err != nil {
		return err
	}

	payload := s.buildPayload(state)

	docx, err := artifacts.BuildDOCX(payload.Pages)
	if err != nil {
		return RetriableError(s.Name(), fmt.Errorf("docx export: %w", err))
	}
	xlsx, err := artifacts.BuildXLSX(payload.Pages)
	if err != nil {
		return RetriableError(s.Name(), fmt.Errorf("xlsx export: %w", err))
	}

	docxPath, err := s.storage.WriteArtifact(state.JobID, ".docx", docx)
	if err != nil {
		return RetriableError(s.Name(), err)
	}
	xlsxPath, err := s.storage.WriteArtifact(state.JobID, ".xlsx", xlsx)
	if err != nil {
		return RetriableError(s.Name(), err)
	}
	payload.Artifacts = map[string]string{
		"docx": filepath.Base(docxPath),
		"xlsx": filepath.Base(xlsxPath),
	}

	resultJSON, err := json.Marshal(payload)
	if err != nil {
		return FatalError(s.Name(), fmt.Errorf("result encoding: %w", err))
	}
	resultPath, err := s.storage.WriteResult(state.JobID, resultJSON)
	if err != nil {
		return RetriableError(s.Name(), err)
	}

	state.Artifacts = map[string]string{
		"docx": docxPath,
		"xlsx": xlsxPath,
	}
	state.ResultJSON = resultJSON
	state.ResultPath = resultPath
	return nil
}

func (s *PersistStage) buildPayload(state *State) *ResultPayload {
	raw := make([]string, len(state.Pages))
	details := make([]PageDetail, len(state.Pages))
	var confidenceSum float64
	for i, page := range state.Pages {
		raw[i] = page.Text
		confidenceSum += page.Confidence
		details[i] = PageDetail{
			Page:       page.Index,
			RawText:    page.Text,
			Confidence: page.Confidence,
		}
	}

	final := state.FinalPages
	if len(final) == 0 {
		final = raw
	}
	for i := range details {
		if i < len(final) {
			details[i].FinalText = final[i]
		}
		if provider, ok := state.ProviderUsage[details[i].Page]; ok {
			details[i].Provider = provider
		}
	}
	for _, structure := range state.Structures {
		for i := range details {
			if details[i].Page == structure.Index {
				details[i].Tables = structure.Tables
			}
		}
	}

	usage := make(map[string]string, len(state.ProviderUsage))
	for page, provider := range state.ProviderUsage {
		usage[fmt.Sprintf("%d", page)] = provider
	}

	avg := 0.0
	if len(state.Pages) > 0 {
		avg = confidenceSum / float64(len(state.Pages))
	}

	return &ResultPayload{
		RawPages:          raw,
		Pages:             final,
		RawCombinedText:   strings.Join(raw, "\n\n"),
		CombinedText:      strings.Join(final, "\n\n"),
		AverageConfidence: avg,
		PageDetails:       details,
		LLM: LLMMetadata{
			Enabled:            state.LLMOptions.Enabled(),
			Providers:          s.router.Providers(),
			ProviderUsage:      usage,
			Model:              s.resolveModel(state),
			FallbackConfigured: state.LLMOptions.Fallback(s.router.FallbackEnabled()),
			FallbackUsed:       state.FallbackUsed,
		},
	}
}

func (s *PersistStage) resolveModel(state *State) string {
	if state.LLMOptions != nil && state.LLMOptions.Model != "" {
		return state.LLMOptions.Model
	}
	if state.LLMOptions.Enabled() {
		return s.model
	}
	return ""
}
