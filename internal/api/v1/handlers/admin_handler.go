package handlers

import (
	fiber "github.com/gofiber/fiber/v2"

	"github.com/pdfconvert/convertd/internal/config"
	"github.com/pdfconvert/convertd/internal/llm"
)

// QueueInspector reports dispatcher state for the admin surface.
type QueueInspector interface {
	QueueDepth() int
}

// AdminHandler serves operational introspection endpoints.
type AdminHandler struct {
	cfg        *config.Config
	router     *llm.Router
	dispatcher QueueInspector
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(cfg *config.Config, router *llm.Router, dispatcher QueueInspector) *AdminHandler {
	return &AdminHandler{cfg: cfg, router: router, dispatcher: dispatcher}
}

// Config returns the non-secret runtime configuration.
func (h *AdminHandler) Config(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"workers":       h.cfg.Workers,
		"max_attempts":  h.cfg.MaxAttempts,
		"stage_retries": h.cfg.StageRetries,
		"stall_timeout": h.cfg.StallTimeout.String(),
		"stage_timeout": h.cfg.StageTimeout.String(),
		"job_timeout":   h.cfg.JobTimeout.String(),
		"ocr_language":  h.cfg.OCRLanguage,
		"raster_dpi":    h.cfg.RasterDPI,
		"llm_model":     h.cfg.LLMModel,
		"llm_fallback":  h.router.FallbackEnabled(),
		"llm_providers": h.router.Providers(),
		"queue_depth":   h.dispatcher.QueueDepth(),
	})
}

// LLMStatus probes the configured providers. Only the local Ollama adapter
// has a cheap liveness endpoint; remote providers report as configured.
func (h *AdminHandler) LLMStatus(c *fiber.Ctx) error {
	status := make(map[string]string)
	for _, name := range h.router.Providers() {
		status[name] = "configured"
	}
	if ollama, ok := h.router.Ollama(); ok {
		if running, err := ollama.IsRunning(c.Context()); err == nil && running {
			status[ollama.Name()] = "running"
		} else {
			status[ollama.Name()] = "unreachable"
		}
	}
	return c.JSON(fiber.Map{
		"fallback_enabled": h.router.FallbackEnabled(),
		"providers":        status,
	})
}
