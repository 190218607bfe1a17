package handlers

import (
	"encoding/json"
	"fmt"
	"strconv"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/pdfconvert/convertd/internal/api/v1/middleware"
	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/services"
)

// JobHandler serves the job lifecycle endpoints.
type JobHandler struct {
	jobs *services.JobService
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobs *services.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// Submit accepts a multipart upload and creates a queued conversion job.
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "a file upload is required",
		})
	}
	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("unreadable upload: %v", err),
		})
	}
	defer file.Close()

	priority, _ := strconv.Atoi(c.FormValue("priority", "0"))

	var llmOpts *models.LLMOptions
	if raw := c.FormValue("llm_options"); raw != "" {
		llmOpts = &models.LLMOptions{}
		if err := json.Unmarshal([]byte(raw), llmOpts); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("invalid llm_options: %v", err),
			})
		}
	}

	job, err := h.jobs.Submit(c.Context(), user, &services.SubmitRequest{
		Filename:   fileHeader.Filename,
		Data:       file,
		Priority:   priority,
		LLMOptions: llmOpts,
	}, requestMeta(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(job)
}

// Get returns one job.
func (h *JobHandler) Get(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid job id",
		})
	}
	job, err := h.jobs.Get(c.Context(), middleware.CurrentUser(c), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(job)
}

// Status returns a compact status view of one job, cheap enough to poll.
func (h *JobHandler) Status(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid job id",
		})
	}
	job, err := h.jobs.Get(c.Context(), middleware.CurrentUser(c), id)
	if err != nil {
		return errorResponse(c, err)
	}
	resp := fiber.Map{
		"id":         job.ID,
		"status":     job.Status,
		"attempts":   job.Attempts,
		"updated_at": job.UpdatedAt,
	}
	if job.Error != "" {
		resp["error_message"] = job.Error
	}
	return c.JSON(resp)
}

// List returns the caller's jobs with optional status filtering and paging.
func (h *JobHandler) List(c *fiber.Ctx) error {
	opts := &models.ListOptions{
		Limit:  c.QueryInt("limit", models.DefaultPageSize),
		Offset: c.QueryInt("offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseJobStatus(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		opts.Status = &status
	}

	jobs, err := h.jobs.List(c.Context(), middleware.CurrentUser(c), opts)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}

// Events returns a job's progress log.
func (h *JobHandler) Events(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid job id",
		})
	}
	events, err := h.jobs.Events(c.Context(), middleware.CurrentUser(c), id, c.QueryInt("limit", 0))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"events": events})
}

// Result returns the structured result payload of a completed job.
func (h *JobHandler) Result(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid job id",
		})
	}
	result, err := h.jobs.Result(c.Context(), middleware.CurrentUser(c), id)
	if err != nil {
		return errorResponse(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(result)
}

// Artifact streams an exported document (docx or xlsx) as a download.
func (h *JobHandler) Artifact(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid job id",
		})
	}
	path, filename, err := h.jobs.Artifact(c.Context(), middleware.CurrentUser(c), id, c.Params("kind"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Download(path, filename)
}

// Resubmit puts a failed job back in the queue.
func (h *JobHandler) Resubmit(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid job id",
		})
	}
	job, err := h.jobs.Resubmit(c.Context(), middleware.CurrentUser(c), id, requestMeta(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(job)
}

// Cancel requests cooperative cancellation of a processing job.
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid job id",
		})
	}
	if err := h.jobs.Cancel(c.Context(), middleware.CurrentUser(c), id, requestMeta(c)); err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "cancellation requested",
	})
}

func parseJobID(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("id"))
}

func requestMeta(c *fiber.Ctx) services.RequestMeta {
	return services.RequestMeta{
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
}
