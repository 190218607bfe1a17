package handlers

import (
	"errors"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/db/repos"
	"github.com/pdfconvert/convertd/internal/services"
)

// statusForError maps service and repository errors to HTTP statuses.
func statusForError(err error) int {
	var validation *services.ValidationError
	switch {
	case errors.As(err, &validation):
		return fiber.StatusBadRequest
	case errors.Is(err, repos.ErrNotFound), errors.Is(err, repos.ErrUserNotFound), errors.Is(err, services.ErrNoArtifact):
		return fiber.StatusNotFound
	case errors.Is(err, repos.ErrConflict), errors.Is(err, models.ErrInvalidTransition), errors.Is(err, services.ErrNotReady):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func errorResponse(c *fiber.Ctx, err error) error {
	return c.Status(statusForError(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}
