package handlers

import (
	fiber "github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/pdfconvert/convertd/internal/api/v1/middleware"
	"github.com/pdfconvert/convertd/internal/services"
)

// UserHandler serves account management endpoints.
type UserHandler struct {
	users *services.UserService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

type createUserRequest struct {
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// Create registers a new account and returns it including the issued API
// key. Admin only.
func (h *UserHandler) Create(c *fiber.Ctx) error {
	var req createUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	user, err := h.users.Create(c.Context(), req.Email, req.IsAdmin)
	if err != nil {
		return errorResponse(c, err)
	}
	// The API key is serialized only here; later reads never expose it.
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user":    user,
		"api_key": user.APIKey,
	})
}

// Get returns one account by id. Admin only.
func (h *UserHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid user id",
		})
	}
	user, err := h.users.GetByID(c.Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(user)
}

// Audits returns one account's audit trail. Admin only.
func (h *UserHandler) Audits(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid user id",
		})
	}
	entries, err := h.users.Audits(c.Context(), id, c.QueryInt("limit", 0))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"audits": entries})
}

// Me returns the authenticated caller's own account.
func (h *UserHandler) Me(c *fiber.Ctx) error {
	return c.JSON(middleware.CurrentUser(c))
}
