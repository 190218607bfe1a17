package v1

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/pdfconvert/convertd/internal/api/v1/handlers"
	"github.com/pdfconvert/convertd/internal/api/v1/middleware"
	"github.com/pdfconvert/convertd/internal/services"
)

// Handlers bundles the route handlers wired by Register.
type Handlers struct {
	Jobs  *handlers.JobHandler
	Users *handlers.UserHandler
	Admin *handlers.AdminHandler
	WS    *handlers.WSHandler
}

// SetupRoutes configures all the v1 routes
func SetupRoutes(router fiber.Router, h *Handlers) {
	// Job routes
	jobs := router.Group("/jobs")
	jobs.Post("/", h.Jobs.Submit)
	jobs.Get("/", h.Jobs.List)
	jobs.Get("/:id", h.Jobs.Get)
	jobs.Get("/:id/status", h.Jobs.Status)
	jobs.Get("/:id/events", h.Jobs.Events)
	jobs.Get("/:id/result", h.Jobs.Result)
	jobs.Get("/:id/artifacts/:kind", h.Jobs.Artifact)
	jobs.Post("/:id/resubmit", h.Jobs.Resubmit)
	jobs.Post("/:id/cancel", h.Jobs.Cancel)

	// User routes
	users := router.Group("/users")
	users.Get("/me", h.Users.Me)
	users.Post("/", middleware.RequireAdmin(), h.Users.Create)
	users.Get("/:id", middleware.RequireAdmin(), h.Users.Get)
	users.Get("/:id/audits", middleware.RequireAdmin(), h.Users.Audits)

	// Admin routes
	admin := router.Group("/admin", middleware.RequireAdmin())
	admin.Get("/config", h.Admin.Config)
	admin.Get("/llm-status", h.Admin.LLMStatus)
}

// Register registers every route on the app: the public health probe, the
// authenticated v1 API and the websocket stream.
func Register(app *fiber.App, users *services.UserService, h *Handlers) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// API v1 routes
	v1Group := app.Group("/api/v1", middleware.Logger(), middleware.APIKeyAuth(users))
	SetupRoutes(v1Group, h)

	// Websocket job stream. Auth runs before the upgrade; websocket clients
	// pass the key as a query parameter.
	ws := app.Group("/ws", middleware.APIKeyAuth(users))
	ws.Get("/jobs/:id", h.WS.Upgrade, websocket.New(h.WS.Stream))
}
