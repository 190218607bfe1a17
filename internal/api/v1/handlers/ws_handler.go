package handlers

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	fiber "github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/pdfconvert/convertd/internal/api/v1/middleware"
	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/logger"
	"github.com/pdfconvert/convertd/internal/notify"
	"github.com/pdfconvert/convertd/internal/services"
)

// WSHandler streams job lifecycle updates over a websocket connection.
type WSHandler struct {
	jobs *services.JobService
	hub  *notify.Hub
}

// NewWSHandler creates a new websocket handler.
func NewWSHandler(jobs *services.JobService, hub *notify.Hub) *WSHandler {
	return &WSHandler{jobs: jobs, hub: hub}
}

// localsKey values set during the upgrade and read inside the socket loop.
const (
	localsJobKey  = "ws_job"
	localsUserKey = "ws_user"
)

// Upgrade authenticates the caller, checks job visibility and upgrades the
// connection. Anything that should produce an HTTP error happens here; the
// socket loop only streams.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid job id",
		})
	}
	user := middleware.CurrentUser(c)
	job, err := h.jobs.Get(c.Context(), user, id)
	if err != nil {
		return errorResponse(c, err)
	}

	c.Locals(localsJobKey, job.ID)
	c.Locals(localsUserKey, user)
	return c.Next()
}

// Stream is the websocket loop. It subscribes before sending the snapshot so
// an update committed between snapshot and subscribe cannot be lost, then
// forwards hub messages until the job reaches a terminal state or the client
// goes away.
func (h *WSHandler) Stream(conn *websocket.Conn) {
	defer conn.Close()

	jobID, ok := conn.Locals(localsJobKey).(uuid.UUID)
	if !ok {
		return
	}

	sub := h.hub.Subscribe(jobID)
	defer h.hub.Unsubscribe(sub)

	if !h.sendSnapshot(conn, jobID) {
		return
	}

	// Reader goroutine: the client never sends payloads, but reading is how
	// websockets learn about closure.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, open := <-sub.Messages():
			if !open {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debugf("websocket write failed for job %s: %v", jobID, err)
				return
			}
		}
	}
}

// sendSnapshot delivers the job's current state as the first frame. For a
// job already terminal this is the only frame.
func (h *WSHandler) sendSnapshot(conn *websocket.Conn, jobID uuid.UUID) bool {
	user, _ := conn.Locals(localsUserKey).(*models.User)
	job, err := h.jobs.Get(context.Background(), user, jobID)
	if err != nil {
		return false
	}
	msg := notify.Message{
		JobID:        job.ID.String(),
		Status:       job.Status.String(),
		Event:        "snapshot",
		ErrorMessage: job.Error,
		UpdatedAt:    job.UpdatedAt,
	}
	if err := conn.WriteJSON(msg); err != nil {
		return false
	}
	return !job.Status.Terminal()
}
