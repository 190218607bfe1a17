// Package notify fans job events out to real-time listeners. The hub is a
// pure subscriber registry keyed by job id: it buffers nothing beyond the
// per-subscription channel, delivery is best-effort and at-most-once, and
// callers needing durability re-fetch job state after reconnecting.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/logger"
)

// subscriptionBuffer is the per-listener channel capacity. A listener that
// falls further behind than this loses events rather than blocking the
// publish path.
const subscriptionBuffer = 16

// Message is the JSON object delivered to listeners for every committed
// job event.
type Message struct {
	JobID        string    `json:"id"`
	Status       string    `json:"status"`
	Event        string    `json:"event"`
	ErrorMessage string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Subscription ties one listener connection to one job id. It lives only in
// the hub's in-memory registry and dies with the connection or the job's
// terminal event, whichever comes first.
type Subscription struct {
	id    uint64
	jobID uuid.UUID
	ch    chan Message
}

// Messages returns the channel of delivered messages. The hub closes it
// after the terminal event has been delivered or on Unsubscribe.
func (s *Subscription) Messages() <-chan Message {
	return s.ch
}

// Hub is the in-process notification fan-out. It implements repos.Publisher
// and is invoked strictly after each transition commit, so per-job delivery
// order matches commit order.
type Hub struct {
	mu   sync.Mutex
	next uint64
	subs map[uuid.UUID]map[uint64]*Subscription
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[uint64]*Subscription)}
}

// Subscribe attaches a listener to a job id.
func (h *Hub) Subscribe(jobID uuid.UUID) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	sub := &Subscription{
		id:    h.next,
		jobID: jobID,
		ch:    make(chan Message, subscriptionBuffer),
	}
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[uint64]*Subscription)
	}
	h.subs[jobID][sub.id] = sub
	return sub
}

// Unsubscribe detaches a listener and closes its channel. Safe to call more
// than once and after the hub already closed the subscription.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// Publish delivers one committed event to every subscriber of the job. When
// the event is the terminal status change, all of the job's subscriptions
// are closed after delivery, freeing the listener slots.
func (h *Hub) Publish(job *models.Job, event *models.JobEvent) {
	msg := Message{
		JobID:        job.ID.String(),
		Status:       job.Status.String(),
		Event:        string(event.Type),
		ErrorMessage: job.Error,
		UpdatedAt:    job.UpdatedAt,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[job.ID] {
		select {
		case sub.ch <- msg:
		default:
			logger.WarnWithFields("dropping event for slow subscriber", map[string]interface{}{
				"job_id": job.ID.String(),
				"event":  string(event.Type),
			})
		}
	}

	if job.Status.Terminal() && event.Type == models.EventStatusChanged {
		for _, sub := range h.subs[job.ID] {
			h.removeLocked(sub)
		}
	}
}

// SubscriberCount returns the number of listeners attached to a job.
func (h *Hub) SubscriberCount(jobID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

func (h *Hub) removeLocked(sub *Subscription) {
	group, ok := h.subs[sub.jobID]
	if !ok {
		return
	}
	if _, ok := group[sub.id]; !ok {
		return
	}
	delete(group, sub.id)
	if len(group) == 0 {
		delete(h.subs, sub.jobID)
	}
	close(sub.ch)
}
