// Package notify is the outbound hook boundary. Core operations publish
// events here fire-and-forget; external notification collaborators subscribe
// over a websocket endpoint. A failed or absent listener never blocks an
// operation.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the core.
const (
	EventChoreClaimed    = "chore_claimed"
	EventChoreCompleted  = "chore_completed"
	EventChoreOverdue    = "chore_overdue"
	EventChoreAssigned   = "chore_assigned"
	EventArcadeNewRecord = "arcade_new_record"
	EventWeeklyReset     = "weekly_reset"
)

// Event is one hook notification. The ID lets listeners deduplicate after a
// reconnect.
type Event struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	OccurrenceID int64          `json:"occurrence_id,omitempty"`
	PersonID     int64          `json:"person_id,omitempty"`
	At           time.Time      `json:"at"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Bus fans hook events out to connected listeners.
type Bus struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Publish broadcasts an event to every listener. Never blocks: a listener
// with a full buffer misses the event, which is logged and otherwise ignored.
func (b *Bus) Publish(eventType string, occurrenceID, personID int64, extra map[string]any) {
	event := Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		OccurrenceID: occurrenceID,
		PersonID:     personID,
		At:           time.Now().UTC(),
		Extra:        extra,
	}

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("marshal hook event", "type", eventType, "error", err)
		return
	}

	b.logger.Debug("hook event", "type", eventType, "occurrence_id", occurrenceID, "person_id", personID)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			b.logger.Warn("hook listener buffer full, dropping event", "type", eventType)
		}
	}
}

func (b *Bus) register(c *Client) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
}

func (b *Bus) unregister(c *Client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// ListenerCount returns the number of connected listeners.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
