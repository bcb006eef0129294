// Package events emits audit and outbound events describing chat turns.
// Events carry hashed tenant handles and never message content.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeChatRequest   = "chat.request"
	TypeTurnCompleted = "conversation.turn_completed"
)

// Event is one append-only record.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Tenant     string    `json:"tenant"`
	Session    string    `json:"session,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"`
	Stage      string    `json:"stage,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Turn       int       `json:"turn,omitempty"`
	Replay     bool      `json:"replay,omitempty"`
	BranchID   string    `json:"branch_id,omitempty"`
	Tier       string    `json:"tier,omitempty"`
	CTAIDs     []string  `json:"cta_ids,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps an event with an id and time.
func New(eventType string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink accepts events. Implementations must not retain the event.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}
