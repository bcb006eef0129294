package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Key identifies a session within a tenant. Session ids are only unique per
// tenant, so every store is keyed by both.
type Key struct {
	TenantHandle string
	SessionID    string
}

// String is the storage key.
func (k Key) String() string {
	return k.TenantHandle + "#" + k.SessionID
}

// Message is immutable once written.
type Message struct {
	MessageID      string    `dynamodbav:"message_id" json:"message_id"`
	IdempotencyKey string    `dynamodbav:"idempotency_key,omitempty" json:"idempotency_key,omitempty"`
	Role           string    `dynamodbav:"role" json:"role"`
	Content        string    `dynamodbav:"content" json:"content"`
	Timestamp      time.Time `dynamodbav:"timestamp" json:"timestamp"`
	// Turn is the session turn the message was committed at.
	Turn int `dynamodbav:"turn" json:"turn"`
	// BranchID is the branch an assistant reply was routed to.
	BranchID string `dynamodbav:"branch_id,omitempty" json:"branch_id,omitempty"`
}

// Session is the durable state of one conversation.
type Session struct {
	SessionID    string         `dynamodbav:"session_id" json:"session_id"`
	TenantHandle string         `dynamodbav:"tenant_handle" json:"tenant_handle"`
	Turn         int            `dynamodbav:"turn" json:"turn"`
	Summary      map[string]any `dynamodbav:"summary" json:"summary"`
	Messages     []Message      `dynamodbav:"messages" json:"messages"`
	CreatedAt    time.Time      `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `dynamodbav:"updated_at" json:"updated_at"`
	ExpiresAt    int64          `dynamodbav:"expires_at" json:"expires_at"`
}

// IdempotencyKey derives the duplicate-suppression key for a message. An
// empty requestID yields an empty key, which never suppresses anything.
func IdempotencyKey(sessionID, requestID, role string) string {
	if requestID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sessionID + "\x00" + requestID + "\x00" + role))
	return hex.EncodeToString(sum[:])
}

// Expired reports whether the session is past its inactivity TTL at now.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && s.ExpiresAt <= now.Unix()
}

// FindByKey returns the stored message with the given idempotency key.
func (s *Session) FindByKey(key string) (Message, bool) {
	if s == nil || key == "" {
		return Message{}, false
	}
	for _, m := range s.Messages {
		if m.IdempotencyKey == key {
			return m, true
		}
	}
	return Message{}, false
}

// SummaryString returns a string value from the summary.
func (s *Session) SummaryString(key string) string {
	if s == nil {
		return ""
	}
	v, _ := s.Summary[key].(string)
	return v
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Summary = cloneMap(s.Summary)
	out.Messages = append([]Message(nil), s.Messages...)
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
