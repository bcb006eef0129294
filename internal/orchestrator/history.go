package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/wolfman30/widgetchat/internal/conversation"
)

// HistoryMessage is the public view of a stored message.
type HistoryMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Turn     int    `json:"turn"`
	BranchID string `json:"branch_id,omitempty"`
}

// History is the transcript of a live session.
type History struct {
	Turn     int              `json:"turn"`
	Messages []HistoryMessage `json:"messages"`
}

// History returns the transcript for a tenant's session. A missing or
// expired session yields an empty transcript at turn 0.
func (o *Orchestrator) History(ctx context.Context, tenantHandle, sessionID string) (*History, error) {
	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	tenantHandle = strings.TrimSpace(tenantHandle)
	sessionID = strings.TrimSpace(sessionID)
	if tenantHandle == "" || sessionID == "" || len(sessionID) > maxIDLength {
		return nil, invalid(StageReceived, "tenant_handle and session_id are required")
	}
	if _, err := o.configs.Resolve(ctx, tenantHandle); err != nil {
		return nil, o.configError(ctx, StageReceived, err)
	}

	key := conversation.Key{TenantHandle: tenantHandle, SessionID: sessionID}
	sess, err := o.sessions.Get(ctx, key)
	if errors.Is(err, conversation.ErrSessionNotFound) {
		return &History{Messages: []HistoryMessage{}}, nil
	}
	if err != nil {
		return nil, o.stateError(ctx, StageConfigResolved, err)
	}

	out := &History{Turn: sess.Turn, Messages: make([]HistoryMessage, 0, len(sess.Messages))}
	for _, m := range sess.Messages {
		out.Messages = append(out.Messages, HistoryMessage{
			Role:     m.Role,
			Content:  m.Content,
			Turn:     m.Turn,
			BranchID: m.BranchID,
		})
	}
	return out, nil
}
