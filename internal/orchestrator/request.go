package orchestrator

import (
	"strings"
	"unicode/utf8"

	"github.com/wolfman30/widgetchat/internal/conversation"
	"github.com/wolfman30/widgetchat/internal/tenantconfig"
)

// Stage names the last step a request reached.
type Stage string

const (
	StageReceived        Stage = "received"
	StageConfigResolved  Stage = "config_resolved"
	StageRateChecked     Stage = "rate_checked"
	StageStateApplied    Stage = "state_applied"
	StageRoutingResolved Stage = "routing_resolved"
	StageResponded       Stage = "responded"
	StageError           Stage = "error"
)

const (
	maxContentRunes = 4000
	maxIDLength     = 128
)

// Request is one inbound widget message.
type Request struct {
	TenantHandle string `json:"tenant_handle"`
	SessionID    string `json:"session_id"`
	// RequestID anchors idempotency. Without it duplicates cannot be
	// recognised.
	RequestID  string `json:"request_id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	BranchHint string `json:"branch_hint,omitempty"`
}

// CTAs is the action payload of a response.
type CTAs struct {
	Primary   *tenantconfig.CTA  `json:"primary,omitempty"`
	Secondary []tenantconfig.CTA `json:"secondary"`
}

// Response is the single object returned for a request.
type Response struct {
	Content  string                     `json:"content"`
	Turn     int                        `json:"turn"`
	CTAs     CTAs                       `json:"ctas"`
	Showcase *tenantconfig.ShowcaseItem `json:"showcase,omitempty"`
	BranchID string                     `json:"branch_id,omitempty"`
	Replayed bool                       `json:"replayed,omitempty"`
}

func (r *Request) normalize() *Error {
	r.TenantHandle = strings.TrimSpace(r.TenantHandle)
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.RequestID = strings.TrimSpace(r.RequestID)
	r.BranchHint = strings.TrimSpace(r.BranchHint)
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
	if r.Role == "" {
		r.Role = conversation.RoleUser
	}

	switch {
	case r.TenantHandle == "":
		return invalid(StageReceived, "tenant_handle is required")
	case r.SessionID == "":
		return invalid(StageReceived, "session_id is required")
	case len(r.SessionID) > maxIDLength:
		return invalid(StageReceived, "session_id is too long")
	case len(r.RequestID) > maxIDLength:
		return invalid(StageReceived, "request_id is too long")
	case r.Role != conversation.RoleUser:
		return invalid(StageReceived, "only user messages are accepted")
	case strings.TrimSpace(r.Content) == "":
		return invalid(StageReceived, "content is required")
	case utf8.RuneCountInString(r.Content) > maxContentRunes:
		return invalid(StageReceived, "content is too long")
	}
	return nil
}
