// Package responder adapts the external AI backend that writes assistant
// replies. The chat core only needs text plus an optional branch choice.
package responder

import (
	"context"
	"strings"
)

// Turn is one prior message in the conversation.
type Turn struct {
	Role    string
	Content string
}

// Request is what the backend sees for one user message.
type Request struct {
	History []Turn
	Message string
	// Branches are the branch ids the backend may route to.
	Branches []string
	// CurrentBranch is the branch the previous reply was routed to.
	CurrentBranch string
}

// Reply is the generated assistant message.
type Reply struct {
	Content  string
	BranchID string
}

// Responder generates replies.
type Responder interface {
	Reply(ctx context.Context, req Request) (Reply, error)
}

// Static returns a fixed reply. Used for local runs and as the default
// backend when no model is configured.
type Static struct {
	Text string
}

func (s Static) Reply(ctx context.Context, _ Request) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	return Reply{Content: s.Text}, nil
}

const branchMarker = "branch:"

// splitBranch strips a trailing "branch: <id>" line and returns it when id
// is one of the allowed branches.
func splitBranch(text string, allowed []string) (string, string) {
	text = strings.TrimSpace(text)
	idx := strings.LastIndex(text, "\n")
	last := text[idx+1:]
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(last)), branchMarker) {
		return text, ""
	}
	body := ""
	if idx >= 0 {
		body = strings.TrimSpace(text[:idx])
	}
	id := strings.TrimSpace(strings.TrimSpace(last)[len(branchMarker):])
	for _, b := range allowed {
		if b == id {
			return body, id
		}
	}
	return body, ""
}
