package webchat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wolfman30/widgetchat/internal/orchestrator"
	"github.com/wolfman30/widgetchat/internal/tenancy"
)

const writeWait = 10 * time.Second

// InboundFrame is what the widget sends over the socket.
type InboundFrame struct {
	Type       string `json:"type"` // "message", "ping"
	RequestID  string `json:"request_id,omitempty"`
	Text       string `json:"text"`
	BranchHint string `json:"branch_hint,omitempty"`
}

// OutboundFrame is what we send to the widget.
type OutboundFrame struct {
	Type      string                 `json:"type"` // "session", "history", "reply", "error", "pong"
	SessionID string                 `json:"session_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Reply     *orchestrator.Response `json:"reply,omitempty"`
	History   *orchestrator.History  `json:"history,omitempty"`
	Error     *ErrorBody             `json:"error,omitempty"`
}

// HandleWebSocket upgrades the connection and serves messages until the
// widget disconnects. Frames are handled in order, one at a time.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		tenant = r.Header.Get(TenantHeader)
	}
	if tenant == "" {
		http.Error(w, "tenant parameter required", http.StatusBadRequest)
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		sessionID = generateSessionID()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("webchat: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log := h.logger.With("tenant", tenancy.LogHandle(tenant))
	log.Info("webchat: connection opened")

	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})
	go h.pingLoop(ctx, conn)

	if err := h.send(conn, OutboundFrame{Type: "session", SessionID: sessionID}); err != nil {
		return
	}
	if hist, err := h.service.History(ctx, tenant, sessionID); err == nil && len(hist.Messages) > 0 {
		_ = h.send(conn, OutboundFrame{Type: "history", SessionID: sessionID, History: hist})
	}

	for {
		var frame InboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("webchat: read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		switch frame.Type {
		case "ping":
			if err := h.send(conn, OutboundFrame{Type: "pong"}); err != nil {
				return
			}
			continue
		case "message":
		default:
			continue
		}

		requestID := frame.RequestID
		if requestID == "" {
			requestID = uuid.NewString()
		}
		out := OutboundFrame{Type: "reply", SessionID: sessionID, RequestID: requestID}
		resp, err := h.service.Handle(ctx, orchestrator.Request{
			TenantHandle: tenant,
			SessionID:    sessionID,
			RequestID:    requestID,
			Content:      frame.Text,
			BranchHint:   frame.BranchHint,
		})
		if err != nil {
			body, _, _ := errorPayload(err)
			out.Type = "error"
			out.Error = &body
		} else {
			out.Reply = resp
		}
		if err := h.send(conn, out); err != nil {
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, frame OutboundFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

// pingLoop keeps idle connections alive. WriteControl may run concurrently
// with the reader's WriteJSON calls.
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
