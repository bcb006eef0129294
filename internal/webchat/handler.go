// Package webchat is the widget-facing transport: a JSON endpoint, a
// WebSocket endpoint and session history, all backed by the orchestrator.
package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wolfman30/widgetchat/internal/orchestrator"
	"github.com/wolfman30/widgetchat/internal/tenancy"
	"github.com/wolfman30/widgetchat/pkg/logging"
)

// TenantHeader carries the tenant handle on requests that have no body.
const TenantHeader = "X-Tenant-Handle"

const maxBodyBytes = 64 << 10

// ChatService is the orchestrator surface the transport needs.
type ChatService interface {
	Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
	History(ctx context.Context, tenantHandle, sessionID string) (*orchestrator.History, error)
}

// Handler serves widget traffic.
type Handler struct {
	service      ChatService
	logger       *logging.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	readTimeout  time.Duration
}

// Options tunes the WebSocket side of the handler.
type Options struct {
	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string
	PingInterval   time.Duration
}

// NewHandler creates a web chat handler.
func NewHandler(service ChatService, opts Options, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	h := &Handler{
		service:      service,
		logger:       logger,
		pingInterval: opts.PingInterval,
		readTimeout:  opts.PingInterval * 2,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// ErrorBody is the error payload returned to the widget.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type chatRequest struct {
	TenantHandle string `json:"tenant_handle"`
	SessionID    string `json:"session_id"`
	RequestID    string `json:"request_id"`
	Role         string `json:"role"`
	Content      string `json:"content"`
	BranchHint   string `json:"branch_hint"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
	*orchestrator.Response
}

// HandleChat processes one message over plain HTTP.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]ErrorBody{"error": {
			Code:    string(orchestrator.CodeInvalidRequest),
			Message: "invalid request body",
		}})
		return
	}
	if body.TenantHandle == "" {
		body.TenantHandle = r.Header.Get(TenantHeader)
	}
	if strings.TrimSpace(body.SessionID) == "" {
		body.SessionID = generateSessionID()
	}

	resp, err := h.service.Handle(r.Context(), orchestrator.Request{
		TenantHandle: body.TenantHandle,
		SessionID:    body.SessionID,
		RequestID:    body.RequestID,
		Role:         body.Role,
		Content:      body.Content,
		BranchHint:   body.BranchHint,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{SessionID: body.SessionID, RequestID: body.RequestID, Response: resp})
}

// HandleHistory returns the transcript of a session.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	tenant, ok := tenancy.TenantHandleFromContext(r.Context())
	if !ok {
		tenant = r.Header.Get(TenantHeader)
	}

	hist, err := h.service.History(r.Context(), tenant, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	body, status, retryAfter := errorPayload(err)
	if status >= http.StatusInternalServerError && body.Code == string(orchestrator.CodeInternal) {
		h.logger.Error("webchat: unexpected error", "error", err)
	}
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
	writeJSON(w, status, map[string]ErrorBody{"error": body})
}

func errorPayload(err error) (ErrorBody, int, time.Duration) {
	var oe *orchestrator.Error
	if errors.As(err, &oe) {
		return ErrorBody{Code: string(oe.Code), Message: oe.Message, Retryable: oe.Retryable}, oe.Status, oe.RetryAfter
	}
	return ErrorBody{
		Code:    string(orchestrator.CodeInternal),
		Message: "Something went wrong.",
	}, http.StatusInternalServerError, 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// generateSessionID creates a random session identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
