package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/widgetchat/internal/http/middleware"
	"github.com/wolfman30/widgetchat/internal/tenancy"
	"github.com/wolfman30/widgetchat/internal/tenantconfig"
	"github.com/wolfman30/widgetchat/pkg/logging"
)

const maxConfigBytes = 1 << 20

// TenantConfigAdmin is the resolver surface operators drive.
type TenantConfigAdmin interface {
	Resolve(ctx context.Context, handle string) (*tenantconfig.TenantConfig, error)
	Publish(ctx context.Context, handle string, raw []byte) (*tenantconfig.TenantConfig, error)
	Invalidate(handle string)
	Cached(handle string) (tenantconfig.CacheStatus, bool)
}

// AdminTenantConfigHandler publishes and inspects tenant configuration.
type AdminTenantConfigHandler struct {
	configs TenantConfigAdmin
	logger  *logging.Logger
}

// NewAdminTenantConfigHandler creates the handler.
func NewAdminTenantConfigHandler(configs TenantConfigAdmin, logger *logging.Logger) *AdminTenantConfigHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminTenantConfigHandler{configs: configs, logger: logger}
}

// ConfigSummary describes a tenant config without its content.
type ConfigSummary struct {
	TenantHandle string                 `json:"tenant_handle"`
	Version      string                 `json:"version"`
	Branches     int                    `json:"branches"`
	CTAs         int                    `json:"ctas"`
	Showcase     int                    `json:"showcase_items"`
	Warnings     []tenantconfig.Warning `json:"warnings"`
	Cache        *CacheSummary          `json:"cache,omitempty"`
}

// CacheSummary is the in-process cache state for a tenant.
type CacheSummary struct {
	Fresh bool  `json:"fresh"`
	AgeMS int64 `json:"age_ms"`
}

// Routes mounts the handler under /admin/tenants.
func (h *AdminTenantConfigHandler) Routes(r chi.Router) {
	r.Put("/{handle}/config", h.PutConfig)
	r.Get("/{handle}/config", h.GetConfig)
	r.Post("/{handle}/invalidate", h.Invalidate)
}

// PutConfig handles PUT /admin/tenants/{handle}/config.
func (h *AdminTenantConfigHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if !tenancy.ValidHandle(handle) {
		jsonError(w, "invalid tenant handle", http.StatusBadRequest)
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		jsonError(w, "config body too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}

	cfg, err := h.configs.Publish(r.Context(), handle, raw)
	if err != nil {
		h.writeConfigError(w, handle, err)
		return
	}

	actor := ""
	if claims, ok := middleware.AdminClaimsFromContext(r.Context()); ok {
		actor = claims.Subject
	}
	h.logger.Info("admin published tenant config",
		"tenant", tenancy.LogHandle(handle),
		"version", cfg.Version,
		"warnings", len(cfg.Warnings),
		"actor", actor,
	)
	writeJSON(w, http.StatusOK, h.summary(handle, cfg))
}

// GetConfig handles GET /admin/tenants/{handle}/config.
func (h *AdminTenantConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	cfg, err := h.configs.Resolve(r.Context(), handle)
	if err != nil {
		h.writeConfigError(w, handle, err)
		return
	}
	writeJSON(w, http.StatusOK, h.summary(handle, cfg))
}

// Invalidate handles POST /admin/tenants/{handle}/invalidate.
func (h *AdminTenantConfigHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if !tenancy.ValidHandle(handle) {
		jsonError(w, "invalid tenant handle", http.StatusBadRequest)
		return
	}
	h.configs.Invalidate(handle)
	h.logger.Info("admin invalidated tenant config", "tenant", tenancy.LogHandle(handle))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminTenantConfigHandler) summary(handle string, cfg *tenantconfig.TenantConfig) ConfigSummary {
	out := ConfigSummary{
		TenantHandle: handle,
		Version:      cfg.Version,
		Branches:     len(cfg.ConversationBranches),
		CTAs:         len(cfg.CTADefinitions),
		Showcase:     len(cfg.ContentShowcase),
		Warnings:     cfg.Warnings,
	}
	if out.Warnings == nil {
		out.Warnings = []tenantconfig.Warning{}
	}
	if status, ok := h.configs.Cached(handle); ok {
		out.Cache = &CacheSummary{Fresh: status.Fresh, AgeMS: status.Age.Milliseconds()}
	}
	return out
}

func (h *AdminTenantConfigHandler) writeConfigError(w http.ResponseWriter, handle string, err error) {
	var ce *tenantconfig.ConfigError
	if !errors.As(err, &ce) {
		h.logger.Error("tenant config admin failed", "tenant", tenancy.LogHandle(handle), "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	switch ce.Kind {
	case tenantconfig.NotFound:
		jsonError(w, "tenant config not found", http.StatusNotFound)
	case tenantconfig.Invalid:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "tenant config is invalid",
			"problems": ce.Problems,
		})
	default:
		h.logger.Warn("tenant config store unavailable", "tenant", tenancy.LogHandle(handle), "error", err)
		jsonError(w, "config store unavailable", http.StatusServiceUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
