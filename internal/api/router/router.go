package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/widgetchat/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/widgetchat/internal/http/middleware"
	"github.com/wolfman30/widgetchat/internal/ratelimit"
	"github.com/wolfman30/widgetchat/internal/webchat"
	"github.com/wolfman30/widgetchat/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Chat               *webchat.Handler
	AdminTenantConfig  *handlers.AdminTenantConfigHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// IPLimiter throttles public routes per client IP ahead of the
	// per-session limit. Optional.
	IPLimiter ratelimit.Limiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Chat != nil {
		r.Route("/v1", func(v1 chi.Router) {
			if cfg.IPLimiter != nil {
				v1.Use(httpmiddleware.RateLimit(cfg.IPLimiter, cfg.Logger))
			}
			v1.Post("/chat", cfg.Chat.HandleChat)
			v1.Get("/chat/ws", cfg.Chat.HandleWebSocket)
			v1.With(requireTenantHandle).Get("/sessions/{session}/history", cfg.Chat.HandleHistory)
		})
	}

	if cfg.AdminTenantConfig != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, cfg.Logger))
			admin.Route("/tenants", cfg.AdminTenantConfig.Routes)
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
