package router

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wolfman30/widgetchat/internal/tenancy"
	"github.com/wolfman30/widgetchat/internal/webchat"
)

// requireTenantHandle enforces the tenant header on tenant-scoped reads and
// stores the handle on the context.
func requireTenantHandle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle := strings.TrimSpace(r.Header.Get(webchat.TenantHeader))
		if handle == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]webchat.ErrorBody{"error": {
				Code:    "INVALID_REQUEST",
				Message: "missing " + webchat.TenantHeader,
			}})
			return
		}
		ctx := tenancy.WithTenantHandle(r.Context(), handle)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
