package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wolfman30/widgetchat/internal/tenancy"
	"github.com/wolfman30/widgetchat/internal/webchat"
)

func TestRequireTenantHandlePassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, ok := tenancy.TenantHandleFromContext(r.Context())
		if !ok || handle != "tenant-alpha-0001" {
			t.Fatalf("expected tenant handle propagated, got %s / %v", handle, ok)
		}
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(webchat.TenantHeader, "tenant-alpha-0001")
	rr := httptest.NewRecorder()
	requireTenantHandle(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected downstream status, got %d", rr.Code)
	}
}

func TestRequireTenantHandleMissingHeader(t *testing.T) {
	handler := requireTenantHandle(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing tenant, got %d", rr.Code)
	}
}
