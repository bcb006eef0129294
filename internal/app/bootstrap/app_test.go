package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/widgetchat/internal/config"
	"github.com/wolfman30/widgetchat/internal/conversation"
	httpmiddleware "github.com/wolfman30/widgetchat/internal/http/middleware"
	"github.com/wolfman30/widgetchat/internal/ratelimit"
	"github.com/wolfman30/widgetchat/internal/responder"
	"github.com/wolfman30/widgetchat/internal/tenantconfig"
	"github.com/wolfman30/widgetchat/pkg/logging"
)

const testHandle = "tenant-bootstrap-01"

const testConfig = `{
  "tenant_handle": %q,
  "version": "1",
  "fallback_branch_id": "hub",
  "conversation_branches": {
    "hub": {"available_ctas": {"primary": "contact"}},
    "camp": {"cta_id": "signup", "detection_keywords": ["camp"]}
  },
  "cta_definitions": {
    "contact": {"label": "Contact us", "kind": "start_form", "form_id": "contact"},
    "signup": {"label": "Sign up", "kind": "start_form", "form_id": "camp"}
  }
}`

func memoryConfig() *appconfig.Config {
	return &appconfig.Config{
		Env:                     "test",
		ConfigStore:             appconfig.BackendMemory,
		ConfigCacheTTL:          time.Minute,
		ConfigStaleCeiling:      time.Hour,
		StateBackend:            appconfig.BackendMemory,
		SessionTTL:              time.Hour,
		StateMaxAttempts:        3,
		BreakerWindow:           30 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerCooldown:         time.Second,
		ConfigFetchTimeout:      time.Second,
		StateReadTimeout:        time.Second,
		StateWriteTimeout:       time.Second,
		ResponderTimeout:        time.Second,
		RetryMaxAttempts:        2,
		RetryBaseDelay:          time.Millisecond,
		RequestTimeout:          5 * time.Second,
		MaxSecondaryCTAs:        3,
		RateLimitBackend:        appconfig.BackendMemory,
		RateLimitPerMinute:      60,
		RateLimitBurst:          10,
		AuditSinks:              []string{"log"},
		ResponderBackend:        "static",
		StaticReply:             "Happy to help.",
		AdminJWTSecret:          "bootstrap-secret",
	}
}

func buildTestApp(t *testing.T, cfg *appconfig.Config) *App {
	t.Helper()
	app, err := BuildApp(context.Background(), cfg, Deps{
		Registry: prometheus.NewRegistry(),
		Logger:   logging.NewWithWriter("error", io.Discard),
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	app.Start(ctx)
	t.Cleanup(func() {
		cancel()
		app.Close()
	})
	return app
}

func adminToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		Audience:  jwt.ClaimStrings{httpmiddleware.AdminAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestBuildAppServesChatEndToEnd(t *testing.T) {
	app := buildTestApp(t, memoryConfig())

	put := httptest.NewRequest(http.MethodPut, "/admin/tenants/"+testHandle+"/config",
		bytes.NewReader([]byte(fmt.Sprintf(testConfig, testHandle))))
	put.Header.Set("Authorization", "Bearer "+adminToken(t, "bootstrap-secret"))
	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := `{"tenant_handle":"` + testHandle + `","session_id":"s-1","request_id":"r-1","content":"Tell me about camp"}`
	rec = httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader([]byte(body))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Content  string `json:"content"`
		Turn     int    `json:"turn"`
		BranchID string `json:"branch_id"`
		CTAs     struct {
			Primary *struct {
				ID string `json:"id"`
			} `json:"primary"`
		} `json:"ctas"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Happy to help.", resp.Content)
	assert.Equal(t, 1, resp.Turn)
	assert.Equal(t, "camp", resp.BranchID)
	require.NotNil(t, resp.CTAs.Primary)
	assert.Equal(t, "signup", resp.CTAs.Primary.ID)

	hist := httptest.NewRequest(http.MethodGet, "/v1/sessions/s-1/history", nil)
	hist.Header.Set("X-Tenant-Handle", testHandle)
	rec = httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, hist)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Tell me about camp")

	rec = httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "widgetchat_chat_requests_total")
}

func TestBuildAppRejectsUnsignedAdminCalls(t *testing.T) {
	app := buildTestApp(t, memoryConfig())

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants/"+testHandle+"/config", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuildAppUnknownTenant(t *testing.T) {
	app := buildTestApp(t, memoryConfig())

	body := `{"tenant_handle":"tenant-missing-0001","session_id":"s-1","content":"hello"}`
	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader([]byte(body))))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "TENANT_NOT_FOUND")
}

func TestBuildAppRequiresConfig(t *testing.T) {
	_, err := BuildApp(context.Background(), nil, Deps{})
	require.Error(t, err)
}

func TestBuildAppRejectsUnknownSink(t *testing.T) {
	cfg := memoryConfig()
	cfg.AuditSinks = []string{"kafka"}
	_, err := BuildApp(context.Background(), cfg, Deps{Registry: prometheus.NewRegistry()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka")
}

func TestBuildersSelectBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.ConfigStore = appconfig.BackendRedis
	cfg.StateBackend = appconfig.BackendRedis
	cfg.RateLimitBackend = appconfig.BackendRedis
	cfg.RedisAddr = mr.Addr()

	client, err := BuildRedisClient(context.Background(), cfg, logging.NewWithWriter("error", io.Discard), true)
	require.NoError(t, err)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	blobs, err := BuildConfigStore(cfg, aws.Config{}, client)
	require.NoError(t, err)
	assert.IsType(t, &tenantconfig.RedisStore{}, blobs)

	states, err := BuildStateBackend(cfg, aws.Config{}, client)
	require.NoError(t, err)
	assert.IsType(t, &conversation.RedisStore{}, states)

	limiter, err := BuildLimiter(cfg, client)
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.RedisWindow{}, limiter)

	_, err = BuildStateBackend(cfg, aws.Config{}, nil)
	assert.Error(t, err)
}

func TestBuildRedisClientSkippedWithoutRedisBackends(t *testing.T) {
	client, err := BuildRedisClient(context.Background(), memoryConfig(), nil, true)
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestBuildRedisClientPingFailure(t *testing.T) {
	cfg := memoryConfig()
	cfg.StateBackend = appconfig.BackendRedis
	cfg.RedisAddr = "127.0.0.1:1"
	_, err := BuildRedisClient(context.Background(), cfg, logging.NewWithWriter("error", io.Discard), true)
	require.Error(t, err)
}

func TestBuildResponderFallsBackToStatic(t *testing.T) {
	cfg := memoryConfig()
	cfg.ResponderBackend = "bedrock"
	r := BuildResponder(cfg, aws.Config{}, logging.NewWithWriter("error", io.Discard))
	assert.Equal(t, responder.Static{Text: "Happy to help."}, r)

	cfg.BedrockModelID = "anthropic.claude-3-haiku"
	r = BuildResponder(cfg, aws.Config{Region: "us-east-1"}, logging.NewWithWriter("error", io.Discard))
	assert.IsType(t, &responder.Bedrock{}, r)
}

func TestBuildAppThrottlesPerIP(t *testing.T) {
	cfg := memoryConfig()
	cfg.IPRateLimitPerMinute = 1
	app := buildTestApp(t, cfg)

	body := `{"tenant_handle":"tenant-missing-0001","session_id":"s-1","content":"hello"}`
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader([]byte(body))))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNotFound, http.StatusTooManyRequests}, codes)
}
