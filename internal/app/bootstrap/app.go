// Package bootstrap assembles the chat service from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/widgetchat/internal/api/router"
	appconfig "github.com/wolfman30/widgetchat/internal/config"
	"github.com/wolfman30/widgetchat/internal/conversation"
	"github.com/wolfman30/widgetchat/internal/events"
	"github.com/wolfman30/widgetchat/internal/http/handlers"
	"github.com/wolfman30/widgetchat/internal/observability/metrics"
	"github.com/wolfman30/widgetchat/internal/orchestrator"
	"github.com/wolfman30/widgetchat/internal/paramstore"
	"github.com/wolfman30/widgetchat/internal/ratelimit"
	"github.com/wolfman30/widgetchat/internal/routing"
	"github.com/wolfman30/widgetchat/internal/tenantconfig"
	"github.com/wolfman30/widgetchat/internal/webchat"
	"github.com/wolfman30/widgetchat/pkg/logging"
)

const reapInterval = time.Minute

// Deps are the process-level clients the app is built from.
type Deps struct {
	AWS      aws.Config
	Redis    *redis.Client
	Registry *prometheus.Registry
	Logger   *logging.Logger
}

// App is a fully wired chat service.
type App struct {
	Metrics      *metrics.ChatMetrics
	Resolver     *tenantconfig.Resolver
	Orchestrator *orchestrator.Orchestrator
	Handler      http.Handler

	events     *events.Queue
	background []func(ctx context.Context)
	closers    []func()
	wg         sync.WaitGroup
}

// BuildApp wires every component named by cfg.
func BuildApp(ctx context.Context, cfg *appconfig.Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	app := &App{Metrics: metrics.NewChatMetrics(reg)}
	cache := tenantconfig.NewCache()
	app.closers = append(app.closers, cache.Purge)

	blobs, err := BuildConfigStore(cfg, deps.AWS, deps.Redis)
	if err != nil {
		return nil, err
	}
	app.Resolver = tenantconfig.NewResolver(tenantconfig.ResolverOptions{
		Store:        blobs,
		Caller:       BuildCaller(cfg, cfg.ConfigFetchTimeout, app.Metrics, logger),
		Cache:        cache,
		Prefix:       cfg.ConfigPrefix,
		TTL:          cfg.ConfigCacheTTL,
		StaleCeiling: cfg.ConfigStaleCeiling,
		Observer:     app.Metrics,
		Logger:       logger,
	})

	chatCaller := BuildCaller(cfg, cfg.StateReadTimeout, app.Metrics, logger)
	backend, err := BuildStateBackend(cfg, deps.AWS, deps.Redis)
	if err != nil {
		return nil, err
	}
	if mem, ok := backend.(*conversation.MemoryStore); ok {
		app.background = append(app.background, func(ctx context.Context) { mem.RunReaper(ctx, reapInterval) })
	}
	states := conversation.NewStateStore(conversation.StateStoreOptions{
		Store:       backend,
		Caller:      chatCaller,
		TTL:         cfg.SessionTTL,
		MaxAttempts: cfg.StateMaxAttempts,
		Observer:    app.Metrics,
		Logger:      logger,
	})

	limiter, err := BuildLimiter(cfg, deps.Redis)
	if err != nil {
		return nil, err
	}
	if tb, ok := limiter.(*ratelimit.TokenBucket); ok {
		app.background = append(app.background, tb.Run)
	}

	sinks, closeSinks, err := BuildEventSinks(ctx, cfg, deps.AWS, app.Metrics, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeSinks)
	app.events = events.NewQueue(sinks, events.QueueOptions{
		Size:     cfg.EventQueueSize,
		Caller:   chatCaller,
		Observer: app.Metrics,
		Logger:   logger,
	})
	app.background = append(app.background, app.events.Run)

	app.Orchestrator = orchestrator.New(orchestrator.Options{
		Configs:  app.Resolver,
		Sessions: states,
		Router: routing.NewEngine(routing.Options{
			MaxSecondary: cfg.MaxSecondaryCTAs,
			Observer:     app.Metrics,
			Logger:       logger,
		}),
		Limiter:        limiter,
		Responder:      BuildResponder(cfg, deps.AWS, logger),
		Caller:         chatCaller,
		Events:         app.events,
		Observer:       app.Metrics,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	adminSecret, err := loadAdminSecret(ctx, cfg, deps.AWS)
	if err != nil {
		app.Close()
		return nil, err
	}
	if adminSecret == "" {
		logger.Warn("admin config API disabled; no ADMIN_JWT_SECRET configured")
	}

	var ipLimiter ratelimit.Limiter
	if cfg.IPRateLimitPerMinute > 0 {
		ipBucket := ratelimit.NewTokenBucket(cfg.IPRateLimitPerMinute, cfg.IPRateLimitPerMinute)
		app.background = append(app.background, ipBucket.Run)
		ipLimiter = ipBucket
	}

	app.Handler = router.New(&router.Config{
		Logger:             logger,
		Chat:               webchat.NewHandler(app.Orchestrator, webchat.Options{AllowedOrigins: cfg.CORSAllowedOrigins}, logger),
		AdminTenantConfig:  handlers.NewAdminTenantConfigHandler(app.Resolver, logger),
		AdminAuthSecret:    adminSecret,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		IPLimiter:          ipLimiter,
	})
	return app, nil
}

// Start launches background maintenance until ctx is done.
func (a *App) Start(ctx context.Context) {
	for _, run := range a.background {
		a.wg.Add(1)
		go func(run func(context.Context)) {
			defer a.wg.Done()
			run(ctx)
		}(run)
	}
}

// Flush delivers queued events before ctx ends. Runtimes that freeze the
// process between requests call it before returning a response.
func (a *App) Flush(ctx context.Context) {
	a.events.Flush(ctx)
}

// Close waits for background work started with a now-cancelled context and
// releases sink resources.
func (a *App) Close() {
	a.wg.Wait()
	for _, c := range a.closers {
		c()
	}
}

func loadAdminSecret(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config) (string, error) {
	if cfg.AdminJWTSecret == "" && cfg.AdminJWTSecretParam == "" {
		return "", nil
	}
	var getter paramstore.Getter
	if cfg.AdminJWTSecret == "" {
		client, err := paramstore.New(ssm.NewFromConfig(awsCfg))
		if err != nil {
			return "", err
		}
		getter = client
	}
	secret, err := paramstore.Secret(ctx, getter, cfg.AdminJWTSecret, cfg.AdminJWTSecretParam)
	if err != nil {
		return "", fmt.Errorf("bootstrap: admin jwt secret: %w", err)
	}
	return secret, nil
}
