package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/widgetchat/internal/config"
	"github.com/wolfman30/widgetchat/internal/conversation"
	"github.com/wolfman30/widgetchat/internal/events"
	"github.com/wolfman30/widgetchat/internal/protect"
	"github.com/wolfman30/widgetchat/internal/ratelimit"
	"github.com/wolfman30/widgetchat/internal/responder"
	"github.com/wolfman30/widgetchat/internal/tenantconfig"
	"github.com/wolfman30/widgetchat/pkg/logging"
)

// BuildCaller returns a ProtectedCaller whose read class uses readTimeout.
// Config fetches and state reads have separate budgets, so each gets its
// own caller; breakers are per dependency either way.
func BuildCaller(cfg *appconfig.Config, readTimeout time.Duration, observer protect.Observer, logger *logging.Logger) *protect.Caller {
	return protect.NewCaller(protect.Options{
		Breaker: protect.BreakerSettings{
			Window:           cfg.BreakerWindow,
			FailureThreshold: cfg.BreakerFailureThreshold,
			Cooldown:         cfg.BreakerCooldown,
		},
		Policies: map[protect.Class]protect.Policy{
			protect.ClassRead: {
				Timeout:     readTimeout,
				MaxAttempts: cfg.RetryMaxAttempts,
				BaseBackoff: cfg.RetryBaseDelay,
			},
			protect.ClassWrite: {
				Timeout:     cfg.StateWriteTimeout,
				MaxAttempts: cfg.RetryMaxAttempts,
				BaseBackoff: cfg.RetryBaseDelay,
			},
			// One attempt: a retried generation rarely fits the request budget.
			protect.ClassInference: {
				Timeout:     cfg.ResponderTimeout,
				MaxAttempts: 1,
			},
		},
		Observer: observer,
		Logger:   logger,
	})
}

// BuildConfigStore returns the tenant config blob store named by CONFIG_STORE.
func BuildConfigStore(cfg *appconfig.Config, awsCfg aws.Config, redisClient *redis.Client) (tenantconfig.BlobStore, error) {
	switch cfg.ConfigStore {
	case appconfig.BackendS3:
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		})
		return tenantconfig.NewS3Store(client, cfg.ConfigBucket), nil
	case appconfig.BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: redis config store needs REDIS_ADDR")
		}
		return tenantconfig.NewRedisStore(redisClient), nil
	case appconfig.BackendMemory:
		return tenantconfig.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("bootstrap: unsupported config store %q", cfg.ConfigStore)
}

// BuildStateBackend returns the conditional-write substrate named by
// STATE_BACKEND.
func BuildStateBackend(cfg *appconfig.Config, awsCfg aws.Config, redisClient *redis.Client) (conversation.VersionedStore, error) {
	switch cfg.StateBackend {
	case appconfig.BackendDynamoDB:
		return conversation.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.StateTable), nil
	case appconfig.BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: redis state backend needs REDIS_ADDR")
		}
		return conversation.NewRedisStore(redisClient), nil
	case appconfig.BackendMemory:
		return conversation.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("bootstrap: unsupported state backend %q", cfg.StateBackend)
}

// BuildLimiter returns the per-session limiter named by RATE_LIMIT_BACKEND.
func BuildLimiter(cfg *appconfig.Config, redisClient *redis.Client) (ratelimit.Limiter, error) {
	switch cfg.RateLimitBackend {
	case appconfig.BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: redis rate limiter needs REDIS_ADDR")
		}
		return ratelimit.NewRedisWindow(redisClient, cfg.RateLimitPerMinute, time.Minute), nil
	case appconfig.BackendMemory, "":
		return ratelimit.NewTokenBucket(cfg.RateLimitPerMinute, cfg.RateLimitBurst), nil
	}
	return nil, fmt.Errorf("bootstrap: unsupported rate limit backend %q", cfg.RateLimitBackend)
}

// BuildResponder returns the reply backend named by RESPONDER_BACKEND.
func BuildResponder(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) responder.Responder {
	if cfg.ResponderBackend == "bedrock" && cfg.BedrockModelID != "" {
		logger.Info("bedrock responder enabled", "model", cfg.BedrockModelID)
		return responder.NewBedrock(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
	}
	logger.Warn("no model configured; using static responder")
	return responder.Static{Text: cfg.StaticReply}
}

// BuildEventSinks fans audit and turn events out to every sink in
// AUDIT_SINKS. The returned func releases sink resources.
func BuildEventSinks(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, observer events.FailureObserver, logger *logging.Logger) (*events.Fanout, func(), error) {
	fanout := events.NewFanout(observer, logger)
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	for _, name := range cfg.AuditSinks {
		switch name {
		case "log":
			fanout.Add(name, events.NewLogSink(logger))
		case "sqs":
			fanout.Add(name, events.NewSQSSink(sqs.NewFromConfig(awsCfg), cfg.AuditQueueURL))
		case "postgres":
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
			}
			closers = append(closers, pool.Close)
			fanout.Add(name, events.NewPostgresSink(pool))
		default:
			closeAll()
			return nil, nil, fmt.Errorf("bootstrap: unsupported audit sink %q", name)
		}
	}
	return fanout, closeAll, nil
}
