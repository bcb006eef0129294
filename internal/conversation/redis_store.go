package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const sessionKeyPrefix = "widgetchat:session:"

// RedisStore keeps each session as a JSON string and uses WATCH/MULTI for
// the conditional write. The key TTL follows the session's expires_at.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	now    func() time.Time
}

func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("conversation: redis client cannot be nil")
	}
	return &RedisStore{
		redis:  redisClient,
		tracer: otel.Tracer("widgetchat.internal.conversation.redis"),
		now:    time.Now,
	}
}

func (s *RedisStore) key(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisStore) Load(ctx context.Context, key Key) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.redis.load")
	defer span.End()

	sess, err := s.get(ctx, s.redis, s.key(key.String()))
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		span.RecordError(err)
	}
	return sess, err
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, cmd stringGetter, redisKey string) (*Session, error) {
	data, err := cmd.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: redis get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("conversation: decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Session, prevTurn int) error {
	ctx, span := s.tracer.Start(ctx, "conversation.redis.save")
	defer span.End()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("conversation: encode session: %w", err)
	}
	ttl := time.Unix(sess.ExpiresAt, 0).Sub(s.now())
	if ttl <= 0 {
		ttl = time.Second
	}
	redisKey := s.key(sess.SessionID)

	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := s.get(ctx, tx, redisKey)
		switch {
		case errors.Is(err, ErrSessionNotFound):
			if prevTurn != 0 {
				return ErrVersionConflict
			}
		case err != nil:
			return err
		case prevTurn == 0:
			if !existing.Expired(s.now()) {
				return ErrVersionConflict
			}
		case existing.Turn != prevTurn:
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, ttl)
			return nil
		})
		return err
	}, redisKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrVersionConflict), errors.Is(err, redis.TxFailedErr):
		return ErrVersionConflict
	default:
		span.RecordError(err)
		return fmt.Errorf("conversation: redis save session: %w", err)
	}
}
