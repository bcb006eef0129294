package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/widgetchat/internal/protect"
	"github.com/wolfman30/widgetchat/internal/tenancy"
	"github.com/wolfman30/widgetchat/pkg/logging"
)

// Dependency is the ProtectedCaller dependency name for the state store.
const Dependency = "state_store"

var tracer = otel.Tracer("widgetchat.internal.conversation")

// Expected-turn sentinels for ApplyTurn.
const (
	// TurnCreate succeeds only when no live session exists.
	TurnCreate = -1
	// TurnAny skips the caller's turn check; the write is still conditional
	// on the turn that was read.
	TurnAny = -2
)

// VersionedStore is the conditional key-value substrate sessions live in.
type VersionedStore interface {
	// Load returns the stored session, expired or not, or ErrSessionNotFound.
	Load(ctx context.Context, key Key) (*Session, error)
	// Save writes sess only if the stored turn equals prevTurn. prevTurn 0
	// means the session must be absent or expired. A failed condition
	// returns ErrVersionConflict.
	Save(ctx context.Context, sess *Session, prevTurn int) error
}

// ConflictObserver is told about every version conflict.
type ConflictObserver interface {
	ObserveStateConflict()
}

// Mutation is what an Update callback wants committed.
type Mutation struct {
	Batch []Message
	Delta map[string]any
	// Skip commits nothing and returns the session as read.
	Skip bool
}

// StateStoreOptions configures a StateStore.
type StateStoreOptions struct {
	Store       VersionedStore
	Caller      *protect.Caller
	TTL         time.Duration
	MaxAttempts int
	Observer    ConflictObserver
	Logger      *logging.Logger
}

// StateStore provides per-session read-modify-write with optimistic
// concurrency and message idempotency.
type StateStore struct {
	store       VersionedStore
	caller      *protect.Caller
	ttl         time.Duration
	maxAttempts int
	observer    ConflictObserver
	logger      *logging.Logger
	now         func() time.Time
	newID       func() string
}

func NewStateStore(opts StateStoreOptions) *StateStore {
	if opts.Store == nil {
		panic("conversation: versioned store cannot be nil")
	}
	if opts.Caller == nil {
		panic("conversation: caller cannot be nil")
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &StateStore{
		store:       opts.Store,
		caller:      opts.Caller,
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		observer:    opts.Observer,
		logger:      opts.Logger,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// Get returns the live session for key.
func (s *StateStore) Get(ctx context.Context, key Key) (*Session, error) {
	sess, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, &StateError{Kind: NotFound, Key: key}
	}
	return sess, nil
}

// ApplyTurn commits batch and delta as the next turn of the session, provided
// the stored turn equals expectedTurn (or the TurnCreate / TurnAny
// sentinels). Messages whose idempotency key is already stored are skipped;
// the turn still advances by exactly one.
func (s *StateStore) ApplyTurn(ctx context.Context, key Key, expectedTurn int, batch []Message, delta map[string]any) (sess *Session, err error) {
	ctx, span := startSpan(ctx, "state.apply_turn", key)
	defer func() { endSpan(span, sess, err) }()
	return s.applyTurn(ctx, key, expectedTurn, batch, delta)
}

func (s *StateStore) applyTurn(ctx context.Context, key Key, expectedTurn int, batch []Message, delta map[string]any) (*Session, error) {
	current, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	stored := 0
	if current != nil {
		stored = current.Turn
	}
	switch expectedTurn {
	case TurnAny:
	case TurnCreate:
		if current != nil {
			return nil, s.conflict(key, expectedTurn, stored)
		}
	default:
		if expectedTurn != stored {
			return nil, s.conflict(key, expectedTurn, stored)
		}
	}
	return s.commit(ctx, key, current, batch, delta)
}

// Update runs a bounded read-apply loop: fn sees the freshest session (nil
// when absent) and returns the mutation to commit. Version conflicts trigger
// a fresh read; exhausting the attempts yields a Contention error.
func (s *StateStore) Update(ctx context.Context, key Key, fn func(current *Session) (Mutation, error)) (sess *Session, err error) {
	ctx, span := startSpan(ctx, "state.update", key)
	defer func() { endSpan(span, sess, err) }()
	return s.update(ctx, key, fn)
}

func (s *StateStore) update(ctx context.Context, key Key, fn func(current *Session) (Mutation, error)) (*Session, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}
		mut, err := fn(current.Clone())
		if err != nil {
			return nil, err
		}
		if mut.Skip {
			return current, nil
		}

		sess, err := s.commit(ctx, key, current, mut.Batch, mut.Delta)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		s.logger.Debug("state version conflict, retrying",
			"tenant", tenancy.LogHandle(key.TenantHandle),
			"attempt", attempt,
		)
	}
	s.logger.Warn("state contention",
		"tenant", tenancy.LogHandle(key.TenantHandle),
		"attempts", s.maxAttempts,
	)
	return nil, &StateError{Kind: Contention, Key: key}
}

func (s *StateStore) commit(ctx context.Context, key Key, current *Session, batch []Message, delta map[string]any) (*Session, error) {
	prevTurn := 0
	if current != nil {
		prevTurn = current.Turn
	}
	next := s.next(key, current, batch, delta)

	_, err := protect.Call(ctx, s.caller, protect.Operation{
		Dependency: Dependency,
		Name:       "save_session",
		Class:      protect.ClassWrite,
		// A timed-out conditional write may have landed; retrying it
		// would report a conflict against our own write.
		Idempotent: false,
	}, func(ctx context.Context) (struct{}, error) {
		err := s.store.Save(ctx, next, prevTurn)
		if errors.Is(err, ErrVersionConflict) {
			return struct{}{}, protect.Permanent(err)
		}
		return struct{}{}, err
	})
	if errors.Is(err, ErrVersionConflict) {
		return nil, s.conflict(key, prevTurn, -1)
	}
	if err != nil {
		return nil, &StateError{Kind: Unavailable, Key: key, Err: err}
	}
	return next, nil
}

// load returns nil, nil for absent or expired sessions.
func (s *StateStore) load(ctx context.Context, key Key) (*Session, error) {
	sess, err := protect.Call(ctx, s.caller, protect.Operation{
		Dependency: Dependency,
		Name:       "load_session",
		Class:      protect.ClassRead,
		Idempotent: true,
	}, func(ctx context.Context) (*Session, error) {
		sess, err := s.store.Load(ctx, key)
		if errors.Is(err, ErrSessionNotFound) {
			return nil, protect.Permanent(err)
		}
		return sess, err
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StateError{Kind: Unavailable, Key: key, Err: err}
	}
	if sess.Expired(s.now()) {
		return nil, nil
	}
	return sess, nil
}

func (s *StateStore) next(key Key, current *Session, batch []Message, delta map[string]any) *Session {
	now := s.now()
	next := current.Clone()
	if next == nil {
		next = &Session{
			SessionID:    key.String(),
			TenantHandle: key.TenantHandle,
			CreatedAt:    now,
		}
	}
	if next.Summary == nil {
		next.Summary = make(map[string]any)
	}

	seen := make(map[string]struct{}, len(next.Messages)+len(batch))
	for _, m := range next.Messages {
		if m.IdempotencyKey != "" {
			seen[m.IdempotencyKey] = struct{}{}
		}
	}
	turn := next.Turn + 1
	for _, m := range batch {
		if m.IdempotencyKey != "" {
			if _, dup := seen[m.IdempotencyKey]; dup {
				continue
			}
			seen[m.IdempotencyKey] = struct{}{}
		}
		if m.MessageID == "" {
			m.MessageID = s.newID()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		m.Turn = turn
		next.Messages = append(next.Messages, m)
	}

	for k, v := range delta {
		if v == nil {
			delete(next.Summary, k)
			continue
		}
		next.Summary[k] = cloneValue(v)
	}

	next.Turn = turn
	next.UpdatedAt = now
	next.ExpiresAt = now.Add(s.ttl).Unix()
	return next
}

func startSpan(ctx context.Context, name string, key Key) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("widgetchat.tenant", tenancy.LogHandle(key.TenantHandle)),
	))
}

func endSpan(span trace.Span, sess *Session, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if sess != nil {
		span.SetAttributes(attribute.Int("widgetchat.turn", sess.Turn))
	}
	span.End()
}

func (s *StateStore) conflict(key Key, expected, actual int) error {
	if s.observer != nil {
		s.observer.ObserveStateConflict()
	}
	return &StateError{Kind: VersionConflict, Key: key, Expected: expected, Actual: actual}
}
