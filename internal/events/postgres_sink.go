package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink appends events to the audit_events table.
type PostgresSink struct {
	db execer
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &PostgresSink{db: pool}
}

func newPostgresSinkWithExec(db execer) *PostgresSink {
	if db == nil {
		panic("events: exec required")
	}
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Emit(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal payload: %w", err)
	}
	query := `
		INSERT INTO audit_events (id, event_type, tenant, action, outcome, duration_ms, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, e.ID, e.Type, e.Tenant, e.Action, e.Outcome, e.DurationMS, payload, e.OccurredAt); err != nil {
		return fmt.Errorf("events: insert audit event: %w", err)
	}
	return nil
}
