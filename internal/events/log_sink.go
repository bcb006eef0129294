package events

import (
	"context"

	"github.com/wolfman30/widgetchat/pkg/logging"
)

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, e Event) error {
	s.logger.Info("event",
		"event_id", e.ID,
		"event_type", e.Type,
		"tenant", e.Tenant,
		"session", e.Session,
		"request_id", e.RequestID,
		"action", e.Action,
		"outcome", e.Outcome,
		"stage", e.Stage,
		"duration_ms", e.DurationMS,
		"turn", e.Turn,
		"replay", e.Replay,
		"branch", e.BranchID,
		"tier", e.Tier,
		"cta_ids", e.CTAIDs,
	)
	return nil
}
