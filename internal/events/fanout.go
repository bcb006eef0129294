package events

import (
	"context"
	"errors"

	"github.com/wolfman30/widgetchat/pkg/logging"
)

// FailureObserver counts events a named sink rejected.
type FailureObserver interface {
	ObserveSinkFailure(sink string)
}

// Fanout emits each event to every registered sink. A failing sink does not
// stop the others.
type Fanout struct {
	names    []string
	sinks    []Sink
	observer FailureObserver
	logger   *logging.Logger
}

func NewFanout(observer FailureObserver, logger *logging.Logger) *Fanout {
	if logger == nil {
		logger = logging.Default()
	}
	return &Fanout{observer: observer, logger: logger}
}

// Add registers a sink under name.
func (f *Fanout) Add(name string, sink Sink) *Fanout {
	f.names = append(f.names, name)
	f.sinks = append(f.sinks, sink)
	return f
}

func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Emit(ctx context.Context, e Event) error {
	var errs []error
	for i, sink := range f.sinks {
		if err := sink.Emit(ctx, e); err != nil {
			f.logger.Error("event sink failed", "sink", f.names[i], "event_type", e.Type, "event_id", e.ID, "error", err)
			if f.observer != nil {
				f.observer.ObserveSinkFailure(f.names[i])
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
