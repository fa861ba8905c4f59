package executor

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/plan"
)

// EventType is the transition reported by an Event.
type EventType string

const (
	EventDispatched EventType = "dispatched"
	EventCommitted  EventType = "committed"
	EventFailed     EventType = "failed"
	// EventBlocked is reported once the execution is over for every action
	// that never ran because one of its predecessors failed.
	EventBlocked EventType = "blocked"
)

// Event describes the progress of one action of an execution.
type Event struct {
	ExecutionID string    `json:"execution_id"`
	PlanID      string    `json:"plan_id"`
	Type        EventType `json:"type"`
	Index       int       `json:"index"`
	Kind        plan.Kind `json:"kind"`
	Action      string    `json:"action"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventSink receives the events of an execution. Publish is called from the
// driver goroutines and must be safe for concurrent use.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// Sinks fans an event out to several sinks.
type Sinks []EventSink

// Publish forwards ev to every sink and combines their errors.
func (s Sinks) Publish(ctx context.Context, ev Event) error {
	var errs error
	for _, sink := range s {
		errs = multierr.Append(errs, sink.Publish(ctx, ev))
	}
	return errs
}

// LogSink logs every event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.With(zap.String("component", "executor-events"))}
}

// Publish implements EventSink.
func (s *LogSink) Publish(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("execution_id", ev.ExecutionID),
		zap.Int("index", ev.Index),
		zap.String("action", ev.Action),
	}
	switch ev.Type {
	case EventFailed:
		s.logger.Error("Action failed", append(fields, zap.String("error", ev.Error))...)
	case EventBlocked:
		s.logger.Warn("Action blocked", fields...)
	case EventCommitted:
		s.logger.Info("Action committed", fields...)
	default:
		s.logger.Debug("Action dispatched", fields...)
	}
	return nil
}
