package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/executor"
)

var (
	_ executor.EventSink = (*Journal)(nil)
	_ KV                 = (*Client)(nil)
)

// ExecutionLock is the lock taken around an execution so that two planners
// never reconfigure the cluster at the same time.
const ExecutionLock = "execution"

// KV is the part of the etcd client used by the journal.
type KV interface {
	Put(ctx context.Context, key string, value any) error
	List(ctx context.Context, prefix string) ([][]byte, error)
}

// Journal keeps the last known outcome of every action of an execution.
// Dispatched events are ignored: only settled outcomes are journaled.
type Journal struct {
	kv     KV
	logger *zap.Logger
}

// NewJournal creates a journal on top of kv.
func NewJournal(kv KV, logger *zap.Logger) *Journal {
	return &Journal{
		kv:     kv,
		logger: logger.With(zap.String("component", "journal")),
	}
}

func executionPrefix(executionID string) string {
	return fmt.Sprintf("executions/%s/actions/", executionID)
}

func actionKey(executionID string, index int) string {
	// zero-padded so that a prefix listing follows the plan order
	return fmt.Sprintf("%s%06d", executionPrefix(executionID), index)
}

// Publish implements executor.EventSink.
func (j *Journal) Publish(ctx context.Context, ev executor.Event) error {
	if ev.Type == executor.EventDispatched {
		return nil
	}
	if err := j.kv.Put(ctx, actionKey(ev.ExecutionID, ev.Index), ev); err != nil {
		return fmt.Errorf("failed to journal %s: %w", ev.Action, err)
	}
	return nil
}

// Outcomes returns the journaled events of an execution in plan order.
func (j *Journal) Outcomes(ctx context.Context, executionID string) ([]executor.Event, error) {
	values, err := j.kv.List(ctx, executionPrefix(executionID))
	if err != nil {
		return nil, err
	}
	events := make([]executor.Event, 0, len(values))
	for _, v := range values {
		var ev executor.Event
		if err := json.Unmarshal(v, &ev); err != nil {
			j.logger.Warn("Skipping unreadable journal entry", zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(a, b int) bool { return events[a].Index < events[b].Index })
	return events, nil
}

// Committed returns the indexes of the committed actions of an execution.
func (j *Journal) Committed(ctx context.Context, executionID string) ([]int, error) {
	events, err := j.Outcomes(ctx, executionID)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, ev := range events {
		if ev.Type == executor.EventCommitted {
			out = append(out, ev.Index)
		}
	}
	return out, nil
}
