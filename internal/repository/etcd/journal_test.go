package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/executor"
)

// MockKV is an in-memory KV.
type MockKV struct {
	values map[string][]byte
	err    error
}

func newMockKV() *MockKV {
	return &MockKV{values: make(map[string][]byte)}
}

func (m *MockKV) Put(_ context.Context, key string, value any) error {
	if m.err != nil {
		return m.err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = data
	return nil
}

func (m *MockKV) List(_ context.Context, prefix string) ([][]byte, error) {
	var keys []string
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = m.values[k]
	}
	return out, nil
}

func TestActionKey(t *testing.T) {
	if got := actionKey("e1", 12); got != "executions/e1/actions/000012" {
		t.Errorf("Unexpected key %s", got)
	}
	if !strings.HasPrefix(actionKey("e1", 3), executionPrefix("e1")) {
		t.Error("Expected action keys under the execution prefix")
	}
}

func TestJournal_Publish(t *testing.T) {
	kv := newMockKV()
	j := NewJournal(kv, zap.NewNop())
	ctx := context.Background()

	events := []executor.Event{
		{ExecutionID: "e1", Type: executor.EventDispatched, Index: 0},
		{ExecutionID: "e1", Type: executor.EventDispatched, Index: 1},
		{ExecutionID: "e1", Type: executor.EventCommitted, Index: 1},
		{ExecutionID: "e1", Type: executor.EventFailed, Index: 0, Error: "boom"},
		{ExecutionID: "e1", Type: executor.EventBlocked, Index: 2},
		{ExecutionID: "e2", Type: executor.EventCommitted, Index: 0},
	}
	for _, ev := range events {
		if err := j.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	outcomes, err := j.Outcomes(ctx, "e1")
	if err != nil {
		t.Fatalf("Outcomes failed: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("Expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Type != executor.EventFailed || outcomes[0].Error != "boom" {
		t.Errorf("Expected action 0 to be failed, got %+v", outcomes[0])
	}

	committed, err := j.Committed(ctx, "e1")
	if err != nil {
		t.Fatalf("Committed failed: %v", err)
	}
	if len(committed) != 1 || committed[0] != 1 {
		t.Errorf("Expected [1], got %v", committed)
	}
}

func TestJournal_Publish_Error(t *testing.T) {
	kv := newMockKV()
	kv.err = errors.New("etcdserver: request timed out")
	j := NewJournal(kv, zap.NewNop())

	err := j.Publish(context.Background(), executor.Event{ExecutionID: "e1", Type: executor.EventCommitted})
	if !errors.Is(err, kv.err) {
		t.Errorf("Expected the KV error, got %v", err)
	}
}
