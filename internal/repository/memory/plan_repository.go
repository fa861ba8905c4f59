// Package memory provides in-memory repository implementations for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/executor"
	"github.com/limiquantix/replanner/internal/plan"
	"github.com/limiquantix/replanner/internal/server"
)

// Ensure PlanRepository implements server.PlanRepository and executor.EventSink
var (
	_ server.PlanRepository = (*PlanRepository)(nil)
	_ executor.EventSink    = (*PlanRepository)(nil)
)

// PlanRepository is an in-memory plan history.
type PlanRepository struct {
	mu     sync.RWMutex
	plans  map[string]*plan.PlanRecord
	events map[string][]executor.Event
}

// NewPlanRepository creates a new in-memory plan repository.
func NewPlanRepository() *PlanRepository {
	return &PlanRepository{
		plans:  make(map[string]*plan.PlanRecord),
		events: make(map[string][]executor.Event),
	}
}

// SavePlan stores a plan. Saving the same plan twice fails.
func (r *PlanRepository) SavePlan(ctx context.Context, rec *plan.PlanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plans[rec.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.plans[rec.ID] = clonePlan(rec)
	return nil
}

// GetPlan retrieves a plan by ID.
func (r *PlanRepository) GetPlan(ctx context.Context, id string) (*plan.PlanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePlan(rec), nil
}

// ListPlans returns the most recent plans first.
func (r *PlanRepository) ListPlans(ctx context.Context, limit int) ([]*plan.PlanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*plan.PlanRecord, 0, len(r.plans))
	for _, rec := range r.plans {
		out = append(out, clonePlan(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Publish records an execution event.
func (r *PlanRepository) Publish(ctx context.Context, ev executor.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[ev.ExecutionID] = append(r.events[ev.ExecutionID], ev)
	return nil
}

// Events returns the events of an execution in publication order.
func (r *PlanRepository) Events(ctx context.Context, executionID string) ([]executor.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events, ok := r.events[executionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]executor.Event(nil), events...), nil
}

func clonePlan(rec *plan.PlanRecord) *plan.PlanRecord {
	c := *rec
	c.Actions = make([]plan.ActionRecord, len(rec.Actions))
	for i, a := range rec.Actions {
		a.Elements = append([]string(nil), a.Elements...)
		a.DependsOn = append([]int(nil), a.DependsOn...)
		c.Actions[i] = a
	}
	return &c
}
