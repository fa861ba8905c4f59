package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/executor"
	"github.com/limiquantix/replanner/internal/plan"
)

func TestPlanRepository_SavePlan(t *testing.T) {
	repo := NewPlanRepository()
	ctx := context.Background()

	rec := &plan.PlanRecord{
		ID:        "p1",
		CreatedAt: 10,
		Actions:   []plan.ActionRecord{{Index: 0, Kind: plan.KindShutdown, Elements: []string{"N1"}}},
	}
	if err := repo.SavePlan(ctx, rec); err != nil {
		t.Fatalf("SavePlan failed: %v", err)
	}
	if err := repo.SavePlan(ctx, rec); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	rec.Actions[0].Elements[0] = "N2"
	got, err := repo.GetPlan(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPlan failed: %v", err)
	}
	if got.Actions[0].Elements[0] != "N1" {
		t.Error("Expected the stored plan to be isolated from the caller")
	}

	if _, err := repo.GetPlan(ctx, "p2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPlanRepository_ListPlans(t *testing.T) {
	repo := NewPlanRepository()
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		if err := repo.SavePlan(ctx, &plan.PlanRecord{ID: id, CreatedAt: int64(i)}); err != nil {
			t.Fatalf("SavePlan failed: %v", err)
		}
	}

	plans, err := repo.ListPlans(ctx, 2)
	if err != nil {
		t.Fatalf("ListPlans failed: %v", err)
	}
	if len(plans) != 2 || plans[0].ID != "c" || plans[1].ID != "b" {
		t.Errorf("Expected [c b], got %v", plans)
	}
}

func TestPlanRepository_Events(t *testing.T) {
	repo := NewPlanRepository()
	ctx := context.Background()

	_ = repo.Publish(ctx, executor.Event{ExecutionID: "e1", Type: executor.EventDispatched, Index: 0})
	_ = repo.Publish(ctx, executor.Event{ExecutionID: "e1", Type: executor.EventCommitted, Index: 0})
	_ = repo.Publish(ctx, executor.Event{ExecutionID: "e2", Type: executor.EventFailed, Index: 3})

	events, err := repo.Events(ctx, "e1")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 2 || events[1].Type != executor.EventCommitted {
		t.Errorf("Unexpected events %+v", events)
	}
	if _, err := repo.Events(ctx, "e3"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
