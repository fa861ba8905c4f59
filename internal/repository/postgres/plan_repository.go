package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/executor"
	"github.com/limiquantix/replanner/internal/plan"
	"github.com/limiquantix/replanner/internal/server"
)

var (
	_ server.PlanRepository = (*PlanRepository)(nil)
	_ executor.EventSink    = (*PlanRepository)(nil)
)

// PlanRepository stores plans and execution events in PostgreSQL.
type PlanRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPlanRepository creates a new PostgreSQL plan repository.
func NewPlanRepository(db *DB, logger *zap.Logger) *PlanRepository {
	return &PlanRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "plan")),
	}
}

// SavePlan stores a plan and its actions in one transaction.
func (r *PlanRepository) SavePlan(ctx context.Context, rec *plan.PlanRecord) error {
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO plans (id, created_at, duration, source, destination)
			VALUES ($1, $2, $3, $4, $5)
		`, rec.ID, time.Unix(rec.CreatedAt, 0), rec.Duration, rec.Source, rec.Destination)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyExists
			}
			return fmt.Errorf("failed to insert plan: %w", err)
		}

		for _, a := range rec.Actions {
			_, err := tx.Exec(ctx, `
				INSERT INTO plan_actions (plan_id, idx, kind, start_time, end_time, description, elements, depends_on)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, rec.ID, a.Index, string(a.Kind), a.Start, a.End, a.Description, nonNil(a.Elements), toInt32s(a.DependsOn))
			if err != nil {
				return fmt.Errorf("failed to insert action %d: %w", a.Index, err)
			}
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrAlreadyExists) {
			r.logger.Error("Failed to save plan", zap.String("plan_id", rec.ID), zap.Error(err))
		}
		return err
	}
	r.logger.Debug("Saved plan", zap.String("plan_id", rec.ID), zap.Int("actions", len(rec.Actions)))
	return nil
}

// GetPlan retrieves a plan by ID.
func (r *PlanRepository) GetPlan(ctx context.Context, id string) (*plan.PlanRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	rec := &plan.PlanRecord{}
	var createdAt time.Time
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, created_at, duration, source, destination
		FROM plans WHERE id = $1
	`, id).Scan(&rec.ID, &createdAt, &rec.Duration, &rec.Source, &rec.Destination)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	rec.CreatedAt = createdAt.Unix()

	if rec.Actions, err = r.actions(ctx, rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListPlans returns the most recent plans first.
func (r *PlanRepository) ListPlans(ctx context.Context, limit int) ([]*plan.PlanRecord, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, created_at, duration, source, destination
		FROM plans ORDER BY created_at DESC, id LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	var plans []*plan.PlanRecord
	for rows.Next() {
		rec := &plan.PlanRecord{}
		var createdAt time.Time
		if err := rows.Scan(&rec.ID, &createdAt, &rec.Duration, &rec.Source, &rec.Destination); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		rec.CreatedAt = createdAt.Unix()
		plans = append(plans, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	for _, rec := range plans {
		if rec.Actions, err = r.actions(ctx, rec.ID); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

func (r *PlanRepository) actions(ctx context.Context, planID string) ([]plan.ActionRecord, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT idx, kind, start_time, end_time, description, elements, depends_on
		FROM plan_actions WHERE plan_id = $1 ORDER BY idx
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to get actions: %w", err)
	}
	defer rows.Close()

	actions := []plan.ActionRecord{}
	for rows.Next() {
		var a plan.ActionRecord
		var kind string
		var dependsOn []int32
		if err := rows.Scan(&a.Index, &kind, &a.Start, &a.End, &a.Description, &a.Elements, &dependsOn); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		a.Kind = plan.Kind(kind)
		a.DependsOn = fromInt32s(dependsOn)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Publish implements executor.EventSink.
func (r *PlanRepository) Publish(ctx context.Context, ev executor.Event) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO action_events (execution_id, plan_id, type, idx, kind, action, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ExecutionID, ev.PlanID, string(ev.Type), ev.Index, string(ev.Kind), ev.Action, ev.Error, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Events returns the events of an execution in publication order.
func (r *PlanRepository) Events(ctx context.Context, executionID string) ([]executor.Event, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT execution_id, plan_id, type, idx, kind, action, error, created_at
		FROM action_events WHERE execution_id = $1 ORDER BY id
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []executor.Event
	for rows.Next() {
		var ev executor.Event
		var evType, kind string
		if err := rows.Scan(&ev.ExecutionID, &ev.PlanID, &evType, &ev.Index, &kind, &ev.Action, &ev.Error, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = executor.EventType(evType)
		ev.Kind = plan.Kind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	if len(events) == 0 {
		return nil, domain.ErrNotFound
	}
	return events, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toInt32s(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

func fromInt32s(in []int32) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
