// Package executor runs a reconfiguration plan: every action is handed to
// its driver as soon as all the actions it depends on are committed.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/limiquantix/replanner/internal/driver"
	"github.com/limiquantix/replanner/internal/plan"
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("execution already started")

// Config tunes the executor.
type Config struct {
	// MaxParallelActions bounds the concurrent driver calls; 0 means no bound.
	MaxParallelActions int `mapstructure:"max_parallel_actions"`
}

// Recorder receives the driver calls.
type Recorder interface {
	ActionStarted(kind string)
	ActionFinished(kind string, elapsed time.Duration, err error)
}

// ActionError is the failure of the driver of one action.
type ActionError struct {
	Index  int
	Action plan.Action
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// State is the execution state of an action.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCommitted State = "committed"
	StateFailed    State = "failed"
)

// Executor runs one plan. Create one executor per execution.
type Executor struct {
	id       uuid.UUID
	plan     *plan.TimedReconfigurationPlan
	graph    *plan.Graph
	factory  driver.Factory
	sink     EventSink
	recorder Recorder
	sem      *semaphore.Weighted
	logger   *zap.Logger

	started atomic.Bool
	// waiting counts, per action, the predecessors not committed yet
	waiting []*atomic.Int32
	states  []*atomic.String

	mu   sync.Mutex
	errs error
	wg   sync.WaitGroup
}

// New prepares the execution of rp. sink and recorder may be nil.
func New(rp *plan.TimedReconfigurationPlan, factory driver.Factory, config Config, sink EventSink, recorder Recorder, logger *zap.Logger) (*Executor, error) {
	g, err := rp.Graph()
	if err != nil {
		return nil, fmt.Errorf("failed to build the dependency graph: %w", err)
	}
	id := uuid.New()
	e := &Executor{
		id:       id,
		plan:     rp,
		graph:    g,
		factory:  factory,
		sink:     sink,
		recorder: recorder,
		waiting:  make([]*atomic.Int32, g.Len()),
		states:   make([]*atomic.String, g.Len()),
		logger: logger.With(
			zap.String("component", "executor"),
			zap.String("execution_id", id.String()),
			zap.String("plan_id", rp.ID.String()),
		),
	}
	if config.MaxParallelActions > 0 {
		e.sem = semaphore.NewWeighted(int64(config.MaxParallelActions))
	}
	for i := 0; i < g.Len(); i++ {
		e.waiting[i] = atomic.NewInt32(int32(len(g.Predecessors(i))))
		e.states[i] = atomic.NewString(string(StatePending))
	}
	return e, nil
}

// ID identifies the execution.
func (e *Executor) ID() uuid.UUID { return e.id }

// Plan returns the executed plan.
func (e *Executor) Plan() *plan.TimedReconfigurationPlan { return e.plan }

// Graph returns the dependency graph of the executed plan.
func (e *Executor) Graph() *plan.Graph { return e.graph }

// Start runs the plan and returns once no more action can be dispatched.
// Failed actions are not retried; the actions depending on them stay
// uncommitted. The returned error combines every *ActionError, and the
// context error if ctx was done before the end.
func (e *Executor) Start(ctx context.Context) error {
	if !e.started.CAS(false, true) {
		return ErrAlreadyStarted
	}
	started := time.Now()
	e.logger.Info("Starting plan execution",
		zap.Int("actions", e.graph.Len()),
		zap.Int("duration", e.plan.Duration()),
	)

	for i := 0; i < e.graph.Len(); i++ {
		if e.waiting[i].Load() == 0 {
			e.dispatch(ctx, i)
		}
	}
	e.wg.Wait()

	uncommitted := e.UncommittedActions()
	for _, i := range e.uncommittedIndexes() {
		if State(e.states[i].Load()) == StatePending {
			e.publish(context.WithoutCancel(ctx), i, EventBlocked, nil)
		}
	}

	e.mu.Lock()
	errs := e.errs
	e.mu.Unlock()
	if err := ctx.Err(); err != nil && len(uncommitted) > 0 {
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		e.logger.Warn("Plan execution incomplete",
			zap.Int("uncommitted", len(uncommitted)),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(errs),
		)
		return errs
	}
	e.logger.Info("Plan execution completed", zap.Duration("elapsed", time.Since(started)))
	return nil
}

func (e *Executor) dispatch(ctx context.Context, i int) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if ctx.Err() != nil {
			return
		}
		if e.sem != nil {
			if err := e.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer e.sem.Release(1)
		}
		if err := e.run(ctx, i); err != nil {
			e.mu.Lock()
			e.errs = multierr.Append(e.errs, err)
			e.mu.Unlock()
			return
		}
		for _, next := range e.graph.Successors(i) {
			if e.waiting[next].Dec() == 0 {
				e.dispatch(ctx, next)
			}
		}
	}()
}

func (e *Executor) run(ctx context.Context, i int) error {
	a := e.graph.Action(i)
	e.states[i].Store(string(StateRunning))
	e.publish(ctx, i, EventDispatched, nil)

	kind := string(a.Kind())
	if e.recorder != nil {
		e.recorder.ActionStarted(kind)
	}
	started := time.Now()
	err := e.execute(ctx, a)
	if e.recorder != nil {
		e.recorder.ActionFinished(kind, time.Since(started), err)
	}

	if err != nil {
		e.states[i].Store(string(StateFailed))
		e.publish(context.WithoutCancel(ctx), i, EventFailed, err)
		return &ActionError{Index: i, Action: a, Err: err}
	}
	e.states[i].Store(string(StateCommitted))
	e.publish(ctx, i, EventCommitted, nil)
	return nil
}

func (e *Executor) execute(ctx context.Context, a plan.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("driver panic: %v", r)
		}
	}()
	d, err := e.factory.New(a)
	if err != nil {
		return fmt.Errorf("failed to create driver: %w", err)
	}
	return d.Execute(ctx)
}

func (e *Executor) publish(ctx context.Context, i int, t EventType, err error) {
	if e.sink == nil {
		return
	}
	a := e.graph.Action(i)
	ev := Event{
		ExecutionID: e.id.String(),
		PlanID:      e.plan.ID.String(),
		Type:        t,
		Index:       i,
		Kind:        a.Kind(),
		Action:      a.String(),
		Timestamp:   time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if perr := e.sink.Publish(ctx, ev); perr != nil {
		e.logger.Warn("Failed to publish event", zap.String("type", string(t)), zap.Error(perr))
	}
}

func (e *Executor) uncommittedIndexes() []int {
	var out []int
	for i := range e.states {
		if State(e.states[i].Load()) != StateCommitted {
			out = append(out, i)
		}
	}
	return out
}

// UncommittedActions returns the actions not committed yet, in plan order.
// It is safe to call while the plan is running.
func (e *Executor) UncommittedActions() []plan.Action {
	idx := e.uncommittedIndexes()
	out := make([]plan.Action, len(idx))
	for k, i := range idx {
		out[k] = e.graph.Action(i)
	}
	return out
}

// States returns the state of every action, in plan order.
func (e *Executor) States() []State {
	out := make([]State, len(e.states))
	for i, s := range e.states {
		out[i] = State(s.Load())
	}
	return out
}
