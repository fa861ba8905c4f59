// Package planner computes reconfiguration plans: it builds the problem of a
// source configuration, solves it and checks the resulting plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/heuristic"
	"github.com/limiquantix/replanner/internal/model"
	"github.com/limiquantix/replanner/internal/placement"
	"github.com/limiquantix/replanner/internal/plan"
	"github.com/limiquantix/replanner/internal/solver"
)

// Config tunes the search.
type Config struct {
	// TimeLimit bounds the search; 0 means no limit.
	TimeLimit time.Duration `mapstructure:"time_limit"`
	// MaxBacktracks bounds the search; 0 means no limit.
	MaxBacktracks int `mapstructure:"max_backtracks"`
	// Optimize keeps searching for cheaper plans after the first one.
	Optimize    bool                  `mapstructure:"optimize"`
	Heuristic   heuristic.Config      `mapstructure:"heuristic"`
	Partitions  []placement.Partition `mapstructure:"partitions"`
	CloneSuffix string                `mapstructure:"clone_suffix"`
}

// DefaultConfig optimizes for at most 30 seconds.
func DefaultConfig() Config {
	return Config{
		TimeLimit:   30 * time.Second,
		Optimize:    true,
		Heuristic:   heuristic.DefaultConfig(),
		CloneSuffix: model.DefaultCloneSuffix,
	}
}

// Recorder receives the outcome of every planning request.
type Recorder interface {
	ObservePlanning(outcome string, elapsed time.Duration, backtracks, actions, objective int)
}

// Request lists the states required at the end of the reconfiguration.
type Request = model.Request

// Planner computes reconfiguration plans.
type Planner struct {
	config    Config
	durations model.DurationEvaluator
	recorder  Recorder
	logger    *zap.Logger
}

// New creates a planner. The recorder may be nil.
func New(config Config, durations model.DurationEvaluator, recorder Recorder, logger *zap.Logger) *Planner {
	return &Planner{
		config:    config,
		durations: durations,
		recorder:  recorder,
		logger:    logger.With(zap.String("component", "planner")),
	}
}

// Compute returns a plan transforming src into a configuration satisfying
// req and the placement constraints. Failures are *PlanError.
func (pl *Planner) Compute(ctx context.Context, src *domain.Configuration, req Request, constraints []placement.Constraint) (*plan.TimedReconfigurationPlan, error) {
	started := time.Now()
	logger := pl.logger.With(
		zap.Int("nodes", len(src.AllNodes())),
		zap.Int("vms", len(src.AllVirtualMachines())),
		zap.Int("constraints", len(constraints)),
	)
	logger.Info("Starting reconfiguration planning")

	rp, stats, err := pl.compute(ctx, src, req, constraints, logger)
	elapsed := time.Since(started)
	if err != nil {
		var perr *PlanError
		if !errors.As(err, &perr) {
			perr = &PlanError{Reason: ReasonModeling, Cause: err}
		}
		logger.Warn("Reconfiguration planning failed",
			zap.String("reason", string(perr.Reason)),
			zap.Duration("elapsed", elapsed),
			zap.Error(perr.Cause),
		)
		pl.observe(string(perr.Reason), elapsed, stats, 0)
		return nil, perr
	}

	logger.Info("Computed reconfiguration plan",
		zap.String("plan_id", rp.ID.String()),
		zap.Int("actions", rp.Size()),
		zap.Int("duration", rp.Duration()),
		zap.Int("objective", stats.Objective),
		zap.Int("backtracks", stats.Backtracks),
		zap.Duration("elapsed", elapsed),
	)
	pl.observe("success", elapsed, stats, rp.Size())
	return rp, nil
}

func (pl *Planner) observe(outcome string, elapsed time.Duration, stats solver.Statistics, actions int) {
	if pl.recorder != nil {
		pl.recorder.ObservePlanning(outcome, elapsed, stats.Backtracks, actions, stats.Objective)
	}
}

func (pl *Planner) compute(ctx context.Context, src *domain.Configuration, req Request, constraints []placement.Constraint, logger *zap.Logger) (*plan.TimedReconfigurationPlan, solver.Statistics, error) {
	var stats solver.Statistics
	if err := pl.config.Heuristic.Validate(); err != nil {
		return nil, stats, &PlanError{Reason: ReasonInvalidRequest, Cause: err}
	}

	// 1. partitions first: conflicts are reported before any modeling
	pt, err := placement.NewPartitioning(src, pl.config.Partitions, constraints)
	if err != nil {
		return nil, stats, &PlanError{Reason: ReasonInvalidRequest, Cause: err}
	}

	// 2. model
	p, err := model.NewProblem(src, req, pl.durations, model.Options{CloneSuffix: pl.config.CloneSuffix}, logger)
	if err != nil {
		return nil, stats, classifyModelError(err)
	}
	if err := pt.Inject(p); err != nil {
		return nil, stats, &PlanError{Reason: ReasonInvalidRequest, Cause: err}
	}
	for _, c := range constraints {
		if err := c.Inject(p); err != nil {
			return nil, stats, &PlanError{Reason: ReasonInvalidRequest, Cause: err}
		}
	}
	heuristic.Install(p, pl.config.Heuristic, pt.Groups, logger)

	// 3. search
	var objective *solver.IntVar
	if pl.config.Optimize {
		objective = p.Objective()
	}
	limits := solver.Limits{TimeLimit: pl.config.TimeLimit, MaxBacktracks: pl.config.MaxBacktracks}
	status, err := p.Solver().Solve(ctx, objective, limits)
	stats = p.Solver().Stats()
	if err != nil {
		return nil, stats, &PlanError{Reason: ReasonModeling, Cause: err}
	}
	logger.Debug("Search completed",
		zap.String("status", status.String()),
		zap.Int("nodes", stats.Nodes),
		zap.Int("backtracks", stats.Backtracks),
		zap.Int("solutions", stats.Solutions),
		zap.Duration("elapsed", stats.Elapsed),
	)
	switch status {
	case solver.StatusInfeasible:
		return nil, stats, &PlanError{Reason: ReasonInfeasible, Cause: ErrInfeasible}
	case solver.StatusUnknown:
		return nil, stats, &PlanError{Reason: ReasonLimitReached, Cause: ErrLimitReached}
	}
	stats.Objective = p.Objective().Value()

	// 4. extract and check
	rp, err := p.Plan()
	if err != nil {
		return nil, stats, &PlanError{Reason: ReasonModeling, Cause: err}
	}
	if err := check(rp, constraints); err != nil {
		return nil, stats, &PlanError{Reason: ReasonModeling, Cause: err}
	}
	return rp, stats, nil
}

// check simulates the plan and verifies the configuration it reaches.
func check(rp *plan.TimedReconfigurationPlan, constraints []placement.Constraint) error {
	if _, err := rp.Graph(); err != nil {
		return err
	}
	dst, err := rp.Apply()
	if err != nil {
		return fmt.Errorf("failed to simulate the plan: %w", err)
	}
	// terminating a waiting VM needs no action
	for _, vm := range dst.AllWaitings() {
		if !rp.Destination.Contains(vm.Name) {
			dst.Remove(vm.Name)
		}
	}
	if !dst.Equal(rp.Destination) {
		return fmt.Errorf("the plan reaches\n%sinstead of\n%s", dst, rp.Destination)
	}
	if overloaded := dst.Overloaded(); len(overloaded) > 0 {
		return fmt.Errorf("the plan overloads node %s", overloaded[0].Name)
	}
	for _, c := range constraints {
		if !c.IsSatisfied(dst) {
			return fmt.Errorf("the plan violates %s", c.Name())
		}
		if root, ok := c.(*placement.Root); ok && !root.RootedIn(rp.Source, dst) {
			return fmt.Errorf("the plan violates %s", c.Name())
		}
	}
	return nil
}

func classifyModelError(err error) error {
	var reqErr *model.RequestError
	var noTransition *model.NoAvailableTransitionError
	switch {
	case errors.As(err, &reqErr):
		return &PlanError{Reason: ReasonInvalidRequest, Cause: err}
	case errors.As(err, &noTransition):
		return &PlanError{Reason: ReasonModeling, Cause: err}
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrNotFound):
		return &PlanError{Reason: ReasonInvalidRequest, Cause: err}
	default:
		return &PlanError{Reason: ReasonModeling, Cause: err}
	}
}
