package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/config"
	"github.com/limiquantix/replanner/internal/driver"
	"github.com/limiquantix/replanner/internal/duration"
	"github.com/limiquantix/replanner/internal/executor"
	"github.com/limiquantix/replanner/internal/metrics"
	"github.com/limiquantix/replanner/internal/placement"
	"github.com/limiquantix/replanner/internal/plan"
	"github.com/limiquantix/replanner/internal/planner"
	"github.com/limiquantix/replanner/internal/repository/etcd"
	"github.com/limiquantix/replanner/internal/repository/memory"
	"github.com/limiquantix/replanner/internal/repository/postgres"
	"github.com/limiquantix/replanner/internal/repository/redis"
	"github.com/limiquantix/replanner/internal/scenario"
	"github.com/limiquantix/replanner/internal/server"
)

// historyStore keeps the plans and the events of their executions.
type historyStore interface {
	server.PlanRepository
	executor.EventSink
}

type application struct {
	cfg       *config.Config
	logger    *zap.Logger
	durations *duration.Evaluator
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
}

func newApp(cfg *config.Config, logger *zap.Logger) (*application, error) {
	durations, err := duration.NewEvaluator(cfg.Durations)
	if err != nil {
		return nil, err
	}
	a := &application{
		cfg:       cfg,
		logger:    logger,
		durations: durations,
		registry:  prometheus.NewRegistry(),
	}
	if cfg.Metrics.Enabled {
		if a.metrics, err = metrics.New(a.registry); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// compute plans the reconfiguration described by a scenario file.
func (a *application) compute(ctx context.Context, scenarioPath string) (*plan.TimedReconfigurationPlan, error) {
	sc, err := scenario.LoadFile(scenarioPath)
	if err != nil {
		return nil, err
	}

	pcfg := a.cfg.Planner
	pcfg.Partitions = append(append([]placement.Partition(nil), pcfg.Partitions...), sc.Partitions...)

	var recorder planner.Recorder
	if a.metrics != nil {
		recorder = a.metrics
	}
	pl := planner.New(pcfg, a.durations, recorder, a.logger)

	rp, err := pl.Compute(ctx, sc.Source, sc.Request, sc.Constraints)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Computed plan",
		zap.String("plan_id", rp.ID.String()),
		zap.Int("actions", rp.Size()),
		zap.Int("duration", rp.Duration()),
	)
	return rp, nil
}

func (a *application) executorRecorder() executor.Recorder {
	if a.metrics == nil {
		return nil
	}
	return a.metrics
}

func runApply(ctx context.Context, cfg *config.Config, logger *zap.Logger, scenarioPath string, serve bool) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	rp, err := a.compute(ctx, scenarioPath)
	if err != nil {
		return err
	}
	rec, err := rp.Record()
	if err != nil {
		return err
	}

	var closers []func() error
	defer func() {
		var closeErr error
		for i := len(closers) - 1; i >= 0; i-- {
			closeErr = multierr.Append(closeErr, closers[i]())
		}
		if closeErr != nil {
			logger.Warn("Failed to release resources", zap.Error(closeErr))
		}
	}()

	// Plan history
	var history historyStore
	if cfg.Executor.History {
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		closers = append(closers, func() error { db.Close(); return nil })
		history = postgres.NewPlanRepository(db, logger)
	} else {
		history = memory.NewPlanRepository()
	}
	if err := history.SavePlan(ctx, rec); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	sinks := executor.Sinks{executor.NewLogSink(logger), history}

	if cfg.Executor.Events {
		cache, err := redis.NewCache(cfg.Redis, logger)
		if err != nil {
			return err
		}
		closers = append(closers, cache.Close)
		if err := cache.SetPlan(ctx, rec); err != nil {
			logger.Warn("Failed to cache plan", zap.Error(err))
		}
		sinks = append(sinks, cache)
	}

	// Status server
	var srv *server.Server
	srvErr := make(chan error, 1)
	srvCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	if cfg.Server.Enabled {
		opts := []server.ServerOption{server.WithPlans(history)}
		if a.metrics != nil {
			opts = append(opts, server.WithGatherer(a.registry))
		}
		srv = server.New(cfg.Server, logger, opts...)
		sinks = append(sinks, srv.Events())
		go func() { srvErr <- srv.Run(srvCtx) }()
	}

	// Journal and execution lock
	if cfg.Executor.Journal {
		client, err := etcd.NewClient(cfg.Etcd, logger)
		if err != nil {
			return err
		}
		closers = append(closers, client.Close)

		lock, err := client.AcquireLock(ctx, etcd.ExecutionLock)
		if err != nil {
			return err
		}
		closers = append(closers, func() error { return lock.Unlock(context.Background()) })
		sinks = append(sinks, etcd.NewJournal(client, logger))
	}

	factory, err := driver.NewFactory(cfg.Drivers, logger)
	if err != nil {
		return err
	}
	e, err := executor.New(rp, factory, cfg.Executor.Config, sinks, a.executorRecorder(), logger)
	if err != nil {
		return err
	}
	if srv != nil {
		srv.Track(e)
	}

	logger.Info("Starting plan execution",
		zap.String("execution_id", e.ID().String()),
		zap.String("plan_id", rp.ID.String()),
		zap.String("driver_mode", cfg.Drivers.Mode),
	)
	execErr := e.Start(ctx)
	if execErr != nil {
		for _, action := range e.UncommittedActions() {
			logger.Warn("Action not committed", zap.String("action", action.String()))
		}
	} else {
		logger.Info("Plan executed", zap.String("execution_id", e.ID().String()))
	}

	if srv != nil {
		if serve && !errors.Is(execErr, context.Canceled) {
			logger.Info("Serving the execution status until interrupted")
			<-ctx.Done()
		}
		stopServer()
		if err := <-srvErr; err != nil {
			execErr = multierr.Append(execErr, err)
		}
	}
	return execErr
}
