package driver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/plan"
)

// DryRunFactory builds drivers that only wait for the scheduled duration of
// their action.
type DryRunFactory struct {
	unit   time.Duration
	logger *zap.Logger
}

// NewDryRunFactory creates a dry-run factory. unit is the wall-clock time of
// one plan time unit.
func NewDryRunFactory(unit time.Duration, logger *zap.Logger) *DryRunFactory {
	return &DryRunFactory{unit: unit, logger: logger}
}

// New implements Factory.
func (f *DryRunFactory) New(a plan.Action) (Driver, error) {
	wait := time.Duration(a.End()-a.Start()) * f.unit
	return Func(func(ctx context.Context) error {
		f.logger.Info("Dry-run action", zap.String("action", a.String()), zap.Duration("wait", wait))
		if wait <= 0 {
			return ctx.Err()
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}), nil
}
