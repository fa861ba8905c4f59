// Package metrics exposes the prometheus collectors of the planner and the
// executor.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "replanner"

// Metrics holds the collectors. Create it once per registry.
type Metrics struct {
	planningTotal    *prometheus.CounterVec
	planningDuration prometheus.Histogram
	planActions      prometheus.Gauge
	planObjective    prometheus.Gauge
	searchBacktracks prometheus.Counter

	actionsTotal   *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	actionsRunning prometheus.Gauge
}

// New creates the collectors and registers them against reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		planningTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "planning_total",
				Help:      "Total number of planning requests by outcome",
			},
			[]string{"outcome"},
		),
		planningDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "planning_duration_seconds",
			Help:      "Time spent computing reconfiguration plans",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		planActions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plan_actions",
			Help:      "Number of actions of the last computed plan",
		}),
		planObjective: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plan_objective",
			Help:      "Cost of the last computed plan",
		}),
		searchBacktracks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_backtracks_total",
			Help:      "Total number of backtracks of the solver",
		}),
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of executed actions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Time spent by drivers executing actions",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"kind"},
		),
		actionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actions_running",
			Help:      "Number of actions currently executed by a driver",
		}),
	}

	collectors := map[string]prometheus.Collector{
		"planning_total":            m.planningTotal,
		"planning_duration_seconds": m.planningDuration,
		"plan_actions":              m.planActions,
		"plan_objective":            m.planObjective,
		"search_backtracks_total":   m.searchBacktracks,
		"actions_total":             m.actionsTotal,
		"action_duration_seconds":   m.actionDuration,
		"actions_running":           m.actionsRunning,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register %s metric: %w", name, err)
		}
	}
	return m, nil
}

// ObservePlanning records the outcome of a planning request. Actions and
// objective are only recorded for successful plans.
func (m *Metrics) ObservePlanning(outcome string, elapsed time.Duration, backtracks, actions, objective int) {
	m.planningTotal.WithLabelValues(outcome).Inc()
	m.planningDuration.Observe(elapsed.Seconds())
	m.searchBacktracks.Add(float64(backtracks))
	if outcome == "success" {
		m.planActions.Set(float64(actions))
		m.planObjective.Set(float64(objective))
	}
}

// ActionStarted records the dispatch of an action to its driver.
func (m *Metrics) ActionStarted(kind string) {
	m.actionsRunning.Inc()
}

// ActionFinished records the end of a driver call.
func (m *Metrics) ActionFinished(kind string, elapsed time.Duration, err error) {
	m.actionsRunning.Dec()
	outcome := "committed"
	if err != nil {
		outcome = "failed"
	}
	m.actionsTotal.WithLabelValues(kind, outcome).Inc()
	m.actionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}
