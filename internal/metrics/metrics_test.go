package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			match := true
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
				}
			}
			if match {
				if c := metric.GetCounter(); c != nil {
					return c.GetValue()
				}
				return metric.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func TestMetrics_ObservePlanning(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.ObservePlanning("success", 20*time.Millisecond, 3, 4, 12)
	m.ObservePlanning("infeasible", 5*time.Millisecond, 7, 0, 0)

	if got := counterValue(t, reg, "replanner_planning_total", map[string]string{"outcome": "success"}); got != 1 {
		t.Errorf("Expected 1 successful planning, got %v", got)
	}
	if got := counterValue(t, reg, "replanner_search_backtracks_total", nil); got != 10 {
		t.Errorf("Expected 10 backtracks, got %v", got)
	}
	if got := counterValue(t, reg, "replanner_plan_actions", nil); got != 4 {
		t.Errorf("Expected 4 actions, got %v", got)
	}
}

func TestMetrics_Actions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.ActionStarted("migration")
	m.ActionStarted("shutdown")
	m.ActionFinished("migration", time.Second, nil)

	if got := counterValue(t, reg, "replanner_actions_running", nil); got != 1 {
		t.Errorf("Expected 1 running action, got %v", got)
	}
	m.ActionFinished("shutdown", time.Second, errors.New("boom"))
	if got := counterValue(t, reg, "replanner_actions_total", map[string]string{"kind": "shutdown", "outcome": "failed"}); got != 1 {
		t.Errorf("Expected 1 failed shutdown, got %v", got)
	}
}

func TestNew_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Error("Expected an error when registering the collectors twice")
	}
}
