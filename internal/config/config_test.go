package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/limiquantix/replanner/internal/driver"
	"github.com/limiquantix/replanner/internal/heuristic"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Planner.TimeLimit != 30*time.Second || !cfg.Planner.Optimize {
		t.Errorf("Unexpected planner defaults: %+v", cfg.Planner)
	}
	if cfg.Planner.Heuristic.Strategy != heuristic.StrategyWorstFit || !cfg.Planner.Heuristic.StayFirst {
		t.Errorf("Unexpected heuristic defaults: %+v", cfg.Planner.Heuristic)
	}
	if cfg.Drivers.Mode != driver.ModeDryRun || cfg.Drivers.SSH.Port != 22 {
		t.Errorf("Unexpected driver defaults: %+v", cfg.Drivers)
	}
	if cfg.Drivers.Commands["migration"] == "" {
		t.Error("Expected a default migration command")
	}
	if f, ok := cfg.Durations["migration"]; !ok || f.Base <= 0 {
		t.Errorf("Expected a default migration duration, got %+v", cfg.Durations)
	}
	if cfg.Server.Address() != "127.0.0.1:8090" {
		t.Errorf("Unexpected server address %s", cfg.Server.Address())
	}
	if cfg.Database.StatementTimeout != 30*time.Second || cfg.Database.ApplicationName != "replanner" {
		t.Errorf("Unexpected database defaults: %+v", cfg.Database)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replanner.yaml")
	content := `
planner:
  time_limit: 5s
  heuristic:
    strategy: best-fit
  partitions:
    - name: rack-a
      nodes: [N1, N2]
durations:
  migration:
    base: 2
    per_memory_gib: 3
executor:
  max_parallel_actions: 4
  journal: true
drivers:
  mode: ssh
  ssh:
    hosts:
      N1: 10.0.0.1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("REPLANNER_PLANNER_OPTIMIZE", "false")
	t.Setenv("REPLANNER_REDIS_PORT", "6380")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Planner.TimeLimit != 5*time.Second || cfg.Planner.Optimize {
		t.Errorf("Unexpected planner config: %+v", cfg.Planner)
	}
	if cfg.Planner.Heuristic.Strategy != heuristic.StrategyBestFit {
		t.Errorf("Expected best-fit, got %s", cfg.Planner.Heuristic.Strategy)
	}
	if len(cfg.Planner.Partitions) != 1 || cfg.Planner.Partitions[0].Name != "rack-a" {
		t.Errorf("Unexpected partitions: %+v", cfg.Planner.Partitions)
	}
	if f := cfg.Durations["migration"]; f.Base != 2 || f.PerMemoryGiB != 3 {
		t.Errorf("Unexpected migration duration: %+v", f)
	}
	if cfg.Executor.MaxParallelActions != 4 || !cfg.Executor.Journal {
		t.Errorf("Unexpected executor config: %+v", cfg.Executor)
	}
	if cfg.Drivers.SSH.Hosts["n1"] != "10.0.0.1" && cfg.Drivers.SSH.Hosts["N1"] != "10.0.0.1" {
		t.Errorf("Unexpected SSH hosts: %v", cfg.Drivers.SSH.Hosts)
	}
	if cfg.Redis.Address() != "localhost:6380" {
		t.Errorf("Expected the env to override the redis port, got %s", cfg.Redis.Address())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"strategy": "planner:\n  heuristic:\n    strategy: first-fit\n",
		"duration": "durations:\n  migration:\n    base: -1\n",
		"driver":   "drivers:\n  mode: ipmi\n",
		"file":     "planner: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "replanner.yaml")
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
