package heuristic

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/model"
	"github.com/limiquantix/replanner/internal/plan"
	"github.com/limiquantix/replanner/internal/solver"
)

type unitDurations struct{}

func (unitDurations) Evaluate(plan.Kind, domain.ManagedElement) (int, error) { return 1, nil }

// newProblem builds N1 hosting VM1 (1/1), an empty N2 and N3 hosting VM3
// (3/3), every node with a capacity of 4/4, and requires a new VM2 (1/1).
func newProblem(t *testing.T) *model.Problem {
	t.Helper()
	src := domain.NewConfiguration()
	for _, name := range []string{"N1", "N2", "N3"} {
		if err := src.AddOnline(domain.NewNode(name, 4, 4)); err != nil {
			t.Fatalf("AddOnline failed: %v", err)
		}
	}
	if err := src.SetRunOn(domain.NewVirtualMachine("VM1", 1, 1, 1), "N1"); err != nil {
		t.Fatalf("SetRunOn failed: %v", err)
	}
	if err := src.SetRunOn(domain.NewVirtualMachine("VM3", 3, 3, 3), "N3"); err != nil {
		t.Fatalf("SetRunOn failed: %v", err)
	}
	req := model.Request{Running: []*domain.VirtualMachine{domain.NewVirtualMachine("VM2", 1, 1, 1)}}
	p, err := model.NewProblem(src, req, unitDurations{}, model.Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProblem failed: %v", err)
	}
	return p
}

// firstSolution returns the node of every VM in the first solution found.
func firstSolution(t *testing.T, p *model.Problem) map[string]string {
	t.Helper()
	status, err := p.Solver().Solve(context.Background(), nil, solver.Limits{})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if status != solver.StatusFeasible {
		t.Fatalf("Expected a feasible solution, got %s", status)
	}
	out := make(map[string]string)
	for _, name := range []string{"VM1", "VM2", "VM3"} {
		out[name] = p.Nodes()[p.Hoster(name).Value()].Name
	}
	return out
}

func TestInstall_WorstFit(t *testing.T) {
	p := newProblem(t)
	Install(p, DefaultConfig(), nil, zap.NewNop())

	got := firstSolution(t, p)
	want := map[string]string{"VM1": "N1", "VM2": "N2", "VM3": "N3"}
	for vm, node := range want {
		if got[vm] != node {
			t.Errorf("Expected %s on %s, got %s", vm, node, got[vm])
		}
	}
}

func TestInstall_BestFit(t *testing.T) {
	p := newProblem(t)
	cfg := DefaultConfig()
	cfg.Strategy = StrategyBestFit
	Install(p, cfg, nil, zap.NewNop())

	got := firstSolution(t, p)
	if got["VM2"] != "N3" {
		t.Errorf("Expected VM2 on the fullest node N3, got %s", got["VM2"])
	}
	if got["VM1"] != "N1" || got["VM3"] != "N3" {
		t.Errorf("Expected running VMs to stay in place, got %v", got)
	}
}

func TestInstall_CPUDimension(t *testing.T) {
	p := newProblem(t)
	cfg := Config{Strategy: StrategyBestFit, Dimension: DimensionCPU, StayFirst: true}
	Install(p, cfg, [][]string{{"VM1", "VM3"}}, zap.NewNop())

	got := firstSolution(t, p)
	if got["VM2"] != "N3" {
		t.Errorf("Expected VM2 on N3, got %s", got["VM2"])
	}
}

func TestInstall_WorstFit_NoStayFirst(t *testing.T) {
	p := newProblem(t)
	cfg := DefaultConfig()
	cfg.StayFirst = false
	Install(p, cfg, nil, zap.NewNop())

	// VM3 goes first and ties everywhere, so it lands on N1. VM1 then
	// leaves N1 for the first empty node and VM2 takes the other one.
	got := firstSolution(t, p)
	want := map[string]string{"VM1": "N2", "VM2": "N3", "VM3": "N1"}
	for vm, node := range want {
		if got[vm] != node {
			t.Errorf("Expected %s on %s, got %s", vm, node, got[vm])
		}
	}
}

func TestHosterSelector_Score(t *testing.T) {
	p := newProblem(t)
	cpu, mem := p.Packings()
	for vm, node := range map[string]string{"VM1": "N1", "VM3": "N3"} {
		idx, _ := p.NodeIndex(node)
		if err := p.Hoster(vm).InstantiateTo(idx); err != nil {
			t.Fatalf("InstantiateTo failed: %v", err)
		}
	}
	if err := p.Solver().Propagate(); err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}

	sel := &hosterSelector{cfg: Config{Strategy: StrategyWorstFit, Dimension: DimensionCPU}, cpu: cpu, memory: mem, nodes: p.Nodes()}
	for node, want := range map[string]float64{"N1": 3, "N2": 4, "N3": 1} {
		idx, _ := p.NodeIndex(node)
		if got := sel.score(idx); got != want {
			t.Errorf("Expected CPU score %v for %s, got %v", want, node, got)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"best fit on memory", Config{Strategy: StrategyBestFit, Dimension: DimensionMemory}, false},
		{"unknown strategy", Config{Strategy: "first-fit", Dimension: DimensionCPU}, true},
		{"unknown dimension", Config{Strategy: StrategyWorstFit, Dimension: "disk"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}
