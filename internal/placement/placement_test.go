package placement

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/model"
	"github.com/limiquantix/replanner/internal/plan"
	"github.com/limiquantix/replanner/internal/solver"
)

type unitDurations struct{}

func (unitDurations) Evaluate(plan.Kind, domain.ManagedElement) (int, error) { return 1, nil }

// sourceConfiguration runs VM1 and VM2 on N1 and VM3 on N2. N3 is empty.
func sourceConfiguration(t *testing.T) *domain.Configuration {
	t.Helper()
	cfg := domain.NewConfiguration()
	for _, name := range []string{"N1", "N2", "N3"} {
		if err := cfg.AddOnline(domain.NewNode(name, 4, 4)); err != nil {
			t.Fatalf("AddOnline failed: %v", err)
		}
	}
	placements := map[string]string{"VM1": "N1", "VM2": "N1", "VM3": "N2"}
	for _, vm := range []string{"VM1", "VM2", "VM3"} {
		if err := cfg.SetRunOn(domain.NewVirtualMachine(vm, 1, 1, 1), placements[vm]); err != nil {
			t.Fatalf("SetRunOn failed: %v", err)
		}
	}
	return cfg
}

func solveWith(t *testing.T, src *domain.Configuration, constraints ...Constraint) (*domain.Configuration, solver.Status) {
	t.Helper()
	p, err := model.NewProblem(src, model.Request{}, unitDurations{}, model.Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProblem failed: %v", err)
	}
	for _, c := range constraints {
		if err := c.Inject(p); err != nil {
			t.Fatalf("Inject(%s) failed: %v", c.Name(), err)
		}
	}
	status, err := p.Solver().Solve(context.Background(), p.Objective(), solver.Limits{})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if status != solver.StatusOptimal {
		return nil, status
	}
	dst, err := p.Destination()
	if err != nil {
		t.Fatalf("Destination failed: %v", err)
	}
	return dst, status
}

func TestConstraint_Inject(t *testing.T) {
	tests := []struct {
		name       string
		constraint Constraint
		check      func(dst *domain.Configuration) bool
	}{
		{
			name:       "fence",
			constraint: &Fence{VMs: []string{"VM3"}, Nodes: []string{"N3"}},
			check:      func(dst *domain.Configuration) bool { return dst.Location("VM3").Name == "N3" },
		},
		{
			name:       "ban",
			constraint: &Ban{VMs: []string{"VM1"}, Nodes: []string{"N1"}},
			check:      func(dst *domain.Configuration) bool { return dst.Location("VM1").Name != "N1" },
		},
		{
			name:       "spread",
			constraint: &Spread{VMs: []string{"VM1", "VM2"}},
			check: func(dst *domain.Configuration) bool {
				return dst.Location("VM1").Name != dst.Location("VM2").Name
			},
		},
		{
			name:       "gather",
			constraint: &Gather{VMs: []string{"VM1", "VM3"}},
			check: func(dst *domain.Configuration) bool {
				return dst.Location("VM1").Name == dst.Location("VM3").Name
			},
		},
		{
			name:       "lonely",
			constraint: &Lonely{VMs: []string{"VM2"}},
			check:      func(dst *domain.Configuration) bool { return len(dst.Runnings(dst.Location("VM2").Name)) == 1 },
		},
		{
			name:       "capacity",
			constraint: &Capacity{Nodes: []string{"N1"}, Max: 1},
			check:      func(dst *domain.Configuration) bool { return len(dst.Runnings("N1")) <= 1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := sourceConfiguration(t)
			if tt.name != "fence" && tt.name != "ban" && tt.constraint.IsSatisfied(src) {
				t.Fatalf("Expected the source to violate %s", tt.constraint.Name())
			}
			dst, status := solveWith(t, src, tt.constraint)
			if dst == nil {
				t.Fatalf("Expected a solution, got %s", status)
			}
			if !tt.check(dst) {
				t.Errorf("Unexpected destination:\n%s", dst)
			}
			if !tt.constraint.IsSatisfied(dst) {
				t.Errorf("Expected %s to be satisfied by:\n%s", tt.constraint.Name(), dst)
			}
		})
	}
}

func TestRoot_WithSpread(t *testing.T) {
	src := sourceConfiguration(t)
	root := &Root{VMs: []string{"VM1"}}
	dst, status := solveWith(t, src, root, &Spread{VMs: []string{"VM1", "VM2"}})
	if dst == nil {
		t.Fatalf("Expected a solution, got %s", status)
	}
	if dst.Location("VM1").Name != "N1" || dst.Location("VM2").Name == "N1" {
		t.Errorf("Expected VM2 to leave N1, got:\n%s", dst)
	}
	if !root.RootedIn(src, dst) {
		t.Error("Expected VM1 to stay on N1")
	}
}

func TestConstraint_Conflicting(t *testing.T) {
	src := sourceConfiguration(t)
	_, status := solveWith(t, src,
		&Fence{VMs: []string{"VM1"}, Nodes: []string{"N1"}},
		&Ban{VMs: []string{"VM1"}, Nodes: []string{"N1"}},
	)
	if status != solver.StatusInfeasible {
		t.Errorf("Expected %s, got %s", solver.StatusInfeasible, status)
	}
}

func TestConstraint_UnknownNode(t *testing.T) {
	src := sourceConfiguration(t)
	p, err := model.NewProblem(src, model.Request{}, unitDurations{}, model.Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProblem failed: %v", err)
	}
	err = (&Fence{VMs: []string{"VM1"}, Nodes: []string{"N9"}}).Inject(p)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestNewPartitioning(t *testing.T) {
	src := sourceConfiguration(t)
	partitions := []Partition{
		{Name: "rack-a", Nodes: []string{"N1"}},
		{Name: "rack-b", Nodes: []string{"N2", "N3"}},
	}

	pt, err := NewPartitioning(src, partitions, []Constraint{
		&Spread{VMs: []string{"VM2", "VM1"}},
		&Fence{VMs: []string{"VM3"}, Nodes: []string{"N3"}},
	})
	if err != nil {
		t.Fatalf("Partition failed: %v", err)
	}
	want := [][]string{{"VM1", "VM2"}, {"VM3"}}
	if !reflect.DeepEqual(pt.Groups, want) {
		t.Errorf("Expected groups %v, got %v", want, pt.Groups)
	}

	_, err = NewPartitioning(src, partitions, []Constraint{&Gather{VMs: []string{"VM1", "VM3"}}})
	var perr *PartitioningError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected a PartitioningError, got %v", err)
	}
	if !reflect.DeepEqual(perr.Partitions, []string{"rack-a", "rack-b"}) {
		t.Errorf("Unexpected partitions %v", perr.Partitions)
	}
	if !reflect.DeepEqual(perr.Elements, []string{"VM1", "VM3"}) {
		t.Errorf("Unexpected elements %v", perr.Elements)
	}
}

func TestPartitioning_Inject(t *testing.T) {
	src := sourceConfiguration(t)
	pt, err := NewPartitioning(src, []Partition{{Name: "rack-b", Nodes: []string{"N2", "N3"}}}, nil)
	if err != nil {
		t.Fatalf("Partition failed: %v", err)
	}
	p, err := model.NewProblem(src, model.Request{}, unitDurations{}, model.Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProblem failed: %v", err)
	}
	if err := pt.Inject(p); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}
	if err := p.Solver().Propagate(); err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}
	idx, _ := p.NodeIndex("N1")
	if p.Hoster("VM3").Contains(idx) {
		t.Errorf("Expected VM3 to be fenced out of N1, got %s", p.Hoster("VM3"))
	}
}
