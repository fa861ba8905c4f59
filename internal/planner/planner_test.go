package planner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/duration"
	"github.com/limiquantix/replanner/internal/placement"
	"github.com/limiquantix/replanner/internal/plan"
)

func testDurations(t *testing.T) *duration.Evaluator {
	t.Helper()
	ev, err := duration.NewEvaluator(map[string]duration.Function{
		"migration":     {Base: 3},
		"run":           {Base: 1},
		"stop":          {Base: 1},
		"suspend":       {Base: 2},
		"resume":        {Base: 2},
		"remote_resume": {Base: 5},
		"instantiate":   {Base: 1},
		"startup":       {Base: 4},
		"shutdown":      {Base: 2},
		"retype":        {Base: 1},
		"rename":        {Base: 1},
	})
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}
	return ev
}

// MockRecorder records the planning outcomes.
type MockRecorder struct {
	outcomes []string
}

func (m *MockRecorder) ObservePlanning(outcome string, _ time.Duration, _, _, _ int) {
	m.outcomes = append(m.outcomes, outcome)
}

func newPlanner(t *testing.T, cfg Config) (*Planner, *MockRecorder) {
	t.Helper()
	rec := &MockRecorder{}
	return New(cfg, testDurations(t), rec, zap.NewNop()), rec
}

func addNode(t *testing.T, cfg *domain.Configuration, name string, cpu, mem int, online bool) *domain.Node {
	t.Helper()
	n := domain.NewNode(name, cpu, mem)
	add := cfg.AddOffline
	if online {
		add = cfg.AddOnline
	}
	if err := add(n); err != nil {
		t.Fatalf("Failed to add %s: %v", name, err)
	}
	return n
}

func runOn(t *testing.T, cfg *domain.Configuration, vm *domain.VirtualMachine, node string) *domain.VirtualMachine {
	t.Helper()
	if err := cfg.SetRunOn(vm, node); err != nil {
		t.Fatalf("SetRunOn failed: %v", err)
	}
	return vm
}

func indexOf(t *testing.T, rp *plan.TimedReconfigurationPlan, desc string) int {
	t.Helper()
	for i, a := range rp.Actions() {
		if a.String() == desc {
			return i
		}
	}
	t.Fatalf("Expected %s in the plan:\n%s", desc, rp)
	return -1
}

// =============================================================================
// Scenarios
// =============================================================================

func TestPlanner_Compute_SimpleMigration(t *testing.T) {
	src := domain.NewConfiguration()
	n1 := addNode(t, src, "N1", 1, 1, true)
	addNode(t, src, "N2", 1, 1, true)
	vm1 := runOn(t, src, domain.NewVirtualMachine("VM1", 1, 1, 1), "N1")

	pl, rec := newPlanner(t, DefaultConfig())
	rp, err := pl.Compute(context.Background(), src, Request{
		Running: []*domain.VirtualMachine{vm1},
		Offline: []*domain.Node{n1},
	}, nil)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	want := "0:3 migrate(VM1,N1,N2)\n3:5 shutdown(N1)\n"
	if rp.String() != want {
		t.Errorf("Expected %q, got %q", want, rp.String())
	}
	g, err := rp.Graph()
	if err != nil {
		t.Fatalf("Graph failed: %v", err)
	}
	shutdown, migration := indexOf(t, rp, "shutdown(N1)"), indexOf(t, rp, "migrate(VM1,N1,N2)")
	if !g.DependsOn(shutdown, migration) {
		t.Errorf("Expected the shutdown to depend on the migration:\n%s", plan.FormatAgenda(g.Agenda()))
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != "success" {
		t.Errorf("Expected one successful outcome, got %v", rec.outcomes)
	}
}

func TestPlanner_Compute_CapacityForcedBoot(t *testing.T) {
	src := domain.NewConfiguration()
	addNode(t, src, "N1", 1, 1, true)
	addNode(t, src, "N2", 2, 2, false)
	runOn(t, src, domain.NewVirtualMachine("VM1", 1, 1, 1), "N1")
	vm2 := domain.NewVirtualMachine("VM2", 1, 1, 1)

	pl, _ := newPlanner(t, DefaultConfig())
	rp, err := pl.Compute(context.Background(), src, Request{Running: []*domain.VirtualMachine{vm2}}, nil)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	startup := rp.Actions()[indexOf(t, rp, "startup(N2)")]
	run := rp.Actions()[indexOf(t, rp, "run(VM2,N2)")]
	if startup.End() > run.Start() {
		t.Errorf("Expected the startup to complete before the run:\n%s", rp)
	}
	if rp.Destination.Location("VM2").Name != "N2" {
		t.Errorf("Expected VM2 on N2, got:\n%s", rp.Destination)
	}
}

func TestPlanner_Compute_ReInstantiation(t *testing.T) {
	src := domain.NewConfiguration()
	addNode(t, src, "N1", 2, 4, true)
	addNode(t, src, "N2", 2, 4, true)
	vm1 := domain.NewVirtualMachine("VM1", 1, 1, 1)
	vm1.Template = "debian"
	vm1.CPUDemand = 2
	runOn(t, src, vm1, "N1")
	vm2 := domain.NewVirtualMachine("VM2", 1, 1, 1)
	vm2.SetOption(domain.OptionMigratable, "false")
	runOn(t, src, vm2, "N1")

	pl, _ := newPlanner(t, DefaultConfig())
	rp, err := pl.Compute(context.Background(), src, Request{}, nil)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	kinds := make([]plan.Kind, 0, rp.Size())
	for _, a := range rp.Actions() {
		kinds = append(kinds, a.Kind())
	}
	want := []plan.Kind{plan.KindInstantiate, plan.KindRun, plan.KindStop, plan.KindRename}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("Expected %v, got:\n%s", want, rp)
	}
	if rp.Duration() != rp.Actions()[3].End() {
		t.Errorf("Expected the rename to complete the plan, got:\n%s", rp)
	}
	g, err := rp.Graph()
	if err != nil {
		t.Fatalf("Graph failed: %v", err)
	}
	for i := 1; i < len(want); i++ {
		if !g.DependsOn(i, i-1) {
			t.Errorf("Expected %s to wait for %s:\n%s", rp.Actions()[i], rp.Actions()[i-1], plan.FormatAgenda(g.Agenda()))
		}
	}
}

func TestPlanner_Compute_Infeasible(t *testing.T) {
	src := domain.NewConfiguration()
	addNode(t, src, "N1", 2, 2, true)
	addNode(t, src, "N2", 2, 2, true)
	vm1 := domain.NewVirtualMachine("VM1", 1, 5, 1)
	vm2 := domain.NewVirtualMachine("VM2", 1, 5, 1)

	pl, rec := newPlanner(t, DefaultConfig())
	rp, err := pl.Compute(context.Background(), src, Request{Running: []*domain.VirtualMachine{vm1, vm2}}, nil)
	if rp != nil {
		t.Fatalf("Expected no plan, got:\n%s", rp)
	}
	if !errors.Is(err, ErrInfeasible) {
		t.Fatalf("Expected ErrInfeasible, got %v", err)
	}
	var perr *PlanError
	if !errors.As(err, &perr) || perr.Reason != ReasonInfeasible {
		t.Errorf("Expected a PlanError with reason %s, got %v", ReasonInfeasible, err)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != string(ReasonInfeasible) {
		t.Errorf("Expected one infeasible outcome, got %v", rec.outcomes)
	}
}

// =============================================================================
// Errors
// =============================================================================

func TestPlanner_Compute_InvalidRequest(t *testing.T) {
	src := domain.NewConfiguration()
	addNode(t, src, "N1", 2, 2, true)
	vm1 := runOn(t, src, domain.NewVirtualMachine("VM1", 1, 1, 1), "N1")

	pl, _ := newPlanner(t, DefaultConfig())
	_, err := pl.Compute(context.Background(), src, Request{
		Running:    []*domain.VirtualMachine{vm1},
		Terminated: []*domain.VirtualMachine{vm1},
	}, nil)
	var perr *PlanError
	if !errors.As(err, &perr) || perr.Reason != ReasonInvalidRequest {
		t.Errorf("Expected an invalid request, got %v", err)
	}
}

func TestPlanner_Compute_PartitioningConflict(t *testing.T) {
	src := domain.NewConfiguration()
	addNode(t, src, "N1", 2, 2, true)
	addNode(t, src, "N2", 2, 2, true)
	runOn(t, src, domain.NewVirtualMachine("VM1", 1, 1, 1), "N1")
	runOn(t, src, domain.NewVirtualMachine("VM2", 1, 1, 1), "N2")

	cfg := DefaultConfig()
	cfg.Partitions = []placement.Partition{
		{Name: "a", Nodes: []string{"N1"}},
		{Name: "b", Nodes: []string{"N2"}},
	}
	pl, _ := newPlanner(t, cfg)
	_, err := pl.Compute(context.Background(), src, Request{}, []placement.Constraint{
		&placement.Gather{VMs: []string{"VM1", "VM2"}},
	})
	var partErr *placement.PartitioningError
	if !errors.As(err, &partErr) {
		t.Fatalf("Expected a PartitioningError, got %v", err)
	}
	if partErr.Constraint != "gather({VM1, VM2})" {
		t.Errorf("Unexpected constraint %q", partErr.Constraint)
	}
}

func TestPlanner_Compute_Constraints(t *testing.T) {
	src := domain.NewConfiguration()
	addNode(t, src, "N1", 2, 2, true)
	addNode(t, src, "N2", 2, 2, true)
	runOn(t, src, domain.NewVirtualMachine("VM1", 1, 1, 1), "N1")
	runOn(t, src, domain.NewVirtualMachine("VM2", 1, 1, 1), "N1")

	spread := &placement.Spread{VMs: []string{"VM1", "VM2"}}
	root := &placement.Root{VMs: []string{"VM2"}}
	pl, _ := newPlanner(t, DefaultConfig())
	rp, err := pl.Compute(context.Background(), src, Request{}, []placement.Constraint{spread, root})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	want := "0:3 migrate(VM1,N1,N2)\n"
	if rp.String() != want {
		t.Errorf("Expected %q, got %q", want, rp.String())
	}
}

func TestPlanner_Compute_WaitingTerminated(t *testing.T) {
	src := domain.NewConfiguration()
	addNode(t, src, "N1", 2, 2, true)
	vm1 := domain.NewVirtualMachine("VM1", 1, 1, 1)
	if err := src.AddWaiting(vm1); err != nil {
		t.Fatalf("AddWaiting failed: %v", err)
	}

	pl, _ := newPlanner(t, DefaultConfig())
	rp, err := pl.Compute(context.Background(), src, Request{Terminated: []*domain.VirtualMachine{vm1}}, nil)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if rp.Size() != 0 || rp.Destination.Contains("VM1") {
		t.Errorf("Expected an empty plan forgetting VM1, got:\n%s\n%s", rp, rp.Destination)
	}
}

// =============================================================================
// Properties
// =============================================================================

// TestPlanner_Compute_CapacityInvariant checks on random clusters that every
// computed plan reaches a configuration where no node is overloaded, and
// that every failure is typed.
func TestPlanner_Compute_CapacityInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cfg := DefaultConfig()
	cfg.Optimize = false
	cfg.TimeLimit = 2 * time.Second
	cfg.MaxBacktracks = 2000
	pl, _ := newPlanner(t, cfg)

	for round := 0; round < 40; round++ {
		src := domain.NewConfiguration()
		nbNodes := 2 + rng.Intn(3)
		for i := 0; i < nbNodes; i++ {
			addNode(t, src, fmt.Sprintf("N%d", i), 2+rng.Intn(4), 2+rng.Intn(4), rng.Intn(4) > 0)
		}
		var req Request
		nbVMs := rng.Intn(6)
		for i := 0; i < nbVMs; i++ {
			vm := domain.NewVirtualMachine(fmt.Sprintf("VM%d", i), 1, 1+rng.Intn(2), 1+rng.Intn(2))
			node := src.AllNodes()[rng.Intn(nbNodes)].Name
			cpu, mem := src.Load(node)
			n := src.Node(node)
			if src.IsOnline(node) && cpu+vm.CPUDemand <= n.CPUCapacity && mem+vm.MemoryDemand <= n.MemoryCapacity {
				runOn(t, src, vm, node)
				vm.CPUDemand += rng.Intn(2)
				continue
			}
			req.Running = append(req.Running, vm)
		}

		rp, err := pl.Compute(context.Background(), src, req, nil)
		if err != nil {
			var perr *PlanError
			if !errors.As(err, &perr) || (perr.Reason != ReasonInfeasible && perr.Reason != ReasonLimitReached) {
				t.Fatalf("round %d: unexpected error %v on:\n%s", round, err, src)
			}
			continue
		}
		for _, n := range rp.Destination.AllNodes() {
			cpu, mem := rp.Destination.Load(n.Name)
			if cpu > n.CPUCapacity || mem > n.MemoryCapacity {
				t.Fatalf("round %d: %s overloaded (%d/%d cpu, %d/%d mem) by:\n%s", round, n.Name, cpu, n.CPUCapacity, mem, n.MemoryCapacity, rp)
			}
		}
		for _, vm := range req.Running {
			if !rp.Destination.IsRunning(vm.Name) {
				t.Fatalf("round %d: expected %s running in:\n%s", round, vm.Name, rp.Destination)
			}
		}

		g, err := rp.Graph()
		if err != nil {
			t.Fatalf("round %d: Graph failed: %v on:\n%s", round, err, rp)
		}
		dg := simple.NewDirectedGraph()
		for i := 0; i < g.Len(); i++ {
			dg.AddNode(simple.Node(i))
		}
		for i := 0; i < g.Len(); i++ {
			for _, j := range g.Predecessors(i) {
				if g.Action(j).End() > g.Action(i).Start() {
					t.Fatalf("round %d: %s depends on %s which ends later", round, g.Action(i), g.Action(j))
				}
				dg.SetEdge(dg.NewEdge(simple.Node(j), simple.Node(i)))
			}
		}
		if _, err := topo.Sort(dg); err != nil {
			t.Fatalf("round %d: cyclic dependencies %v in:\n%s", round, err, rp)
		}
	}
}
