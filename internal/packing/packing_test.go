package packing

import (
	"math/rand"
	"testing"

	"github.com/limiquantix/replanner/internal/solver"
)

type packingInstance struct {
	capacities []int
	heights    []int
	domains    [][]int
}

func randomInstance(rng *rand.Rand) packingInstance {
	nbBins := 2 + rng.Intn(2)
	nbItems := 2 + rng.Intn(3)
	inst := packingInstance{}
	for b := 0; b < nbBins; b++ {
		inst.capacities = append(inst.capacities, 1+rng.Intn(6))
	}
	for i := 0; i < nbItems; i++ {
		inst.heights = append(inst.heights, rng.Intn(5))
		var dom []int
		for b := 0; b < nbBins; b++ {
			if rng.Intn(4) != 0 {
				dom = append(dom, b)
			}
		}
		if len(dom) == 0 {
			dom = []int{rng.Intn(nbBins)}
		}
		inst.domains = append(inst.domains, dom)
	}
	return inst
}

// feasibleAssignments enumerates every assignment of the items that fits
// into the bins.
func (inst packingInstance) feasibleAssignments() [][]int {
	var out [][]int
	assign := make([]int, len(inst.heights))
	var rec func(i int)
	rec = func(i int) {
		if i == len(assign) {
			loads := make([]int, len(inst.capacities))
			for j, b := range assign {
				loads[b] += inst.heights[j]
			}
			for b, l := range loads {
				if l > inst.capacities[b] {
					return
				}
			}
			out = append(out, append([]int(nil), assign...))
			return
		}
		for _, b := range inst.domains[i] {
			assign[i] = b
			rec(i + 1)
		}
	}
	rec(0)
	return out
}

func (inst packingInstance) post() (*solver.Solver, *BinPacking, []*solver.IntVar) {
	s := solver.New()
	loads := make([]*solver.IntVar, len(inst.capacities))
	for b, c := range inst.capacities {
		loads[b] = s.NewIntVar("load", 0, c)
	}
	bins := make([]*solver.IntVar, len(inst.heights))
	items := make([]Item, len(inst.heights))
	for i, h := range inst.heights {
		bins[i] = s.NewEnumVar("bin", inst.domains[i])
		items[i] = Item{Height: h, Bin: bins[i]}
	}
	bp := NewBinPacking("cpu", loads, items)
	s.Post(bp)
	return s, bp, bins
}

func TestBinPacking_Soundness_Random(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 500; round++ {
		inst := randomInstance(rng)
		feasible := inst.feasibleAssignments()
		s, bp, bins := inst.post()

		// narrow a few domains, as the search would
		for step := 0; step < 1+rng.Intn(2); step++ {
			s.PushWorld()
			err := s.Propagate()
			if err != nil {
				if len(feasible) > 0 {
					t.Fatalf("Round %d: propagation failed on a feasible instance %+v", round, inst)
				}
				break
			}
			checkNoFeasibleValuePruned(t, round, bins, feasible)
			checkCapacityPruning(t, round, inst, bp, bins)

			i := rng.Intn(len(bins))
			if bins[i].IsInstantiated() {
				continue
			}
			vals := bins[i].Values()
			b := vals[rng.Intn(len(vals))]
			if err := bins[i].InstantiateTo(b); err != nil {
				t.Fatalf("Round %d: InstantiateTo failed: %v", round, err)
			}
			feasible = filterAssignments(feasible, i, b)
		}
	}
}

func filterAssignments(assignments [][]int, item, bin int) [][]int {
	var out [][]int
	for _, a := range assignments {
		if a[item] == bin {
			out = append(out, a)
		}
	}
	return out
}

func checkNoFeasibleValuePruned(t *testing.T, round int, bins []*solver.IntVar, feasible [][]int) {
	t.Helper()
	for _, a := range feasible {
		for i, b := range a {
			if !bins[i].Contains(b) {
				t.Fatalf("Round %d: value %d of item %d was pruned but belongs to a solution %v", round, b, i, a)
			}
		}
	}
}

func checkCapacityPruning(t *testing.T, round int, inst packingInstance, bp *BinPacking, bins []*solver.IntVar) {
	t.Helper()
	for i, v := range bins {
		if v.IsInstantiated() || inst.heights[i] == 0 {
			continue
		}
		for _, b := range v.Values() {
			if bp.RequiredLoad(b)+inst.heights[i] > inst.capacities[b] {
				t.Fatalf("Round %d: item %d kept bin %d that cannot hold it", round, i, b)
			}
		}
	}
}

func TestBinPacking_FullAssignment(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 300; round++ {
		inst := randomInstance(rng)
		for i := range inst.domains {
			inst.domains[i] = []int{inst.domains[i][rng.Intn(len(inst.domains[i]))]}
		}
		want := len(inst.feasibleAssignments()) == 1
		s, _, _ := inst.post()
		got := s.Propagate() == nil
		if got != want {
			t.Fatalf("Round %d: expected consistent=%v, got %v for %+v", round, want, got, inst)
		}
	}
}

func TestBinPacking_RemainingSpace(t *testing.T) {
	s := solver.New()
	loads := []*solver.IntVar{s.NewIntVar("l0", 0, 4), s.NewIntVar("l1", 0, 6)}
	a := s.NewEnumVar("a", []int{0})
	b := s.NewEnumVar("b", []int{0, 1})
	c := s.NewEnumVar("c", []int{0, 1})
	bp := NewBinPacking("cpu", loads, []Item{{Height: 3, Bin: a}, {Height: 2, Bin: b}, {Height: 0, Bin: c}})
	s.Post(bp)

	if err := s.Propagate(); err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}
	if len(bp.Items()) != 2 {
		t.Errorf("Expected the empty item to be dropped, got %d items", len(bp.Items()))
	}
	if !b.IsInstantiated() || b.Value() != 1 {
		t.Errorf("Expected b packed in bin 1, got %s", b)
	}
	if got := bp.RemainingSpace(0); got != 1 {
		t.Errorf("Expected remaining space 1 in bin 0, got %d", got)
	}
	if got := loads[1].Upper(); got != 2 {
		t.Errorf("Expected the load of bin 1 bounded by its items, got %d", got)
	}
	if got := bp.RemainingSpace(1); got != 4 {
		t.Errorf("Expected remaining space 4 in bin 1, got %d", got)
	}
	if got := bp.Capacity(1); got != 6 {
		t.Errorf("Expected capacity 6 for bin 1, got %d", got)
	}
}

func TestSliceScheduling_FilterStart(t *testing.T) {
	s := solver.New()
	const horizon = 10
	host := s.NewConstant("host", 0)
	zero := s.NewConstant("zero", 0)
	end := s.NewConstant("H", horizon)

	cEnd := s.NewIntVar("cEnd", 3, horizon)
	dStart := s.NewIntVar("dStart", 0, horizon)

	ss := NewSliceScheduling("cpu", []int{2}, horizon, []Task{
		{Start: zero, End: cEnd, Height: 2, Host: host},
		{Start: dStart, End: end, Height: 1, Host: host},
	})
	s.Post(ss)
	if err := s.Propagate(); err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}
	if dStart.Lower() != 3 {
		t.Errorf("Expected dStart >= 3, got %s", dStart)
	}

	if err := dStart.InstantiateTo(5); err != nil {
		t.Fatalf("InstantiateTo failed: %v", err)
	}
	if err := s.Propagate(); err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}
	if cEnd.Upper() != 5 {
		t.Errorf("Expected cEnd <= 5, got %s", cEnd)
	}
	if got := ss.Usage(0, 2); got != 2 {
		t.Errorf("Expected usage 2 at t=2, got %d", got)
	}
	if got := ss.Usage(0, 6); got != 1 {
		t.Errorf("Expected usage 1 at t=6, got %d", got)
	}
}

func TestSliceScheduling_FilterHosts(t *testing.T) {
	s := solver.New()
	const horizon = 8
	zero := s.NewConstant("zero", 0)
	end := s.NewConstant("H", horizon)
	n0 := s.NewConstant("n0", 0)

	// bin 0 is busy until 6
	busy := s.NewIntVar("busyEnd", 6, 6)
	host := s.NewEnumVar("host", []int{0, 1})
	start := s.NewIntVar("start", 0, 4)

	ss := NewSliceScheduling("mem", []int{4, 4}, horizon, []Task{
		{Start: zero, End: busy, Height: 4, Host: n0},
		{Start: start, End: end, Height: 2, Host: host},
	})
	s.Post(ss)
	if err := s.Propagate(); err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}
	if !host.IsInstantiated() || host.Value() != 1 {
		t.Errorf("Expected host=1, got %s", host)
	}
}

func TestSliceScheduling_Overload(t *testing.T) {
	s := solver.New()
	zero := s.NewConstant("zero", 0)
	n0 := s.NewConstant("n0", 0)
	s.Post(NewSliceScheduling("cpu", []int{3}, 5, []Task{
		{Start: zero, End: s.NewConstant("e1", 4), Height: 2, Host: n0},
		{Start: zero, End: s.NewConstant("e2", 2), Height: 2, Host: n0},
	}))
	if err := s.Propagate(); err == nil {
		t.Error("Expected an overload to be detected")
	}
}
