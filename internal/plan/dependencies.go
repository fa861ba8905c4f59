package plan

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/limiquantix/replanner/internal/domain"
)

// ErrDependencyCycle is returned when the dependencies of a plan are cyclic,
// which means the schedule is inconsistent.
var ErrDependencyCycle = errors.New("dependency cycle between actions")

// lockGraph maps each managed element to the actions that may have to wait
// for it and to the actions that release it once performed.
type lockGraph struct {
	lockable  map[domain.ElementKey][]int
	unlocking map[domain.ElementKey][]int
}

func newLockGraph() *lockGraph {
	return &lockGraph{
		lockable:  make(map[domain.ElementKey][]int),
		unlocking: make(map[domain.ElementKey][]int),
	}
}

func (g *lockGraph) lock(e domain.ManagedElement, idx int) {
	k := domain.KeyOf(e)
	g.lockable[k] = append(g.lockable[k], idx)
}

func (g *lockGraph) unlock(e domain.ManagedElement, idx int) {
	k := domain.KeyOf(e)
	g.unlocking[k] = append(g.unlocking[k], idx)
}

// insertIntoGraph registers the lock and unlock relations of an action.
func insertIntoGraph(g *lockGraph, idx int, a Action) {
	switch a := a.(type) {
	case *Migration:
		g.lock(a.Dst, idx)
		g.unlock(a.Src, idx)
	case *Run:
		g.lock(a.Host, idx)
		g.lock(a.VM, idx)
		g.unlock(a.VM, idx)
	case *Stop:
		g.unlock(a.Host, idx)
		g.unlock(a.VM, idx)
		if a.Clone != nil {
			g.lock(a.Clone, idx)
		}
	case *Suspend:
		g.unlock(a.Src, idx)
	case *Resume:
		g.lock(a.Dst, idx)
	case *Instantiate:
		g.unlock(a.VM, idx)
	case *Startup:
		g.unlock(a.Node, idx)
	case *Deploy:
		g.unlock(a.Node, idx)
	case *Shutdown:
		g.lock(a.Node, idx)
	case *Retype:
		g.lock(a.Host, idx)
		g.unlock(a.Host, idx)
	case *Rename:
		// the clone must be running and the original must be gone
		g.lock(a.VM, idx)
		g.lock(&domain.VirtualMachine{Name: a.NewName}, idx)
	}
}

// Dependencies is an action with the actions that must be completed before
// it can start.
type Dependencies struct {
	Action      Action
	Unsatisfied []Action
}

func (d Dependencies) String() string {
	if len(d.Unsatisfied) == 0 {
		return d.Action.String()
	}
	deps := make([]string, len(d.Unsatisfied))
	for i, a := range d.Unsatisfied {
		deps[i] = a.String()
	}
	return fmt.Sprintf("%s after {%s}", d.Action, strings.Join(deps, ", "))
}

// Graph is the dependency graph of a plan. Actions are identified by their
// index in the plan; the graph is immutable once built.
type Graph struct {
	actions []Action
	preds   [][]int
	succs   [][]int
}

// BuildGraph computes the dependencies between actions: an action locking an
// element depends on every action unlocking the same element that is
// completed before it starts.
func BuildGraph(actions []Action) (*Graph, error) {
	lg := newLockGraph()
	for i, a := range actions {
		insertIntoGraph(lg, i, a)
	}

	keys := make([]domain.ElementKey, 0, len(lg.lockable))
	for k := range lg.lockable {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})

	g := &Graph{
		actions: actions,
		preds:   make([][]int, len(actions)),
		succs:   make([][]int, len(actions)),
	}
	seen := make(map[[2]int]bool)
	for _, k := range keys {
		for _, i := range lg.lockable[k] {
			for _, j := range lg.unlocking[k] {
				if i == j || seen[[2]int{i, j}] {
					continue
				}
				if actions[i].Start() >= actions[j].End() {
					seen[[2]int{i, j}] = true
					g.preds[i] = append(g.preds[i], j)
					g.succs[j] = append(g.succs[j], i)
				}
			}
		}
	}
	for i := range actions {
		sort.Ints(g.preds[i])
		sort.Ints(g.succs[i])
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) checkAcyclic() error {
	dg := simple.NewDirectedGraph()
	for i := range g.actions {
		dg.AddNode(simple.Node(i))
	}
	for i, preds := range g.preds {
		for _, j := range preds {
			dg.SetEdge(dg.NewEdge(simple.Node(j), simple.Node(i)))
		}
	}
	if _, err := topo.Sort(dg); err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyCycle, err)
	}
	return nil
}

// Len returns the number of actions.
func (g *Graph) Len() int { return len(g.actions) }

// Action returns the action at index i.
func (g *Graph) Action(i int) Action { return g.actions[i] }

// Predecessors returns the indexes of the actions i depends on.
func (g *Graph) Predecessors(i int) []int { return g.preds[i] }

// Successors returns the indexes of the actions depending on i.
func (g *Graph) Successors(i int) []int { return g.succs[i] }

// Dependencies returns the dependencies of every action, in plan order.
func (g *Graph) Dependencies() []Dependencies {
	out := make([]Dependencies, len(g.actions))
	for i, a := range g.actions {
		deps := make([]Action, len(g.preds[i]))
		for k, j := range g.preds[i] {
			deps[k] = g.actions[j]
		}
		out[i] = Dependencies{Action: a, Unsatisfied: deps}
	}
	return out
}

// DependsOn returns true if action i has to wait for action j.
func (g *Graph) DependsOn(i, j int) bool {
	for _, p := range g.preds[i] {
		if p == j {
			return true
		}
	}
	return false
}

// Event is a group of actions sharing the same dependencies.
type Event struct {
	After   []Action
	Actions []Action
}

// Agenda groups the actions by identical dependency sets, in order of first
// appearance in the plan.
func (g *Graph) Agenda() []Event {
	var events []Event
	index := make(map[string]int)
	for i, a := range g.actions {
		key := fmt.Sprint(g.preds[i])
		pos, ok := index[key]
		if !ok {
			after := make([]Action, len(g.preds[i]))
			for k, j := range g.preds[i] {
				after[k] = g.actions[j]
			}
			pos = len(events)
			index[key] = pos
			events = append(events, Event{After: after})
		}
		events[pos].Actions = append(events[pos].Actions, a)
	}
	return events
}

// FormatAgenda prints an agenda, one event per line.
func FormatAgenda(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		after := make([]string, len(ev.After))
		for i, a := range ev.After {
			after[i] = a.String()
		}
		actions := make([]string, len(ev.Actions))
		for i, a := range ev.Actions {
			actions[i] = a.String()
		}
		if len(after) == 0 {
			fmt.Fprintf(&b, "{} -> %s\n", strings.Join(actions, " & "))
			continue
		}
		fmt.Fprintf(&b, "{%s} -> %s\n", strings.Join(after, ", "), strings.Join(actions, " & "))
	}
	return b.String()
}

// Graph builds the dependency graph of the plan.
func (p *TimedReconfigurationPlan) Graph() (*Graph, error) {
	return BuildGraph(p.actions)
}
