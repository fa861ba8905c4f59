// Package solver is a small finite-domain constraint engine: trailed integer
// variables, propagators run to a fixpoint, and a depth-first search with
// pluggable variable and value ordering.
package solver

import (
	"errors"
	"fmt"
)

// ErrContradiction is returned by domain modifiers and propagators when the
// current search node has no solution. It never leaves the search.
var ErrContradiction = errors.New("contradiction")

// Propagator narrows the domains of its variables. Propagate must be
// idempotent and must detect any violation once all its variables are
// instantiated.
type Propagator interface {
	Vars() []*IntVar
	Propagate() error
}

// Solver owns variables, propagators and the search state.
type Solver struct {
	vars  []*IntVar
	props []Propagator

	trail  []trailEntry
	worlds []int

	queue  []int
	queued []bool

	inconsistent bool

	branchings []Branching
	best       []int
	stats      Statistics
}

// New creates an empty solver.
func New() *Solver {
	return &Solver{}
}

// NewIntVar creates a variable with the interval domain [lb, ub].
func (s *Solver) NewIntVar(name string, lb, ub int) *IntVar {
	v := &IntVar{s: s, id: len(s.vars), name: name, lb: lb, ub: ub, size: ub - lb + 1}
	if lb > ub {
		s.inconsistent = true
		v.size = 0
	}
	s.vars = append(s.vars, v)
	return v
}

// NewEnumVar creates a variable whose domain is the given set of values.
func (s *Solver) NewEnumVar(name string, values []int) *IntVar {
	if len(values) == 0 {
		return s.NewIntVar(name, 1, 0)
	}
	lb, ub := values[0], values[0]
	for _, val := range values {
		lb = min(lb, val)
		ub = max(ub, val)
	}
	v := &IntVar{s: s, id: len(s.vars), name: name, lb: lb, ub: ub, offset: lb}
	v.bits = make([]uint64, (ub-lb)/64+1)
	for _, val := range values {
		v.setBit(val)
	}
	v.size = v.count()
	s.vars = append(s.vars, v)
	return v
}

// NewBoolVar creates a 0/1 variable.
func (s *Solver) NewBoolVar(name string) *IntVar {
	return s.NewEnumVar(name, []int{0, 1})
}

// NewConstant creates an instantiated variable.
func (s *Solver) NewConstant(name string, val int) *IntVar {
	return s.NewIntVar(name, val, val)
}

// Vars returns every variable, in creation order.
func (s *Solver) Vars() []*IntVar {
	return s.vars
}

// Post adds a propagator. Propagators must be posted before the search
// starts.
func (s *Solver) Post(p Propagator) {
	idx := len(s.props)
	s.props = append(s.props, p)
	s.queued = append(s.queued, false)
	seen := make(map[int]bool)
	for _, v := range p.Vars() {
		if seen[v.id] {
			continue
		}
		seen[v.id] = true
		v.watchers = append(v.watchers, idx)
	}
	s.enqueue(idx)
}

// Propagate runs every pending propagator until no domain changes.
func (s *Solver) Propagate() error {
	if s.inconsistent {
		return ErrContradiction
	}
	for len(s.queue) > 0 {
		idx := s.queue[0]
		s.queue = s.queue[1:]
		s.queued[idx] = false
		s.stats.Propagations++
		if err := s.props[idx].Propagate(); err != nil {
			s.flush()
			return err
		}
	}
	return nil
}

func (s *Solver) schedule(v *IntVar) {
	for _, idx := range v.watchers {
		s.enqueue(idx)
	}
}

func (s *Solver) enqueue(idx int) {
	if !s.queued[idx] {
		s.queued[idx] = true
		s.queue = append(s.queue, idx)
	}
}

func (s *Solver) flush() {
	for _, idx := range s.queue {
		s.queued[idx] = false
	}
	s.queue = s.queue[:0]
}

// =============================================================================
// WORLDS
// =============================================================================

// WorldIndex returns the current search depth.
func (s *Solver) WorldIndex() int {
	return len(s.worlds)
}

// PushWorld saves the current state of every domain.
func (s *Solver) PushWorld() {
	s.worlds = append(s.worlds, len(s.trail))
}

// PopWorld restores the domains saved by the matching PushWorld.
func (s *Solver) PopWorld() {
	if len(s.worlds) == 0 {
		panic("solver: PopWorld without PushWorld")
	}
	mark := s.worlds[len(s.worlds)-1]
	s.worlds = s.worlds[:len(s.worlds)-1]
	for i := len(s.trail) - 1; i >= mark; i-- {
		s.trail[i].undo()
	}
	s.trail = s.trail[:mark]
	s.flush()
}

func (s *Solver) String() string {
	return fmt.Sprintf("solver(%d vars, %d propagators, world %d)", len(s.vars), len(s.props), len(s.worlds))
}
