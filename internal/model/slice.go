// Package model turns the candidate actions of a reconfiguration into
// scheduling variables, and the solved variables back into actions.
package model

import (
	"fmt"

	"github.com/limiquantix/replanner/internal/solver"
)

// SliceKind tells whether a slice uses resources before or after the
// reconfiguration instant of its action.
type SliceKind int

const (
	// Consuming slices start at 0 and end when the element leaves its node.
	Consuming SliceKind = iota
	// Demanding slices start when the element arrives and end at the horizon.
	Demanding
)

func (k SliceKind) String() string {
	if k == Consuming {
		return "consuming"
	}
	return "demanding"
}

// Slice is an interval [Start, End) during which an element uses CPU and
// Memory units on the node chosen by Hoster.
type Slice struct {
	Name     string
	Kind     SliceKind
	Start    *solver.IntVar
	End      *solver.IntVar
	Duration *solver.IntVar
	Hoster   *solver.IntVar
	CPU      int
	Memory   int

	// node slices reserve a whole node and are not part of the final packing
	node bool
}

func (s *Slice) String() string {
	return fmt.Sprintf("%s(%s, %s, %s, cpu=%d, mem=%d)", s.Name, s.Start, s.End, s.Hoster, s.CPU, s.Memory)
}

func (p *Problem) newConsumingSlice(name string, host, cpu, memory int) *Slice {
	sl := &Slice{
		Name:     name,
		Kind:     Consuming,
		Start:    p.zero,
		End:      p.solver.NewIntVar(name+".end", 0, p.horizon),
		Duration: p.solver.NewIntVar(name+".duration", 0, p.horizon),
		Hoster:   p.solver.NewConstant(name+".hoster", host),
		CPU:      cpu,
		Memory:   memory,
	}
	p.link(sl)
	return sl
}

func (p *Problem) newDemandingSlice(name string, candidates []int, cpu, memory int) *Slice {
	sl := &Slice{
		Name:     name,
		Kind:     Demanding,
		Start:    p.solver.NewIntVar(name+".start", 0, p.horizon),
		End:      p.end,
		Duration: p.solver.NewIntVar(name+".duration", 0, p.horizon),
		Hoster:   p.solver.NewEnumVar(name+".hoster", candidates),
		CPU:      cpu,
		Memory:   memory,
	}
	p.link(sl)
	return sl
}

// link posts end = start + duration and registers the slice.
func (p *Problem) link(sl *Slice) {
	p.solver.Eq([]solver.Term{solver.T(1, sl.End), solver.T(-1, sl.Start), solver.T(-1, sl.Duration)}, 0)
	p.slices = append(p.slices, sl)
}
