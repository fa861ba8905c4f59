package packing

import (
	"fmt"
	"sort"

	"github.com/limiquantix/replanner/internal/solver"
)

// Task is a slice of time [Start, End) during which Height units of a
// resource are used on the bin chosen by Host.
type Task struct {
	Start  *solver.IntVar
	End    *solver.IntVar
	Height int
	Host   *solver.IntVar
}

type segment struct {
	from, to int
	height   int
}

// SliceScheduling ensures that, at every instant, the tasks running on a bin
// never use more than its capacity.
//
// Filtering relies on the compulsory part [ub(Start), lb(End)) of each task
// whose host is known. Tasks starting at 0 get their end filtered, tasks
// ending at the horizon get their start filtered, and candidate hosts that
// cannot accept the compulsory part of a task are removed.
type SliceScheduling struct {
	name       string
	capacities []int
	horizon    int
	tasks      []Task

	profiles [][]segment
}

// NewSliceScheduling builds the constraint. Tasks of height 0 are dropped.
func NewSliceScheduling(name string, capacities []int, horizon int, tasks []Task) *SliceScheduling {
	kept := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Height > 0 {
			kept = append(kept, t)
		}
	}
	return &SliceScheduling{
		name:       name,
		capacities: capacities,
		horizon:    horizon,
		tasks:      kept,
		profiles:   make([][]segment, len(capacities)),
	}
}

// Vars implements solver.Propagator.
func (ss *SliceScheduling) Vars() []*solver.IntVar {
	out := make([]*solver.IntVar, 0, 3*len(ss.tasks))
	for _, t := range ss.tasks {
		out = append(out, t.Start, t.End, t.Host)
	}
	return out
}

// Propagate implements solver.Propagator.
func (ss *SliceScheduling) Propagate() error {
	ss.buildProfiles()
	for b, profile := range ss.profiles {
		for _, seg := range profile {
			if seg.height > ss.capacities[b] {
				return solver.ErrContradiction
			}
		}
	}

	for _, t := range ss.tasks {
		if !t.Host.IsInstantiated() {
			if err := ss.filterHosts(t); err != nil {
				return err
			}
			continue
		}
		b := t.Host.Value()
		if b < 0 || b >= len(ss.capacities) {
			return solver.ErrContradiction
		}
		if err := ss.filterEnd(t, b); err != nil {
			return err
		}
		if err := ss.filterStart(t, b); err != nil {
			return err
		}
	}
	return nil
}

// filterEnd bounds the end of a task starting at 0: it cannot span the
// first overloaded instant after its compulsory part.
func (ss *SliceScheduling) filterEnd(t Task, b int) error {
	if !t.Start.IsInstantiated() || t.Start.Value() != 0 {
		return nil
	}
	from := t.End.Lower()
	for _, seg := range ss.profiles[b] {
		if seg.to <= from || seg.height+t.Height <= ss.capacities[b] {
			continue
		}
		return t.End.UpdateUpper(max(seg.from, from))
	}
	return nil
}

// filterStart bounds the start of a task ending at the horizon: it cannot
// span the last overloaded instant before its compulsory part.
func (ss *SliceScheduling) filterStart(t Task, b int) error {
	if !t.End.IsInstantiated() || t.End.Value() != ss.horizon {
		return nil
	}
	until := t.Start.Upper()
	last := -1
	for _, seg := range ss.profiles[b] {
		if seg.from >= until || seg.height+t.Height <= ss.capacities[b] {
			continue
		}
		last = max(last, min(seg.to, until)-1)
	}
	if last < 0 {
		return nil
	}
	return t.Start.UpdateLower(last + 1)
}

// filterHosts removes the candidate hosts that cannot accept the compulsory
// part of an unplaced task.
func (ss *SliceScheduling) filterHosts(t Task) error {
	from, to := t.Start.Upper(), t.End.Lower()
	if from >= to {
		return nil
	}
	for _, b := range t.Host.Values() {
		if b < 0 || b >= len(ss.capacities) {
			if err := t.Host.RemoveValue(b); err != nil {
				return err
			}
			continue
		}
		if ss.peak(b, from, to)+t.Height > ss.capacities[b] {
			if err := t.Host.RemoveValue(b); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ss *SliceScheduling) peak(b, from, to int) int {
	best := 0
	for _, seg := range ss.profiles[b] {
		if seg.to <= from || seg.from >= to {
			continue
		}
		best = max(best, seg.height)
	}
	return best
}

type event struct {
	at    int
	delta int
}

func (ss *SliceScheduling) buildProfiles() {
	events := make([][]event, len(ss.capacities))
	for _, t := range ss.tasks {
		if !t.Host.IsInstantiated() {
			continue
		}
		b := t.Host.Value()
		if b < 0 || b >= len(ss.capacities) {
			continue
		}
		from, to := t.Start.Upper(), t.End.Lower()
		if from >= to {
			continue
		}
		events[b] = append(events[b], event{at: from, delta: t.Height}, event{at: to, delta: -t.Height})
	}
	for b, evs := range events {
		sort.Slice(evs, func(i, j int) bool { return evs[i].at < evs[j].at })
		profile := ss.profiles[b][:0]
		height := 0
		for i := 0; i < len(evs); {
			at := evs[i].at
			for i < len(evs) && evs[i].at == at {
				height += evs[i].delta
				i++
			}
			if i < len(evs) && height > 0 {
				profile = append(profile, segment{from: at, to: evs[i].at, height: height})
			}
		}
		ss.profiles[b] = profile
	}
}

// Usage returns the compulsory usage of bin b at instant t.
func (ss *SliceScheduling) Usage(b, t int) int {
	ss.buildProfiles()
	for _, seg := range ss.profiles[b] {
		if seg.from <= t && t < seg.to {
			return seg.height
		}
	}
	return 0
}

func (ss *SliceScheduling) String() string {
	return fmt.Sprintf("sliceScheduling(%s, %d tasks, horizon %d)", ss.name, len(ss.tasks), ss.horizon)
}
