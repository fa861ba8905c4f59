package solver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errLimitReached = errors.New("search limit reached")

// VarSelector picks the next variable to branch on, or nil when every
// variable of the group is instantiated.
type VarSelector interface {
	SelectVar(vars []*IntVar) *IntVar
}

// ValSelector picks the value tried first for a variable.
type ValSelector interface {
	SelectValue(v *IntVar) int
}

// Branching is a group of decision variables with their ordering.
// Groups are explored in the order they were added.
type Branching struct {
	Name        string
	Vars        []*IntVar
	VarSelector VarSelector
	ValSelector ValSelector
}

// AddBranching appends a group of decision variables. Variables not covered
// by any group are instantiated last, to their lower bound.
func (s *Solver) AddBranching(b Branching) {
	if b.VarSelector == nil {
		b.VarSelector = InputOrder{}
	}
	if b.ValSelector == nil {
		b.ValSelector = MinValue{}
	}
	s.branchings = append(s.branchings, b)
}

// Status is the outcome of a search.
type Status int

const (
	// StatusUnknown means the limits were reached before any solution.
	StatusUnknown Status = iota
	// StatusFeasible means a solution was found but not proven optimal.
	StatusFeasible
	// StatusOptimal means the best solution was proven optimal.
	StatusOptimal
	// StatusInfeasible means the problem has no solution.
	StatusInfeasible
)

func (st Status) String() string {
	switch st {
	case StatusFeasible:
		return "feasible"
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	default:
		return "unknown"
	}
}

// Limits bounds a search. Zero values mean no limit.
type Limits struct {
	TimeLimit     time.Duration
	MaxBacktracks int
}

// Statistics describes the last search.
type Statistics struct {
	Nodes        int
	Backtracks   int
	Solutions    int
	Propagations int
	Objective    int
	Elapsed      time.Duration
}

// Stats returns the statistics of the last search.
func (s *Solver) Stats() Statistics {
	return s.stats
}

type searchState struct {
	ctx      context.Context
	deadline time.Time
	limits   Limits
}

// Solve searches for a solution. When objective is not nil, it keeps
// searching for solutions with a strictly lower objective until the search
// space is exhausted or a limit is reached.
//
// When a solution exists, the solver is left on the best one: every
// variable is instantiated and can be read with Value.
func (s *Solver) Solve(ctx context.Context, objective *IntVar, limits Limits) (Status, error) {
	started := time.Now()
	s.stats = Statistics{}
	s.best = nil
	defer func() { s.stats.Elapsed = time.Since(started) }()

	st := &searchState{ctx: ctx, limits: limits}
	if limits.TimeLimit > 0 {
		st.deadline = started.Add(limits.TimeLimit)
	}

	if err := s.Propagate(); err != nil {
		return StatusInfeasible, nil
	}

	status := StatusUnknown
	for {
		s.PushWorld()
		err := error(nil)
		if s.best != nil && objective != nil {
			err = objective.UpdateUpper(s.best[objective.id] - 1)
			if err == nil {
				err = s.Propagate()
			}
		}
		found := false
		if err == nil {
			found, err = s.dfs(st)
		}
		s.PopWorld()

		if errors.Is(err, errLimitReached) {
			if s.best != nil {
				status = StatusFeasible
			}
			break
		}
		if !found {
			if s.best != nil {
				status = StatusOptimal
			} else {
				status = StatusInfeasible
			}
			break
		}
		if objective == nil {
			status = StatusFeasible
			break
		}
	}

	if s.best == nil {
		return status, nil
	}
	if objective != nil {
		s.stats.Objective = s.best[objective.id]
	}
	if err := s.restoreBest(); err != nil {
		return status, err
	}
	return status, nil
}

func (s *Solver) dfs(st *searchState) (bool, error) {
	if err := s.checkLimits(st); err != nil {
		return false, err
	}
	v, val := s.nextDecision()
	if v == nil {
		s.recordSolution()
		return true, nil
	}
	s.stats.Nodes++

	split := !v.IsEnumerated() && val != v.Lower() && val != v.Upper()

	s.PushWorld()
	var err error
	if split {
		err = v.UpdateUpper(val)
	} else {
		err = v.InstantiateTo(val)
	}
	if err == nil {
		err = s.Propagate()
	}
	if err == nil {
		found, serr := s.dfs(st)
		if found || serr != nil {
			s.PopWorld()
			return found, serr
		}
	}
	s.PopWorld()
	s.stats.Backtracks++

	s.PushWorld()
	defer s.PopWorld()
	if split {
		err = v.UpdateLower(val + 1)
	} else {
		err = v.RemoveValue(val)
	}
	if err == nil {
		err = s.Propagate()
	}
	if err != nil {
		return false, nil
	}
	return s.dfs(st)
}

func (s *Solver) checkLimits(st *searchState) error {
	if st.limits.MaxBacktracks > 0 && s.stats.Backtracks >= st.limits.MaxBacktracks {
		return errLimitReached
	}
	if s.stats.Nodes%64 != 0 {
		return nil
	}
	if st.ctx != nil && st.ctx.Err() != nil {
		return errLimitReached
	}
	if !st.deadline.IsZero() && time.Now().After(st.deadline) {
		return errLimitReached
	}
	return nil
}

func (s *Solver) nextDecision() (*IntVar, int) {
	for _, b := range s.branchings {
		v := b.VarSelector.SelectVar(b.Vars)
		if v == nil {
			continue
		}
		val := b.ValSelector.SelectValue(v)
		if !v.Contains(val) {
			val = v.Lower()
		}
		return v, val
	}
	for _, v := range s.vars {
		if !v.IsInstantiated() {
			return v, v.Lower()
		}
	}
	return nil, 0
}

func (s *Solver) recordSolution() {
	s.stats.Solutions++
	if s.best == nil {
		s.best = make([]int, len(s.vars))
	}
	for i, v := range s.vars {
		s.best[i] = v.Value()
	}
}

func (s *Solver) restoreBest() error {
	s.PushWorld()
	for i, v := range s.vars {
		if err := v.InstantiateTo(s.best[i]); err != nil {
			return fmt.Errorf("failed to restore %s to %d: %w", v.name, s.best[i], err)
		}
	}
	if err := s.Propagate(); err != nil {
		return fmt.Errorf("failed to restore the best solution: %w", err)
	}
	return nil
}

// =============================================================================
// SELECTORS
// =============================================================================

// InputOrder selects the first variable that is not instantiated.
type InputOrder struct{}

func (InputOrder) SelectVar(vars []*IntVar) *IntVar {
	for _, v := range vars {
		if !v.IsInstantiated() {
			return v
		}
	}
	return nil
}

// FirstFail selects the variable with the smallest domain.
type FirstFail struct{}

func (FirstFail) SelectVar(vars []*IntVar) *IntVar {
	var best *IntVar
	for _, v := range vars {
		if v.IsInstantiated() {
			continue
		}
		if best == nil || v.Size() < best.Size() {
			best = v
		}
	}
	return best
}

// MinValue selects the lower bound.
type MinValue struct{}

func (MinValue) SelectValue(v *IntVar) int { return v.Lower() }

// MaxValue selects the upper bound.
type MaxValue struct{}

func (MaxValue) SelectValue(v *IntVar) int { return v.Upper() }

// Preferred selects a preferred value per variable when still in the
// domain, and defers to Fallback otherwise.
type Preferred struct {
	Values   map[*IntVar]int
	Fallback ValSelector
}

func (p Preferred) SelectValue(v *IntVar) int {
	if val, ok := p.Values[v]; ok && v.Contains(val) {
		return val
	}
	if p.Fallback != nil {
		return p.Fallback.SelectValue(v)
	}
	return v.Lower()
}
