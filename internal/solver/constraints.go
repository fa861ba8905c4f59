package solver

import (
	"fmt"
	"strings"
)

// Term is a coefficient applied to a variable in a linear expression.
type Term struct {
	Coef int
	Var  *IntVar
}

// T builds a term.
func T(coef int, v *IntVar) Term {
	return Term{Coef: coef, Var: v}
}

// =============================================================================
// LINEAR
// =============================================================================

// Linear enforces sum(terms) + constant <= 0, or == 0 when Equal is set.
type Linear struct {
	Terms    []Term
	Constant int
	Equal    bool
}

func (l *Linear) Vars() []*IntVar {
	out := make([]*IntVar, len(l.Terms))
	for i, t := range l.Terms {
		out[i] = t.Var
	}
	return out
}

func (l *Linear) Propagate() error {
	if err := propagateLeq(l.Terms, l.Constant, 1); err != nil {
		return err
	}
	if l.Equal {
		return propagateLeq(l.Terms, l.Constant, -1)
	}
	return nil
}

// propagateLeq filters sign*(sum(terms) + constant) <= 0 on bounds.
func propagateLeq(terms []Term, constant, sign int) error {
	sumMin := sign * constant
	for _, t := range terms {
		sumMin += minTerm(sign*t.Coef, t.Var)
	}
	if sumMin > 0 {
		return ErrContradiction
	}
	for _, t := range terms {
		a := sign * t.Coef
		if a == 0 {
			continue
		}
		slack := -(sumMin - minTerm(a, t.Var))
		if a > 0 {
			if err := t.Var.UpdateUpper(floorDiv(slack, a)); err != nil {
				return err
			}
		} else {
			if err := t.Var.UpdateLower(ceilDiv(slack, a)); err != nil {
				return err
			}
		}
	}
	return nil
}

func minTerm(a int, v *IntVar) int {
	if a >= 0 {
		return a * v.Lower()
	}
	return a * v.Upper()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) == (b < 0)) {
		q++
	}
	return q
}

func (l *Linear) String() string {
	parts := make([]string, len(l.Terms))
	for i, t := range l.Terms {
		parts[i] = fmt.Sprintf("%d*%s", t.Coef, t.Var.name)
	}
	op := "<="
	if l.Equal {
		op = "=="
	}
	return fmt.Sprintf("%s + %d %s 0", strings.Join(parts, " + "), l.Constant, op)
}

// Eq posts sum(terms) == rhs.
func (s *Solver) Eq(terms []Term, rhs int) {
	s.Post(&Linear{Terms: terms, Constant: -rhs, Equal: true})
}

// Leq posts sum(terms) <= rhs.
func (s *Solver) Leq(terms []Term, rhs int) {
	s.Post(&Linear{Terms: terms, Constant: -rhs})
}

// Geq posts sum(terms) >= rhs.
func (s *Solver) Geq(terms []Term, rhs int) {
	neg := make([]Term, len(terms))
	for i, t := range terms {
		neg[i] = Term{Coef: -t.Coef, Var: t.Var}
	}
	s.Post(&Linear{Terms: neg, Constant: rhs})
}

// =============================================================================
// REIFICATION
// =============================================================================

// ReifiedNotEqual enforces B == 1 iff X != Value.
type ReifiedNotEqual struct {
	B     *IntVar
	X     *IntVar
	Value int
}

func (r *ReifiedNotEqual) Vars() []*IntVar { return []*IntVar{r.B, r.X} }

func (r *ReifiedNotEqual) Propagate() error {
	if err := r.B.UpdateLower(0); err != nil {
		return err
	}
	if err := r.B.UpdateUpper(1); err != nil {
		return err
	}
	switch {
	case !r.X.Contains(r.Value):
		return r.B.InstantiateTo(1)
	case r.X.IsInstantiated():
		return r.B.InstantiateTo(0)
	}
	if r.B.IsInstantiated() {
		if r.B.Value() == 1 {
			return r.X.RemoveValue(r.Value)
		}
		return r.X.InstantiateTo(r.Value)
	}
	return nil
}

// ReifyNotEqual posts b == 1 iff x != value.
func (s *Solver) ReifyNotEqual(b, x *IntVar, value int) {
	s.Post(&ReifiedNotEqual{B: b, X: x, Value: value})
}

// Lit is the literal x == Value, or x != Value when Negated is set.
type Lit struct {
	Var     *IntVar
	Value   int
	Negated bool
}

// Is builds the literal x == value.
func Is(x *IntVar, value int) Lit { return Lit{Var: x, Value: value} }

// IsNot builds the literal x != value.
func IsNot(x *IntVar, value int) Lit { return Lit{Var: x, Value: value, Negated: true} }

func (l Lit) isTrue() bool {
	if l.Negated {
		return !l.Var.Contains(l.Value)
	}
	return l.Var.IsInstantiated() && l.Var.Value() == l.Value
}

func (l Lit) isFalse() bool {
	if l.Negated {
		return l.Var.IsInstantiated() && l.Var.Value() == l.Value
	}
	return !l.Var.Contains(l.Value)
}

func (l Lit) enforce() error {
	if l.Negated {
		return l.Var.RemoveValue(l.Value)
	}
	return l.Var.InstantiateTo(l.Value)
}

func (l Lit) negate() Lit {
	return Lit{Var: l.Var, Value: l.Value, Negated: !l.Negated}
}

// Implication enforces If => Then.
type Implication struct {
	If   Lit
	Then Lit
}

func (i *Implication) Vars() []*IntVar { return []*IntVar{i.If.Var, i.Then.Var} }

func (i *Implication) Propagate() error {
	if i.If.isTrue() {
		return i.Then.enforce()
	}
	if i.Then.isFalse() {
		return i.If.negate().enforce()
	}
	return nil
}

// Implies posts p => q.
func (s *Solver) Implies(p, q Lit) {
	s.Post(&Implication{If: p, Then: q})
}

// =============================================================================
// (DIS)EQUALITY
// =============================================================================

// NotEqual enforces X != Y.
type NotEqual struct {
	X, Y *IntVar
}

func (n *NotEqual) Vars() []*IntVar { return []*IntVar{n.X, n.Y} }

func (n *NotEqual) Propagate() error {
	if n.X.IsInstantiated() {
		if err := n.Y.RemoveValue(n.X.Value()); err != nil {
			return err
		}
	}
	if n.Y.IsInstantiated() {
		return n.X.RemoveValue(n.Y.Value())
	}
	return nil
}

// NotEqual posts x != y.
func (s *Solver) NotEqual(x, y *IntVar) {
	s.Post(&NotEqual{X: x, Y: y})
}

// Equal enforces X == Y.
type Equal struct {
	X, Y *IntVar
}

func (e *Equal) Vars() []*IntVar { return []*IntVar{e.X, e.Y} }

func (e *Equal) Propagate() error {
	if err := e.X.UpdateLower(e.Y.Lower()); err != nil {
		return err
	}
	if err := e.X.UpdateUpper(e.Y.Upper()); err != nil {
		return err
	}
	if err := e.Y.UpdateLower(e.X.Lower()); err != nil {
		return err
	}
	if err := e.Y.UpdateUpper(e.X.Upper()); err != nil {
		return err
	}
	for _, val := range e.X.Values() {
		if !e.Y.Contains(val) {
			if err := e.X.RemoveValue(val); err != nil {
				return err
			}
		}
	}
	for _, val := range e.Y.Values() {
		if !e.X.Contains(val) {
			if err := e.Y.RemoveValue(val); err != nil {
				return err
			}
		}
	}
	return nil
}

// Equal posts x == y.
func (s *Solver) Equal(x, y *IntVar) {
	s.Post(&Equal{X: x, Y: y})
}

// =============================================================================
// COUNTING
// =============================================================================

// AtMostIn enforces that at most Max variables take a value in Set.
type AtMostIn struct {
	Members []*IntVar
	Set     map[int]bool
	Max     int
}

func (a *AtMostIn) Vars() []*IntVar { return a.Members }

func (a *AtMostIn) Propagate() error {
	inside := 0
	for _, v := range a.Members {
		if a.surelyInside(v) {
			inside++
		}
	}
	if inside > a.Max {
		return ErrContradiction
	}
	if inside < a.Max {
		return nil
	}
	for _, v := range a.Members {
		if a.surelyInside(v) {
			continue
		}
		for val := range a.Set {
			if err := v.RemoveValue(val); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *AtMostIn) surelyInside(v *IntVar) bool {
	for _, val := range v.Values() {
		if !a.Set[val] {
			return false
		}
	}
	return true
}

// AtMostIn posts |{v in vars : v in set}| <= limit.
func (s *Solver) AtMostIn(vars []*IntVar, set []int, limit int) {
	s.Post(&AtMostIn{Members: vars, Set: toSet(set), Max: limit})
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

// Member restricts X to the values of Set, or to the values outside Set when
// Negated.
type Member struct {
	X       *IntVar
	Set     map[int]bool
	Negated bool
}

func (m *Member) Vars() []*IntVar { return []*IntVar{m.X} }

func (m *Member) Propagate() error {
	for _, val := range m.X.Values() {
		if m.Set[val] == m.Negated {
			if err := m.X.RemoveValue(val); err != nil {
				return err
			}
		}
	}
	if m.X.Size() == 0 {
		return ErrContradiction
	}
	return nil
}

// Member posts x in values.
func (s *Solver) Member(x *IntVar, values []int) {
	s.Post(&Member{X: x, Set: toSet(values)})
}

// NotMember posts x not in values.
func (s *Solver) NotMember(x *IntVar, values []int) {
	s.Post(&Member{X: x, Set: toSet(values), Negated: true})
}

func toSet(values []int) map[int]bool {
	set := make(map[int]bool, len(values))
	for _, val := range values {
		set[val] = true
	}
	return set
}
