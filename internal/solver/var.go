package solver

import (
	"fmt"
	"math"
	"math/bits"
)

// IntVar is an integer variable with a trailed domain.
//
// Interval domains only track their bounds. Enumerated domains also track
// holes through a bitset, so any value can be removed.
type IntVar struct {
	s    *Solver
	id   int
	name string

	lb, ub int
	size   int

	offset int
	bits   []uint64

	watchers []int
}

// Name returns the variable name.
func (v *IntVar) Name() string { return v.name }

// ID returns the index of the variable in its solver.
func (v *IntVar) ID() int { return v.id }

// Lower returns the lower bound of the domain.
func (v *IntVar) Lower() int { return v.lb }

// Upper returns the upper bound of the domain.
func (v *IntVar) Upper() int { return v.ub }

// Size returns the number of values in the domain.
func (v *IntVar) Size() int { return v.size }

// IsEnumerated returns true if the domain supports holes.
func (v *IntVar) IsEnumerated() bool { return v.bits != nil }

// IsInstantiated returns true if the domain is a singleton.
func (v *IntVar) IsInstantiated() bool { return v.lb == v.ub }

// Value returns the value of an instantiated variable. For other variables
// it returns the lower bound.
func (v *IntVar) Value() int { return v.lb }

// Contains returns true if val belongs to the domain.
func (v *IntVar) Contains(val int) bool {
	if val < v.lb || val > v.ub {
		return false
	}
	return v.bits == nil || v.hasBit(val)
}

// NextValue returns the smallest value of the domain greater than val, or
// math.MaxInt when there is none.
func (v *IntVar) NextValue(val int) int {
	if val < v.lb {
		return v.lb
	}
	for next := val + 1; next <= v.ub; next++ {
		if v.bits == nil || v.hasBit(next) {
			return next
		}
	}
	return math.MaxInt
}

// Values returns the domain in increasing order.
func (v *IntVar) Values() []int {
	out := make([]int, 0, v.size)
	for val := v.lb; val <= v.ub; val = v.NextValue(val) {
		out = append(out, val)
	}
	return out
}

func (v *IntVar) String() string {
	if v.IsInstantiated() {
		return fmt.Sprintf("%s=%d", v.name, v.lb)
	}
	if v.bits == nil {
		return fmt.Sprintf("%s[%d,%d]", v.name, v.lb, v.ub)
	}
	return fmt.Sprintf("%s%v", v.name, v.Values())
}

// =============================================================================
// MODIFIERS
// =============================================================================

// InstantiateTo reduces the domain to val.
func (v *IntVar) InstantiateTo(val int) error {
	if !v.Contains(val) {
		return ErrContradiction
	}
	if v.IsInstantiated() {
		return nil
	}
	v.save()
	v.lb, v.ub, v.size = val, val, 1
	v.s.schedule(v)
	return nil
}

// UpdateLower removes every value lower than val.
func (v *IntVar) UpdateLower(val int) error {
	if val <= v.lb {
		return nil
	}
	if val > v.ub {
		return ErrContradiction
	}
	if v.bits != nil {
		for !v.hasBit(val) {
			val++
			if val > v.ub {
				return ErrContradiction
			}
		}
	}
	v.save()
	v.lb = val
	v.size = v.count()
	v.s.schedule(v)
	return nil
}

// UpdateUpper removes every value greater than val.
func (v *IntVar) UpdateUpper(val int) error {
	if val >= v.ub {
		return nil
	}
	if val < v.lb {
		return ErrContradiction
	}
	if v.bits != nil {
		for !v.hasBit(val) {
			val--
			if val < v.lb {
				return ErrContradiction
			}
		}
	}
	v.save()
	v.ub = val
	v.size = v.count()
	v.s.schedule(v)
	return nil
}

// RemoveValue removes val from the domain. Removing a value strictly inside
// an interval domain is not representable and is ignored.
func (v *IntVar) RemoveValue(val int) error {
	if !v.Contains(val) {
		return nil
	}
	if v.IsInstantiated() {
		return ErrContradiction
	}
	switch {
	case val == v.lb:
		return v.UpdateLower(val + 1)
	case val == v.ub:
		return v.UpdateUpper(val - 1)
	case v.bits == nil:
		return nil
	}
	v.saveRemoval(val)
	v.clearBit(val)
	v.size--
	v.s.schedule(v)
	return nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (v *IntVar) save() {
	v.s.trail = append(v.s.trail, trailEntry{v: v, lb: v.lb, ub: v.ub, size: v.size})
}

func (v *IntVar) saveRemoval(val int) {
	v.s.trail = append(v.s.trail, trailEntry{v: v, lb: v.lb, ub: v.ub, size: v.size, removed: val, hasRemoved: true})
}

func (v *IntVar) hasBit(val int) bool {
	i := val - v.offset
	return v.bits[i>>6]&(1<<(uint(i)&63)) != 0
}

func (v *IntVar) setBit(val int) {
	i := val - v.offset
	v.bits[i>>6] |= 1 << (uint(i) & 63)
}

func (v *IntVar) clearBit(val int) {
	i := val - v.offset
	v.bits[i>>6] &^= 1 << (uint(i) & 63)
}

func (v *IntVar) count() int {
	if v.bits == nil {
		return v.ub - v.lb + 1
	}
	n := 0
	lo, hi := v.lb-v.offset, v.ub-v.offset
	for w := lo >> 6; w <= hi>>6; w++ {
		word := v.bits[w]
		if w == lo>>6 {
			word &= ^uint64(0) << (uint(lo) & 63)
		}
		if w == hi>>6 && (uint(hi)&63) != 63 {
			word &= (uint64(1) << ((uint(hi) & 63) + 1)) - 1
		}
		n += bits.OnesCount64(word)
	}
	return n
}

type trailEntry struct {
	v          *IntVar
	lb, ub     int
	size       int
	removed    int
	hasRemoved bool
}

func (e trailEntry) undo() {
	e.v.lb, e.v.ub, e.v.size = e.lb, e.ub, e.size
	if e.hasRemoved {
		e.v.setBit(e.removed)
	}
}
