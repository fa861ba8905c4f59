// Package packing holds the capacity propagators: a dynamic bin-packing
// constraint over the final placement and a timetable over the slices.
package packing

import (
	"fmt"
	"sort"

	"github.com/limiquantix/replanner/internal/solver"
)

// Item is an element to pack: a constant height carried by a bin choice.
type Item struct {
	Height int
	Bin    *solver.IntVar
}

// BinPacking keeps the load of every bin consistent with the items that may
// or must be packed into it.
//
// Bins are indexed from 0. Load variables are bounded by the bin capacity
// when they are created. Items of height 0 are ignored.
type BinPacking struct {
	name  string
	items []Item
	loads []*solver.IntVar
	total int

	// capacity of every bin, the load upper bounds at construction
	capacity []int

	// scratch buffers, recomputed by every propagation
	required []int
	possible []int
}

// NewBinPacking builds the constraint. Items are sorted by decreasing
// height, and items of height 0 are dropped.
func NewBinPacking(name string, loads []*solver.IntVar, items []Item) *BinPacking {
	kept := make([]Item, 0, len(items))
	total := 0
	for _, it := range items {
		if it.Height <= 0 {
			continue
		}
		kept = append(kept, it)
		total += it.Height
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Height > kept[j].Height
	})
	capacity := make([]int, len(loads))
	for b, l := range loads {
		capacity[b] = l.Upper()
	}
	return &BinPacking{
		name:     name,
		items:    kept,
		loads:    loads,
		total:    total,
		capacity: capacity,
		required: make([]int, len(loads)),
		possible: make([]int, len(loads)),
	}
}

// Vars implements solver.Propagator.
func (bp *BinPacking) Vars() []*solver.IntVar {
	out := make([]*solver.IntVar, 0, len(bp.items)+len(bp.loads))
	for _, it := range bp.items {
		out = append(out, it.Bin)
	}
	return append(out, bp.loads...)
}

// Items returns the packed items, by decreasing height.
func (bp *BinPacking) Items() []Item {
	return bp.items
}

// Loads returns the load variables, indexed by bin.
func (bp *BinPacking) Loads() []*solver.IntVar {
	return bp.loads
}

// Propagate implements solver.Propagator.
func (bp *BinPacking) Propagate() error {
	for _, it := range bp.items {
		if err := it.Bin.UpdateLower(0); err != nil {
			return err
		}
		if err := it.Bin.UpdateUpper(len(bp.loads) - 1); err != nil {
			return err
		}
	}

	bp.computeLoads()

	// load bounds from the packed and candidate items
	for b, load := range bp.loads {
		if err := load.UpdateLower(bp.required[b]); err != nil {
			return err
		}
		if err := load.UpdateUpper(bp.possible[b]); err != nil {
			return err
		}
	}

	// the sum of the loads is the sum of the heights
	sumLower, sumUpper := 0, 0
	for _, load := range bp.loads {
		sumLower += load.Lower()
		sumUpper += load.Upper()
	}
	if sumLower > bp.total || sumUpper < bp.total {
		return solver.ErrContradiction
	}
	for _, load := range bp.loads {
		if err := load.UpdateLower(bp.total - (sumUpper - load.Upper())); err != nil {
			return err
		}
		if err := load.UpdateUpper(bp.total - (sumLower - load.Lower())); err != nil {
			return err
		}
	}

	// an item cannot go where it does not fit anymore
	for _, it := range bp.items {
		if it.Bin.IsInstantiated() {
			continue
		}
		for _, b := range it.Bin.Values() {
			if bp.required[b]+it.Height > bp.loads[b].Upper() {
				if err := it.Bin.RemoveValue(b); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (bp *BinPacking) computeLoads() {
	for b := range bp.loads {
		bp.required[b] = 0
		bp.possible[b] = 0
	}
	for _, it := range bp.items {
		if it.Bin.IsInstantiated() {
			bp.required[it.Bin.Value()] += it.Height
		}
		for _, b := range it.Bin.Values() {
			bp.possible[b] += it.Height
		}
	}
}

// RequiredLoad returns the total height of the items already packed in bin b.
func (bp *BinPacking) RequiredLoad(b int) int {
	sum := 0
	for _, it := range bp.items {
		if it.Bin.IsInstantiated() && it.Bin.Value() == b {
			sum += it.Height
		}
	}
	return sum
}

// Capacity returns the capacity of bin b.
func (bp *BinPacking) Capacity(b int) int {
	return bp.capacity[b]
}

// RemainingSpace returns the space still available in bin b: its capacity
// minus the items already packed. The load upper bound is not used as it is
// also clamped to the items that may still land in b. It does not modify
// any domain.
func (bp *BinPacking) RemainingSpace(b int) int {
	return bp.capacity[b] - bp.RequiredLoad(b)
}

// HeightOf returns the height of the item carried by v, or 0.
func (bp *BinPacking) HeightOf(v *solver.IntVar) int {
	for _, it := range bp.items {
		if it.Bin == v {
			return it.Height
		}
	}
	return 0
}

func (bp *BinPacking) String() string {
	return fmt.Sprintf("binPacking(%s, %d items, %d bins)", bp.name, len(bp.items), len(bp.loads))
}
