// Package heuristic steers the search of a reconfiguration problem. It only
// orders decisions: feasibility never depends on the heuristic in use.
package heuristic

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/model"
	"github.com/limiquantix/replanner/internal/packing"
	"github.com/limiquantix/replanner/internal/solver"
)

// Strategy selects the node tried first for a VM that has to be placed.
type Strategy string

const (
	// StrategyWorstFit prefers the node with the most remaining space,
	// spreading the load.
	StrategyWorstFit Strategy = "worst-fit"
	// StrategyBestFit prefers the node with the least remaining space that
	// still fits the VM, consolidating the load.
	StrategyBestFit Strategy = "best-fit"
)

// Dimension is the resource the fit strategies look at.
type Dimension string

const (
	DimensionCPU    Dimension = "cpu"
	DimensionMemory Dimension = "memory"
	// DimensionBoth sums the remaining space of both resources, each
	// normalised by the capacity of the node.
	DimensionBoth Dimension = "both"
)

// Config configures the heuristic.
type Config struct {
	Strategy  Strategy  `mapstructure:"strategy"`
	Dimension Dimension `mapstructure:"dimension"`
	// StayFirst tries the current node of a VM before any other.
	StayFirst bool `mapstructure:"stay_first"`
}

// DefaultConfig keeps VMs in place and spreads the others.
func DefaultConfig() Config {
	return Config{Strategy: StrategyWorstFit, Dimension: DimensionBoth, StayFirst: true}
}

// Validate checks the strategy and dimension names.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyWorstFit, StrategyBestFit:
	default:
		return fmt.Errorf("unknown heuristic strategy %q: %w", c.Strategy, domain.ErrInvalidArgument)
	}
	switch c.Dimension {
	case DimensionCPU, DimensionMemory, DimensionBoth:
	default:
		return fmt.Errorf("unknown heuristic dimension %q: %w", c.Dimension, domain.ErrInvalidArgument)
	}
	return nil
}

// Install adds the branchings of the heuristic to the solver of p.
// Groups lists VM names that are placed together, e.g. the partitions of
// the placement constraints; VMs of no group are placed last.
func Install(p *model.Problem, cfg Config, groups [][]string, logger *zap.Logger) {
	s := p.Solver()
	cpu, mem := p.Packings()

	// 1. nodes keep their state
	var online, platforms []*solver.IntVar
	state := make(map[*solver.IntVar]int)
	for _, nm := range p.NodeModels() {
		online = append(online, nm.Online())
		if p.Source().IsOnline(nm.Node().Name) {
			state[nm.Online()] = 1
		} else {
			state[nm.Online()] = 0
		}
		if dm, ok := nm.(*model.DeployModel); ok {
			platforms = append(platforms, dm.Platform)
			if idx, ok := dm.PlatformIndex(nm.Node().CurrentPlatform); ok {
				state[dm.Platform] = idx
			}
		}
	}
	keep := solver.Preferred{Values: state, Fallback: solver.MinValue{}}
	s.AddBranching(solver.Branching{Name: "nodeState", Vars: online, ValSelector: keep})
	if len(platforms) > 0 {
		s.AddBranching(solver.Branching{Name: "platform", Vars: platforms, ValSelector: keep})
	}

	// 2. placement, group by group, largest VMs first
	sel := &hosterSelector{cfg: cfg, cpu: cpu, memory: mem, nodes: p.Nodes(), current: make(map[*solver.IntVar]int)}
	placed := make(map[string]bool)
	all := append(append([][]string(nil), groups...), remaining(p, groups))
	nbGroups := 0
	for i, group := range all {
		var vars []*solver.IntVar
		for _, name := range largestFirst(p, group) {
			if placed[name] {
				continue
			}
			placed[name] = true
			h := p.Hoster(name)
			if h == nil {
				continue
			}
			if cur, ok := p.CurrentHost(name); ok {
				sel.current[h] = cur
			}
			vars = append(vars, h)
		}
		if len(vars) == 0 {
			continue
		}
		nbGroups++
		s.AddBranching(solver.Branching{
			Name:        fmt.Sprintf("placement#%d", i),
			Vars:        vars,
			ValSelector: sel,
		})
	}

	// 3. schedule as early as possible
	var starts []*solver.IntVar
	for _, m := range p.VMModels() {
		starts = append(starts, m.Start())
	}
	for _, nm := range p.NodeModels() {
		starts = append(starts, nm.Start())
	}
	s.AddBranching(solver.Branching{Name: "schedule", Vars: starts, ValSelector: solver.MinValue{}})

	logger.Debug("Installed search heuristic",
		zap.String("strategy", string(cfg.Strategy)),
		zap.String("dimension", string(cfg.Dimension)),
		zap.Bool("stay_first", cfg.StayFirst),
		zap.Int("placement_groups", nbGroups),
	)
}

// remaining returns the VMs of p that are in no group, sorted by name.
func remaining(p *model.Problem, groups [][]string) []string {
	grouped := make(map[string]bool)
	for _, g := range groups {
		for _, name := range g {
			grouped[name] = true
		}
	}
	var out []string
	for _, m := range p.VMModels() {
		if name := m.Element().ElementName(); !grouped[name] {
			out = append(out, name)
		}
	}
	return out
}

// largestFirst sorts VM names by decreasing demand, then by name.
func largestFirst(p *model.Problem, names []string) []string {
	size := func(name string) (int, int) {
		m := p.VMModel(name)
		if m == nil || m.DemandingSlice() == nil {
			return 0, 0
		}
		return m.DemandingSlice().CPU, m.DemandingSlice().Memory
	}
	out := append([]string(nil), names...)
	sort.SliceStable(out, func(i, j int) bool {
		ci, mi := size(out[i])
		cj, mj := size(out[j])
		if ci != cj {
			return ci > cj
		}
		if mi != mj {
			return mi > mj
		}
		return out[i] < out[j]
	})
	return out
}

// =============================================================================
// VALUE SELECTION
// =============================================================================

type hosterSelector struct {
	cfg     Config
	cpu     *packing.BinPacking
	memory  *packing.BinPacking
	nodes   []*domain.Node
	current map[*solver.IntVar]int
}

func (h *hosterSelector) SelectValue(v *solver.IntVar) int {
	if h.cfg.StayFirst {
		if cur, ok := h.current[v]; ok && v.Contains(cur) {
			return cur
		}
	}

	best, bestScore := v.Lower(), 0.0
	found := false
	for _, b := range v.Values() {
		if !h.fits(v, b) {
			continue
		}
		score := h.score(b)
		better := score > bestScore
		if h.cfg.Strategy == StrategyBestFit {
			better = score < bestScore
		}
		if !found || better {
			best, bestScore, found = b, score, true
		}
	}
	return best
}

func (h *hosterSelector) fits(v *solver.IntVar, b int) bool {
	return h.cpu.HeightOf(v) <= h.cpu.RemainingSpace(b) &&
		h.memory.HeightOf(v) <= h.memory.RemainingSpace(b)
}

// score is the remaining space of node b in the configured dimension.
func (h *hosterSelector) score(b int) float64 {
	cpu := float64(h.cpu.RemainingSpace(b))
	mem := float64(h.memory.RemainingSpace(b))
	switch h.cfg.Dimension {
	case DimensionCPU:
		return cpu
	case DimensionMemory:
		return mem
	}
	n := h.nodes[b]
	score := 0.0
	if n.CPUCapacity > 0 {
		score += cpu / float64(n.CPUCapacity)
	}
	if n.MemoryCapacity > 0 {
		score += mem / float64(n.MemoryCapacity)
	}
	return score
}
