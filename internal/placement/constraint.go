// Package placement provides the placement constraints a destination
// configuration must satisfy, and the partitioning of the elements they
// refer to.
package placement

import (
	"fmt"
	"strings"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/model"
	"github.com/limiquantix/replanner/internal/solver"
)

// Constraint restricts the final placement of virtual machines. Constraints
// only apply to the VMs that are running at the end of the reconfiguration.
type Constraint interface {
	// Name identifies the constraint in error messages.
	Name() string
	// Scope returns the names of the VMs and nodes the constraint refers to.
	Scope() (vms, nodes []string)
	// Inject posts the constraint on the solver of a problem.
	Inject(p *model.Problem) error
	// IsSatisfied checks a configuration.
	IsSatisfied(cfg *domain.Configuration) bool
}

// hosters returns the hoster variables of the VMs running at the end.
func hosters(p *model.Problem, vms []string) []*solver.IntVar {
	var out []*solver.IntVar
	for _, name := range vms {
		if h := p.Hoster(name); h != nil {
			out = append(out, h)
		}
	}
	return out
}

func nodeIndexes(p *model.Problem, nodes []string) ([]int, error) {
	out := make([]int, 0, len(nodes))
	for _, name := range nodes {
		idx, ok := p.NodeIndex(name)
		if !ok {
			return nil, fmt.Errorf("node %s: %w", name, domain.ErrNotFound)
		}
		out = append(out, idx)
	}
	return out, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func describe(kind string, vms, nodes []string) string {
	if len(nodes) == 0 {
		return fmt.Sprintf("%s({%s})", kind, strings.Join(vms, ", "))
	}
	if len(vms) == 0 {
		return fmt.Sprintf("%s({%s})", kind, strings.Join(nodes, ", "))
	}
	return fmt.Sprintf("%s({%s}, {%s})", kind, strings.Join(vms, ", "), strings.Join(nodes, ", "))
}

// =============================================================================
// FENCE / BAN
// =============================================================================

// Fence restricts VMs to a set of nodes.
type Fence struct {
	VMs   []string
	Nodes []string
}

func (c *Fence) Name() string                  { return describe("fence", c.VMs, c.Nodes) }
func (c *Fence) Scope() (vms, nodes []string) { return c.VMs, c.Nodes }

func (c *Fence) Inject(p *model.Problem) error {
	idx, err := nodeIndexes(p, c.Nodes)
	if err != nil {
		return fmt.Errorf("failed to inject %s: %w", c.Name(), err)
	}
	for _, h := range hosters(p, c.VMs) {
		p.Solver().Member(h, idx)
	}
	return nil
}

func (c *Fence) IsSatisfied(cfg *domain.Configuration) bool {
	for _, vm := range c.VMs {
		if cfg.IsRunning(vm) && !contains(c.Nodes, cfg.Location(vm).Name) {
			return false
		}
	}
	return true
}

// Ban forbids a set of nodes to VMs.
type Ban struct {
	VMs   []string
	Nodes []string
}

func (c *Ban) Name() string                  { return describe("ban", c.VMs, c.Nodes) }
func (c *Ban) Scope() (vms, nodes []string) { return c.VMs, c.Nodes }

func (c *Ban) Inject(p *model.Problem) error {
	idx, err := nodeIndexes(p, c.Nodes)
	if err != nil {
		return fmt.Errorf("failed to inject %s: %w", c.Name(), err)
	}
	for _, h := range hosters(p, c.VMs) {
		p.Solver().NotMember(h, idx)
	}
	return nil
}

func (c *Ban) IsSatisfied(cfg *domain.Configuration) bool {
	for _, vm := range c.VMs {
		if cfg.IsRunning(vm) && contains(c.Nodes, cfg.Location(vm).Name) {
			return false
		}
	}
	return true
}

// =============================================================================
// SPREAD / GATHER
// =============================================================================

// Spread runs VMs on distinct nodes.
type Spread struct {
	VMs []string
}

func (c *Spread) Name() string                  { return describe("spread", c.VMs, nil) }
func (c *Spread) Scope() (vms, nodes []string) { return c.VMs, nil }

func (c *Spread) Inject(p *model.Problem) error {
	hs := hosters(p, c.VMs)
	for i := range hs {
		for j := i + 1; j < len(hs); j++ {
			p.Solver().NotEqual(hs[i], hs[j])
		}
	}
	return nil
}

func (c *Spread) IsSatisfied(cfg *domain.Configuration) bool {
	used := make(map[string]bool)
	for _, vm := range c.VMs {
		if !cfg.IsRunning(vm) {
			continue
		}
		host := cfg.Location(vm).Name
		if used[host] {
			return false
		}
		used[host] = true
	}
	return true
}

// Gather runs VMs on a single node.
type Gather struct {
	VMs []string
}

func (c *Gather) Name() string                  { return describe("gather", c.VMs, nil) }
func (c *Gather) Scope() (vms, nodes []string) { return c.VMs, nil }

func (c *Gather) Inject(p *model.Problem) error {
	hs := hosters(p, c.VMs)
	for i := 1; i < len(hs); i++ {
		p.Solver().Equal(hs[0], hs[i])
	}
	return nil
}

func (c *Gather) IsSatisfied(cfg *domain.Configuration) bool {
	host := ""
	for _, vm := range c.VMs {
		if !cfg.IsRunning(vm) {
			continue
		}
		n := cfg.Location(vm).Name
		if host != "" && n != host {
			return false
		}
		host = n
	}
	return true
}

// =============================================================================
// ROOT / LONELY / CAPACITY
// =============================================================================

// Root keeps running VMs on their current node.
type Root struct {
	VMs []string
}

func (c *Root) Name() string                  { return describe("root", c.VMs, nil) }
func (c *Root) Scope() (vms, nodes []string) { return c.VMs, nil }

func (c *Root) Inject(p *model.Problem) error {
	for _, vm := range c.VMs {
		h := p.Hoster(vm)
		if h == nil || !p.Source().IsRunning(vm) {
			continue
		}
		cur, _ := p.CurrentHost(vm)
		p.Solver().Member(h, []int{cur})
	}
	return nil
}

// IsSatisfied cannot tell where the VMs came from: a configuration always
// satisfies a root constraint. Plans are checked by RootedIn.
func (c *Root) IsSatisfied(*domain.Configuration) bool { return true }

// RootedIn checks that the VMs running in both src and dst did not move.
func (c *Root) RootedIn(src, dst *domain.Configuration) bool {
	for _, vm := range c.VMs {
		if src.IsRunning(vm) && dst.IsRunning(vm) && src.Location(vm).Name != dst.Location(vm).Name {
			return false
		}
	}
	return true
}

// Lonely keeps VMs away from the nodes running other VMs.
type Lonely struct {
	VMs []string
}

func (c *Lonely) Name() string                  { return describe("lonely", c.VMs, nil) }
func (c *Lonely) Scope() (vms, nodes []string) { return c.VMs, nil }

func (c *Lonely) Inject(p *model.Problem) error {
	var others []*solver.IntVar
	for _, m := range p.VMModels() {
		name := m.Element().ElementName()
		if contains(c.VMs, name) {
			continue
		}
		if h := p.Hoster(name); h != nil {
			others = append(others, h)
		}
	}
	for _, h := range hosters(p, c.VMs) {
		for _, o := range others {
			for _, idx := range h.Values() {
				if o.Contains(idx) {
					p.Solver().Implies(solver.Is(h, idx), solver.IsNot(o, idx))
				}
			}
		}
	}
	return nil
}

func (c *Lonely) IsSatisfied(cfg *domain.Configuration) bool {
	for _, vm := range c.VMs {
		if !cfg.IsRunning(vm) {
			continue
		}
		for _, other := range cfg.Runnings(cfg.Location(vm).Name) {
			if !contains(c.VMs, other.Name) {
				return false
			}
		}
	}
	return true
}

// Capacity limits the number of VMs running on a set of nodes.
type Capacity struct {
	Nodes []string
	Max   int
}

func (c *Capacity) Name() string {
	return fmt.Sprintf("capacity({%s}, %d)", strings.Join(c.Nodes, ", "), c.Max)
}

func (c *Capacity) Scope() (vms, nodes []string) { return nil, c.Nodes }

func (c *Capacity) Inject(p *model.Problem) error {
	if c.Max < 0 {
		return fmt.Errorf("failed to inject %s: negative limit: %w", c.Name(), domain.ErrInvalidArgument)
	}
	idx, err := nodeIndexes(p, c.Nodes)
	if err != nil {
		return fmt.Errorf("failed to inject %s: %w", c.Name(), err)
	}
	var hs []*solver.IntVar
	for _, m := range p.VMModels() {
		if m.DemandingSlice() != nil {
			hs = append(hs, m.DemandingSlice().Hoster)
		}
	}
	p.Solver().AtMostIn(hs, idx, c.Max)
	return nil
}

func (c *Capacity) IsSatisfied(cfg *domain.Configuration) bool {
	n := 0
	for _, node := range c.Nodes {
		n += len(cfg.Runnings(node))
	}
	return n <= c.Max
}
