package model

import (
	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/solver"
)

// nodeSlice reserves the whole capacity of a node.
func (p *Problem) nodeSlice(sl *Slice) *Slice {
	sl.node = true
	return sl
}

// newBootableNodeModel posts, with h the horizon and b the boot duration:
//
//	cSlice.end = online ? b : h
//	duration = b * online
func (p *Problem) newBootableNodeModel(n *domain.Node, idx int, online []int, boot int) *BootableNodeModel {
	h := p.horizon
	m := &BootableNodeModel{node: n, bootLength: boot}
	m.online = p.solver.NewEnumVar(n.Name+".online", online)
	m.cSlice = p.nodeSlice(p.newConsumingSlice(n.Name+".cSlice", idx, n.CPUCapacity, n.MemoryCapacity))
	p.solver.Eq([]solver.Term{solver.T(1, m.cSlice.End), solver.T(h-boot, m.online)}, h)

	m.start = p.zero
	m.duration = p.solver.NewIntVar(n.Name+".boot.duration", 0, boot)
	p.solver.Eq([]solver.Term{solver.T(1, m.duration), solver.T(-boot, m.online)}, 0)
	m.end = m.duration
	m.cost = m.duration
	return m
}

// newDeployModel extends the boot of a node with the choice of its platform.
// Booting on another platform than the current one costs the deploy
// duration d instead of the boot duration b:
//
//	deploying = online and platform != current
//	cSlice.end = h - (h - b) * online + (d - b) * deploying
//	duration = b * online + (d - b) * deploying
func (p *Problem) newDeployModel(n *domain.Node, idx int, online []int, boot, deploy int) *DeployModel {
	h := p.horizon
	m := &DeployModel{node: n, bootLength: boot, deployLength: deploy, platforms: n.PlatformNames()}
	m.online = p.solver.NewEnumVar(n.Name+".online", online)

	indexes := make([]int, len(m.platforms))
	for i := range indexes {
		indexes[i] = i
	}
	m.Platform = p.solver.NewEnumVar(n.Name+".platform", indexes)

	changed := p.solver.NewConstant(n.Name+".changed", 1)
	if cur, ok := m.PlatformIndex(n.CurrentPlatform); ok && n.CurrentPlatform != "" {
		changed = p.solver.NewBoolVar(n.Name + ".changed")
		p.solver.ReifyNotEqual(changed, m.Platform, cur)
	}

	// deploying = online AND changed
	m.Deploying = p.solver.NewBoolVar(n.Name + ".deploying")
	p.solver.Leq([]solver.Term{solver.T(1, m.Deploying), solver.T(-1, m.online)}, 0)
	p.solver.Leq([]solver.Term{solver.T(1, m.Deploying), solver.T(-1, changed)}, 0)
	p.solver.Geq([]solver.Term{solver.T(1, m.Deploying), solver.T(-1, m.online), solver.T(-1, changed)}, -1)

	m.cSlice = p.nodeSlice(p.newConsumingSlice(n.Name+".cSlice", idx, n.CPUCapacity, n.MemoryCapacity))
	p.solver.Eq([]solver.Term{
		solver.T(1, m.cSlice.End),
		solver.T(h-boot, m.online),
		solver.T(boot-deploy, m.Deploying),
	}, h)

	m.start = p.zero
	m.duration = p.solver.NewIntVar(n.Name+".boot.duration", 0, max(boot, deploy))
	p.solver.Eq([]solver.Term{
		solver.T(1, m.duration),
		solver.T(-boot, m.online),
		solver.T(boot-deploy, m.Deploying),
	}, 0)
	m.end = m.duration
	m.cost = m.duration
	return m
}

// newShutdownableNodeModel posts, with h the horizon and s the shutdown
// duration:
//
//	dSlice.start >= h * online
//	end = dSlice.start + s * (1 - online)
//	cost = online ? 0 : end
func (p *Problem) newShutdownableNodeModel(n *domain.Node, idx int, online []int, halt int) *ShutdownableNodeModel {
	h := p.horizon
	m := &ShutdownableNodeModel{node: n}
	m.online = p.solver.NewEnumVar(n.Name+".online", online)
	m.dSlice = p.nodeSlice(p.newDemandingSlice(n.Name+".dSlice", []int{idx}, n.CPUCapacity, n.MemoryCapacity))
	p.solver.Geq([]solver.Term{solver.T(1, m.dSlice.Start), solver.T(-h, m.online)}, 0)

	m.start = m.dSlice.Start
	m.duration = p.solver.NewIntVar(n.Name+".halt.duration", 0, halt)
	p.solver.Eq([]solver.Term{solver.T(1, m.duration), solver.T(halt, m.online)}, halt)
	m.end = p.solver.NewIntVar(n.Name+".halt.end", 0, h)
	p.solver.Eq([]solver.Term{solver.T(1, m.end), solver.T(-1, m.start), solver.T(-1, m.duration)}, 0)

	m.cost = p.solver.NewIntVar(n.Name+".halt.cost", 0, h)
	p.solver.Eq([]solver.Term{solver.T(1, m.cost), solver.T(-1, m.end), solver.T(h, m.online)}, 0)
	return m
}
