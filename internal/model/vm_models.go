package model

import (
	"fmt"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/solver"
)

// every action finishes within the horizon and costs its end
func (p *Problem) scheduleFixed(b *base, name string, start *solver.IntVar, d int) {
	b.start = start
	b.duration = p.solver.NewConstant(name+".duration", d)
	b.end = p.solver.NewIntVar(name+".end", 0, p.horizon)
	p.solver.Eq([]solver.Term{solver.T(1, b.end), solver.T(-1, b.start)}, d)
	b.cost = b.end
}

func (p *Problem) newInstantiateModel(vm *domain.VirtualMachine, d int) *InstantiateModel {
	m := &InstantiateModel{VM: vm}
	name := vm.Name + ".instantiate"
	p.scheduleFixed(&m.base, name, p.solver.NewIntVar(name+".start", 0, p.horizon), d)
	return m
}

func (p *Problem) newRunModel(vm *domain.VirtualMachine, run, instantiate int, folded bool) *RunModel {
	m := &RunModel{VM: vm, Instantiate: folded, instantiateDuration: instantiate}
	d := run + instantiate
	m.dSlice = p.newDemandingSlice(vm.Name+".dSlice", p.candidates(vm), vm.CPUDemand, vm.MemoryDemand)
	p.scheduleFixed(&m.base, vm.Name+".run", m.dSlice.Start, d)
	p.solver.Geq([]solver.Term{solver.T(1, m.dSlice.Duration)}, d)
	return m
}

func (p *Problem) newStopModel(vm *domain.VirtualMachine, host *domain.Node, d int, terminate, running bool) *StopModel {
	m := &StopModel{VM: vm, Host: host, Terminate: terminate}
	name := vm.Name + ".stop"
	if running {
		m.cSlice = p.newConsumingSlice(vm.Name+".cSlice", p.nodeIndex[host.Name], vm.CPUConsumption, vm.MemoryConsumption)
		p.scheduleBefore(&m.base, name, m.cSlice.End, d)
		p.solver.Geq([]solver.Term{solver.T(1, m.cSlice.Duration)}, d)
		return m
	}
	p.scheduleFixed(&m.base, name, p.solver.NewIntVar(name+".start", 0, p.horizon), d)
	return m
}

func (p *Problem) newSuspendModel(vm *domain.VirtualMachine, host *domain.Node, d int) *SuspendModel {
	m := &SuspendModel{VM: vm, Host: host}
	m.cSlice = p.newConsumingSlice(vm.Name+".cSlice", p.nodeIndex[host.Name], vm.CPUConsumption, vm.MemoryConsumption)
	p.scheduleBefore(&m.base, vm.Name+".suspend", m.cSlice.End, d)
	p.solver.Geq([]solver.Term{solver.T(1, m.cSlice.Duration)}, d)
	return m
}

// scheduleBefore ends an action of fixed duration on the end of a consuming
// slice.
func (p *Problem) scheduleBefore(b *base, name string, end *solver.IntVar, d int) {
	b.end = end
	b.duration = p.solver.NewConstant(name+".duration", d)
	b.start = p.solver.NewIntVar(name+".start", 0, p.horizon)
	p.solver.Eq([]solver.Term{solver.T(1, b.end), solver.T(-1, b.start)}, d)
	b.cost = b.end
}

func (p *Problem) newResumeModel(vm *domain.VirtualMachine, host *domain.Node, local, remote int) *ResumeModel {
	m := &ResumeModel{VM: vm, Host: host}
	name := vm.Name + ".resume"
	hostIdx := p.nodeIndex[host.Name]

	var candidates []int
	for _, idx := range p.candidates(vm) {
		if idx == hostIdx && local <= 0 {
			continue
		}
		if idx != hostIdx && remote <= 0 {
			continue
		}
		candidates = append(candidates, idx)
	}
	m.dSlice = p.newDemandingSlice(vm.Name+".dSlice", candidates, vm.CPUDemand, vm.MemoryDemand)
	m.Remote = p.solver.NewBoolVar(name + ".remote")
	p.solver.ReifyNotEqual(m.Remote, m.dSlice.Hoster, hostIdx)

	m.start = m.dSlice.Start
	m.duration = p.solver.NewIntVar(name+".duration", 0, p.horizon)
	// duration = local + (remote - local) * Remote
	p.solver.Eq([]solver.Term{solver.T(1, m.duration), solver.T(local-remote, m.Remote)}, local)
	m.end = p.solver.NewIntVar(name+".end", 0, p.horizon)
	p.solver.Eq([]solver.Term{solver.T(1, m.end), solver.T(-1, m.start), solver.T(-1, m.duration)}, 0)
	p.solver.Geq([]solver.Term{solver.T(1, m.dSlice.Duration), solver.T(-1, m.duration)}, 0)
	m.cost = m.end
	return m
}

// relocatable posts the slices shared by the models keeping a VM running:
// the VM leaves its node at the end of the consuming slice, d units after
// it arrives on the hoster of the demanding slice when it moves.
func (p *Problem) relocatable(b *base, vm *domain.VirtualMachine, host *domain.Node, d int, pinned bool) *solver.IntVar {
	hostIdx := p.nodeIndex[host.Name]
	candidates := []int{hostIdx}
	if !pinned {
		candidates = p.candidates(vm)
	}
	b.cSlice = p.newConsumingSlice(vm.Name+".cSlice", hostIdx, vm.CPUConsumption, vm.MemoryConsumption)
	b.dSlice = p.newDemandingSlice(vm.Name+".dSlice", candidates, vm.CPUDemand, vm.MemoryDemand)

	moved := p.solver.NewBoolVar(vm.Name + ".moved")
	p.solver.ReifyNotEqual(moved, b.dSlice.Hoster, hostIdx)

	b.start = b.dSlice.Start
	b.end = b.cSlice.End
	b.duration = p.solver.NewIntVar(vm.Name+".duration", 0, p.horizon)
	p.solver.Eq([]solver.Term{solver.T(1, b.duration), solver.T(-d, moved)}, 0)
	p.solver.Eq([]solver.Term{solver.T(1, b.end), solver.T(-1, b.start), solver.T(-1, b.duration)}, 0)
	p.solver.Geq([]solver.Term{solver.T(1, b.dSlice.Duration), solver.T(-1, b.duration)}, 0)

	// cost = moved ? end : 0
	h := p.horizon
	b.cost = p.solver.NewIntVar(vm.Name+".cost", 0, h)
	p.solver.Leq([]solver.Term{solver.T(1, b.cost), solver.T(-1, b.end)}, 0)
	p.solver.Leq([]solver.Term{solver.T(1, b.cost), solver.T(-h, moved)}, 0)
	p.solver.Geq([]solver.Term{solver.T(1, b.cost), solver.T(-1, b.end), solver.T(-h, moved)}, -h)
	return moved
}

func (p *Problem) newMigrationModel(vm *domain.VirtualMachine, host *domain.Node, d int, pinned bool) *MigrationModel {
	m := &MigrationModel{VM: vm, Host: host}
	m.Moved = p.relocatable(&m.base, vm, host, d, pinned)
	return m
}

func (p *Problem) newReInstantiateModel(vm *domain.VirtualMachine, host *domain.Node, ds reInstantiateDurations) (*ReInstantiateModel, error) {
	clone := vm.Clone()
	clone.Name = vm.Name + p.opts.CloneSuffix
	if p.source.Contains(clone.Name) || p.source.Node(clone.Name) != nil {
		return nil, &RequestError{Element: vm.Name, Reason: fmt.Sprintf("clone name %s is already used", clone.Name)}
	}
	m := &ReInstantiateModel{VM: vm, Clone: clone, Host: host, durations: ds}
	total := ds.instantiate + ds.run + ds.stop + ds.rename
	m.Moved = p.relocatable(&m.base, vm, host, total, false)
	return m, nil
}

func (p *Problem) newRetypeModel(vm *domain.VirtualMachine, host *domain.Node, d int) *RetypeModel {
	m := &RetypeModel{VM: vm, Host: host}
	hostIdx := p.nodeIndex[host.Name]
	m.cSlice = p.newConsumingSlice(vm.Name+".cSlice", hostIdx, vm.CPUConsumption, vm.MemoryConsumption)
	m.dSlice = p.newDemandingSlice(vm.Name+".dSlice", []int{hostIdx}, vm.CPUDemand, vm.MemoryDemand)
	m.start = m.dSlice.Start
	m.end = m.cSlice.End
	m.duration = p.solver.NewConstant(vm.Name+".retype.duration", d)
	p.solver.Eq([]solver.Term{solver.T(1, m.end), solver.T(-1, m.start)}, d)
	p.solver.Geq([]solver.Term{solver.T(1, m.dSlice.Duration)}, d)
	m.cost = m.end
	return m
}
