package model

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/plan"
)

// =============================================================================
// ACTIONS
// =============================================================================

// DefinedActions returns the actions a solved model stands for. Models that
// leave their element unchanged return no action.
func (p *Problem) DefinedActions(m ActionModel) []plan.Action {
	at := func(start, end int) plan.Interval { return plan.Interval{Begin: start, Finish: end} }
	start, end := m.Start().Value(), m.End().Value()

	switch m := m.(type) {
	case *InstantiateModel:
		return []plan.Action{&plan.Instantiate{Interval: at(start, end), VM: m.VM}}

	case *RunModel:
		dst := p.nodes[m.dSlice.Hoster.Value()]
		if !m.Instantiate {
			return []plan.Action{&plan.Run{Interval: at(start, end), VM: m.VM, Host: dst}}
		}
		ready := start + m.instantiateDuration
		return []plan.Action{
			&plan.Instantiate{Interval: at(start, ready), VM: m.VM},
			&plan.Run{Interval: at(ready, end), VM: m.VM, Host: dst},
		}

	case *StopModel:
		return []plan.Action{&plan.Stop{Interval: at(start, end), VM: m.VM, Host: m.Host, Terminate: m.Terminate}}

	case *SuspendModel:
		return []plan.Action{&plan.Suspend{Interval: at(start, end), VM: m.VM, Src: m.Host, Dst: m.Host}}

	case *ResumeModel:
		dst := p.nodes[m.dSlice.Hoster.Value()]
		return []plan.Action{&plan.Resume{Interval: at(start, end), VM: m.VM, Src: m.Host, Dst: dst}}

	case *MigrationModel:
		if m.Moved.Value() == 0 {
			return nil
		}
		dst := p.nodes[m.dSlice.Hoster.Value()]
		return []plan.Action{&plan.Migration{Interval: at(start, end), VM: m.VM, Src: m.Host, Dst: dst}}

	case *ReInstantiateModel:
		if m.Moved.Value() == 0 {
			return nil
		}
		dst := p.nodes[m.dSlice.Hoster.Value()]
		ds := m.durations
		running := start + ds.instantiate
		stopping := running + ds.run
		stopped := stopping + ds.stop
		return []plan.Action{
			&plan.Instantiate{Interval: at(start, running), VM: m.Clone},
			&plan.Run{Interval: at(running, stopping), VM: m.Clone, Host: dst},
			&plan.Stop{Interval: at(stopping, stopped), VM: m.VM, Host: m.Host, Terminate: true, Clone: m.Clone},
			&plan.Rename{Interval: at(end-ds.rename, end), VM: m.Clone, NewName: m.VM.Name},
		}

	case *RetypeModel:
		return []plan.Action{&plan.Retype{Interval: at(start, end), VM: m.VM, Host: m.Host}}

	case *BootableNodeModel:
		if m.online.Value() == 0 || p.source.IsOnline(m.node.Name) {
			return nil
		}
		return []plan.Action{&plan.Startup{Interval: at(start, end), Node: m.node}}

	case *DeployModel:
		if m.online.Value() == 0 || p.source.IsOnline(m.node.Name) {
			return nil
		}
		if m.Deploying.Value() == 1 {
			platform := m.platforms[m.Platform.Value()]
			return []plan.Action{&plan.Deploy{Interval: at(start, end), Node: m.node, Platform: platform}}
		}
		return []plan.Action{&plan.Startup{Interval: at(start, end), Node: m.node}}

	case *ShutdownableNodeModel:
		if m.online.Value() == 1 {
			return nil
		}
		return []plan.Action{&plan.Shutdown{Interval: at(start, end), Node: m.node}}
	}
	panic(fmt.Sprintf("model: unknown action model %T", m))
}

// =============================================================================
// DESTINATION
// =============================================================================

// putNode declares the final state of a node in dst.
func (p *Problem) putNode(m NodeModel, dst *domain.Configuration) error {
	n := m.Node().Clone()
	if m.Online().Value() == 0 {
		return dst.AddOffline(n)
	}
	if dm, ok := m.(*DeployModel); ok && dm.Deploying.Value() == 1 {
		n.CurrentPlatform = dm.platforms[dm.Platform.Value()]
	}
	return dst.AddOnline(n)
}

// PutResult declares the final state of the element of a VM model in dst.
// The nodes of dst must be declared first.
func (p *Problem) PutResult(m ActionModel, dst *domain.Configuration) error {
	host := func() string { return p.nodes[m.DemandingSlice().Hoster.Value()].Name }

	switch m := m.(type) {
	case *InstantiateModel:
		return dst.AddWaiting(m.VM.Clone())
	case *RunModel:
		return dst.SetRunOn(m.VM.Clone(), host())
	case *StopModel:
		if m.Terminate {
			return nil
		}
		return dst.AddWaiting(m.VM.Clone())
	case *SuspendModel:
		return dst.SetSleepOn(m.VM.Clone(), m.Host.Name)
	case *ResumeModel:
		return dst.SetRunOn(m.VM.Clone(), host())
	case *MigrationModel:
		return dst.SetRunOn(m.VM.Clone(), host())
	case *ReInstantiateModel:
		return dst.SetRunOn(m.VM.Clone(), host())
	case *RetypeModel:
		vm := m.VM.Clone()
		vm.CPUConsumption, vm.MemoryConsumption = vm.CPUDemand, vm.MemoryDemand
		return dst.SetRunOn(vm, host())
	}
	return fmt.Errorf("unknown action model %T: %w", m, domain.ErrInvalidArgument)
}

// Destination builds the configuration reached once every solved model is
// applied.
func (p *Problem) Destination() (*domain.Configuration, error) {
	dst := domain.NewConfiguration()
	for _, m := range p.nodeModels {
		if err := p.putNode(m, dst); err != nil {
			return nil, fmt.Errorf("failed to set the state of %s: %w", m.Node().Name, err)
		}
	}
	for _, m := range p.vmModels {
		if err := p.PutResult(m, dst); err != nil {
			return nil, fmt.Errorf("failed to set the state of %s: %w", m.Element().ElementName(), err)
		}
	}
	for _, vm := range p.staticWaiting {
		if err := dst.AddWaiting(vm.Clone()); err != nil {
			return nil, fmt.Errorf("failed to set the state of %s: %w", vm.Name, err)
		}
	}
	for _, vm := range p.staticSleeping {
		if err := dst.SetSleepOn(vm.Clone(), p.source.Location(vm.Name).Name); err != nil {
			return nil, fmt.Errorf("failed to set the state of %s: %w", vm.Name, err)
		}
	}
	return dst, nil
}

// Plan extracts the timed plan of a solved problem.
func (p *Problem) Plan() (*plan.TimedReconfigurationPlan, error) {
	rp := plan.New(p.source)
	for _, m := range p.allModels() {
		rp.Add(p.DefinedActions(m)...)
	}
	dst, err := p.Destination()
	if err != nil {
		return nil, err
	}
	rp.Destination = dst

	p.logger.Debug("Extracted reconfiguration plan",
		zap.Int("actions", rp.Size()),
		zap.Int("duration", rp.Duration()),
		zap.Int("objective", p.objective.Value()),
	)
	return rp, nil
}
