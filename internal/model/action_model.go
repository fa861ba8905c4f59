package model

import (
	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/solver"
)

// ActionModel is the solver-time view of a candidate action. The set of
// models is closed: a model is one of the types declared in this package.
type ActionModel interface {
	Start() *solver.IntVar
	End() *solver.IntVar
	Duration() *solver.IntVar
	Cost() *solver.IntVar
	ConsumingSlice() *Slice
	DemandingSlice() *Slice
	Element() domain.ManagedElement
	actionModel()
}

type base struct {
	start    *solver.IntVar
	end      *solver.IntVar
	duration *solver.IntVar
	cost     *solver.IntVar
	cSlice   *Slice
	dSlice   *Slice
}

func (b *base) Start() *solver.IntVar    { return b.start }
func (b *base) End() *solver.IntVar      { return b.end }
func (b *base) Duration() *solver.IntVar { return b.duration }
func (b *base) Cost() *solver.IntVar     { return b.cost }
func (b *base) ConsumingSlice() *Slice   { return b.cSlice }
func (b *base) DemandingSlice() *Slice   { return b.dSlice }
func (b *base) actionModel()             {}

// =============================================================================
// VIRTUAL MACHINE MODELS
// =============================================================================

// InstantiateModel creates a VM from its template; the VM ends waiting.
type InstantiateModel struct {
	base
	VM *domain.VirtualMachine
}

// RunModel starts a waiting VM, or an unknown VM that is instantiated first.
type RunModel struct {
	base
	VM          *domain.VirtualMachine
	Instantiate bool

	instantiateDuration int
}

// StopModel stops a running or sleeping VM.
type StopModel struct {
	base
	VM        *domain.VirtualMachine
	Host      *domain.Node
	Terminate bool
}

// SuspendModel suspends a running VM on its node.
type SuspendModel struct {
	base
	VM   *domain.VirtualMachine
	Host *domain.Node
}

// ResumeModel resumes a sleeping VM on any node. Resuming on another node
// costs the remote duration.
type ResumeModel struct {
	base
	VM     *domain.VirtualMachine
	Host   *domain.Node
	Remote *solver.IntVar
}

// MigrationModel keeps a VM running, possibly on another node.
type MigrationModel struct {
	base
	VM    *domain.VirtualMachine
	Host  *domain.Node
	Moved *solver.IntVar
}

// ReInstantiateModel keeps a VM built from a template running. Changing its
// node creates a clone on the destination, stops the original and renames
// the clone.
type ReInstantiateModel struct {
	base
	VM        *domain.VirtualMachine
	Clone     *domain.VirtualMachine
	Host      *domain.Node
	Moved     *solver.IntVar
	durations reInstantiateDurations
}

type reInstantiateDurations struct {
	instantiate, run, stop, rename int
}

// RetypeModel resizes a pinned VM in place to its demand.
type RetypeModel struct {
	base
	VM   *domain.VirtualMachine
	Host *domain.Node
}

func (m *InstantiateModel) Element() domain.ManagedElement   { return m.VM }
func (m *RunModel) Element() domain.ManagedElement           { return m.VM }
func (m *StopModel) Element() domain.ManagedElement          { return m.VM }
func (m *SuspendModel) Element() domain.ManagedElement       { return m.VM }
func (m *ResumeModel) Element() domain.ManagedElement        { return m.VM }
func (m *MigrationModel) Element() domain.ManagedElement     { return m.VM }
func (m *ReInstantiateModel) Element() domain.ManagedElement { return m.VM }
func (m *RetypeModel) Element() domain.ManagedElement        { return m.VM }

// =============================================================================
// NODE MODELS
// =============================================================================

// NodeModel is an action model managing the state of a node.
type NodeModel interface {
	ActionModel
	Node() *domain.Node
	Online() *solver.IntVar
}

// BootableNodeModel may boot an offline node. Until the node is up, a
// consuming slice reserves its whole capacity.
type BootableNodeModel struct {
	base
	node       *domain.Node
	online     *solver.IntVar
	bootLength int
}

// DeployModel may boot an offline node on one of its platforms.
type DeployModel struct {
	base
	node      *domain.Node
	online    *solver.IntVar
	Platform  *solver.IntVar
	Deploying *solver.IntVar
	platforms []string

	bootLength   int
	deployLength int
}

// ShutdownableNodeModel may halt an online node. Once the halt starts, a
// demanding slice reserves its whole capacity.
type ShutdownableNodeModel struct {
	base
	node   *domain.Node
	online *solver.IntVar
}

func (m *BootableNodeModel) Element() domain.ManagedElement     { return m.node }
func (m *DeployModel) Element() domain.ManagedElement           { return m.node }
func (m *ShutdownableNodeModel) Element() domain.ManagedElement { return m.node }

func (m *BootableNodeModel) Node() *domain.Node     { return m.node }
func (m *DeployModel) Node() *domain.Node           { return m.node }
func (m *ShutdownableNodeModel) Node() *domain.Node { return m.node }

func (m *BootableNodeModel) Online() *solver.IntVar     { return m.online }
func (m *DeployModel) Online() *solver.IntVar           { return m.online }
func (m *ShutdownableNodeModel) Online() *solver.IntVar { return m.online }

// PlatformIndex returns the index of a platform in the domain of Platform.
func (m *DeployModel) PlatformIndex(name string) (int, bool) {
	for i, p := range m.platforms {
		if p == name {
			return i, true
		}
	}
	return 0, false
}
