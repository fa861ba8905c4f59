package model

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/packing"
	"github.com/limiquantix/replanner/internal/plan"
	"github.com/limiquantix/replanner/internal/solver"
)

// DurationEvaluator estimates the duration of an action on an element.
type DurationEvaluator interface {
	Evaluate(kind plan.Kind, e domain.ManagedElement) (int, error)
}

// Request lists the states required at the end of the reconfiguration.
// Elements that are not listed keep their current state, except nodes
// whose state is left to the solver.
type Request struct {
	Running    []*domain.VirtualMachine
	Waiting    []*domain.VirtualMachine
	Sleeping   []*domain.VirtualMachine
	Terminated []*domain.VirtualMachine
	Online     []*domain.Node
	Offline    []*domain.Node
}

// Options tunes the construction of a problem.
type Options struct {
	// CloneSuffix is appended to the name of a VM to name its clone.
	CloneSuffix string
}

// DefaultCloneSuffix is used when Options.CloneSuffix is empty.
const DefaultCloneSuffix = "-clone"

type target string

const (
	targetRunning    target = "running"
	targetSleeping   target = "sleeping"
	targetWaiting    target = "waiting"
	targetTerminated target = "terminated"
)

// Problem is a reconfiguration problem: the action models of every element
// posted on a solver, with the capacity constraints tying them together.
type Problem struct {
	logger *zap.Logger
	source *domain.Configuration
	opts   Options

	solver  *solver.Solver
	horizon int
	zero    *solver.IntVar
	end     *solver.IntVar

	nodes     []*domain.Node
	nodeIndex map[string]int

	vmModels   []ActionModel
	vmByName   map[string]ActionModel
	nodeModels []NodeModel
	nodeByName map[string]NodeModel

	staticWaiting  []*domain.VirtualMachine
	staticSleeping []*domain.VirtualMachine

	slices []*Slice

	cpuPacking  *packing.BinPacking
	memPacking  *packing.BinPacking
	cpuTimeline *packing.SliceScheduling
	memTimeline *packing.SliceScheduling

	objective *solver.IntVar
}

// pending is an action model whose durations are known but whose variables
// wait for the horizon.
type pending struct {
	maxDuration int
	build       func() (ActionModel, error)
}

// NewProblem builds the models of every element of src according to req.
func NewProblem(src *domain.Configuration, req Request, durations DurationEvaluator, opts Options, logger *zap.Logger) (*Problem, error) {
	if opts.CloneSuffix == "" {
		opts.CloneSuffix = DefaultCloneSuffix
	}
	p := &Problem{
		logger:     logger.With(zap.String("component", "model")),
		source:     src,
		opts:       opts,
		solver:     solver.New(),
		nodes:      src.AllNodes(),
		nodeIndex:  make(map[string]int),
		vmByName:   make(map[string]ActionModel),
		nodeByName: make(map[string]NodeModel),
	}
	for i, n := range p.nodes {
		p.nodeIndex[n.Name] = i
	}

	vmTargets, vms, err := p.vmTargets(req)
	if err != nil {
		return nil, err
	}
	nodeTargets, err := p.nodeTargets(req)
	if err != nil {
		return nil, err
	}

	// durations first: the horizon is the sum of the longest actions
	var nodePending, vmPending []*pending
	for _, n := range p.nodes {
		pd, err := p.planNode(n, nodeTargets[n.Name], durations)
		if err != nil {
			return nil, err
		}
		nodePending = append(nodePending, pd)
	}
	for _, vm := range vms {
		pd, err := p.planVM(vm, vmTargets[vm.Name], durations)
		if err != nil {
			return nil, err
		}
		if pd != nil {
			vmPending = append(vmPending, pd)
		}
	}
	for _, pd := range append(nodePending, vmPending...) {
		p.horizon += pd.maxDuration
	}
	p.horizon = max(p.horizon, 1)
	p.zero = p.solver.NewConstant("zero", 0)
	p.end = p.solver.NewConstant("horizon", p.horizon)

	for _, pd := range nodePending {
		m, err := pd.build()
		if err != nil {
			return nil, err
		}
		nm := m.(NodeModel)
		p.nodeModels = append(p.nodeModels, nm)
		p.nodeByName[nm.Node().Name] = nm
	}
	for _, pd := range vmPending {
		m, err := pd.build()
		if err != nil {
			return nil, err
		}
		p.vmModels = append(p.vmModels, m)
		p.vmByName[m.Element().ElementName()] = m
	}

	p.postHostingConstraints()
	p.postCapacityConstraints()
	p.postObjective()

	p.logger.Debug("Built reconfiguration problem",
		zap.Int("nodes", len(p.nodes)),
		zap.Int("vm_models", len(p.vmModels)),
		zap.Int("horizon", p.horizon),
		zap.Int("variables", len(p.solver.Vars())),
	)
	return p, nil
}

// =============================================================================
// REQUEST
// =============================================================================

func (p *Problem) vmTargets(req Request) (map[string]target, []*domain.VirtualMachine, error) {
	targets := make(map[string]target)
	known := make(map[string]*domain.VirtualMachine)
	for _, vm := range p.source.AllVirtualMachines() {
		known[vm.Name] = vm
	}

	sets := []struct {
		vms []*domain.VirtualMachine
		t   target
	}{
		{req.Running, targetRunning},
		{req.Waiting, targetWaiting},
		{req.Sleeping, targetSleeping},
		{req.Terminated, targetTerminated},
	}
	for _, set := range sets {
		for _, vm := range set.vms {
			if prev, ok := targets[vm.Name]; ok && prev != set.t {
				return nil, nil, &RequestError{Element: vm.Name, Reason: fmt.Sprintf("required both %s and %s", prev, set.t)}
			}
			if p.source.Node(vm.Name) != nil {
				return nil, nil, &RequestError{Element: vm.Name, Reason: "name already used by a node"}
			}
			targets[vm.Name] = set.t
			if _, ok := known[vm.Name]; !ok {
				known[vm.Name] = vm
			}
		}
	}

	// unlisted VMs keep their state
	for name := range known {
		if _, ok := targets[name]; ok {
			continue
		}
		switch p.source.State(name) {
		case domain.VMStateRunning:
			targets[name] = targetRunning
		case domain.VMStateSleeping:
			targets[name] = targetSleeping
		default:
			targets[name] = targetWaiting
		}
	}

	names := make([]string, 0, len(known))
	for name := range known {
		names = append(names, name)
	}
	sort.Strings(names)
	vms := make([]*domain.VirtualMachine, len(names))
	for i, name := range names {
		vms[i] = known[name]
	}
	return targets, vms, nil
}

func (p *Problem) nodeTargets(req Request) (map[string][]int, error) {
	targets := make(map[string][]int)
	for _, n := range req.Online {
		if p.source.Node(n.Name) == nil {
			return nil, &RequestError{Element: n.Name, Reason: "unknown node"}
		}
		targets[n.Name] = []int{1}
	}
	for _, n := range req.Offline {
		if p.source.Node(n.Name) == nil {
			return nil, &RequestError{Element: n.Name, Reason: "unknown node"}
		}
		if _, ok := targets[n.Name]; ok {
			return nil, &RequestError{Element: n.Name, Reason: "required both online and offline"}
		}
		targets[n.Name] = []int{0}
	}
	// sleeping images stay on their node
	for _, vm := range p.source.AllSleepings() {
		host := p.source.Location(vm.Name).Name
		if t, ok := targets[host]; ok && t[0] == 0 {
			return nil, &RequestError{Element: host, Reason: fmt.Sprintf("hosts the sleeping virtual machine %s", vm.Name)}
		}
		targets[host] = []int{1}
	}
	for _, n := range p.nodes {
		if _, ok := targets[n.Name]; !ok {
			targets[n.Name] = []int{0, 1}
		}
	}
	return targets, nil
}

func (p *Problem) evaluate(durations DurationEvaluator, kind plan.Kind, e domain.ManagedElement) (int, error) {
	d, err := durations.Evaluate(kind, e)
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate the %s duration of %s: %w", kind, e.ElementName(), err)
	}
	return d, nil
}

// mandatory evaluates the duration of an action that must happen.
func (p *Problem) mandatory(durations DurationEvaluator, kind plan.Kind, e domain.ManagedElement) (int, error) {
	d, err := p.evaluate(durations, kind, e)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, &NoAvailableTransitionError{Element: e.ElementName(), Kind: kind, Duration: d}
	}
	return d, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (p *Problem) planNode(n *domain.Node, online []int, durations DurationEvaluator) (*pending, error) {
	idx := p.nodeIndex[n.Name]
	canChange := func(state int) bool {
		for _, v := range online {
			if v == state {
				return true
			}
		}
		return false
	}

	if p.source.IsOnline(n.Name) {
		d := 0
		if canChange(0) {
			var err error
			if d, err = p.mandatory(durations, plan.KindShutdown, n); err != nil {
				return nil, err
			}
		}
		return &pending{maxDuration: d, build: func() (ActionModel, error) {
			return p.newShutdownableNodeModel(n, idx, online, d), nil
		}}, nil
	}

	boot := 0
	if canChange(1) {
		var err error
		if boot, err = p.mandatory(durations, plan.KindStartup, n); err != nil {
			return nil, err
		}
	}
	if len(n.Platforms) == 0 {
		return &pending{maxDuration: boot, build: func() (ActionModel, error) {
			return p.newBootableNodeModel(n, idx, online, boot), nil
		}}, nil
	}
	deploy := 0
	if canChange(1) {
		var err error
		if deploy, err = p.mandatory(durations, plan.KindDeploy, n); err != nil {
			return nil, err
		}
	}
	return &pending{maxDuration: max(boot, deploy), build: func() (ActionModel, error) {
		return p.newDeployModel(n, idx, online, boot, deploy), nil
	}}, nil
}

func (p *Problem) planVM(vm *domain.VirtualMachine, t target, durations DurationEvaluator) (*pending, error) {
	state := p.source.State(vm.Name)
	var host *domain.Node
	if state == domain.VMStateRunning || state == domain.VMStateSleeping {
		host = p.source.Location(vm.Name)
		// the source profile is authoritative for known VMs
		vm = p.source.VirtualMachine(vm.Name)
	} else if state == domain.VMStateWaiting {
		vm = p.source.VirtualMachine(vm.Name)
	}

	invalid := func() (*pending, error) {
		return nil, &RequestError{Element: vm.Name, Reason: fmt.Sprintf("cannot go from %q to %s", state, t)}
	}

	switch state {
	case domain.VMStateUnknown, domain.VMStateWaiting:
		switch t {
		case targetWaiting:
			if state == domain.VMStateWaiting {
				p.staticWaiting = append(p.staticWaiting, vm)
				return nil, nil
			}
			d, err := p.mandatory(durations, plan.KindInstantiate, vm)
			if err != nil {
				return nil, err
			}
			return &pending{maxDuration: d, build: func() (ActionModel, error) {
				return p.newInstantiateModel(vm, d), nil
			}}, nil
		case targetRunning:
			run, err := p.mandatory(durations, plan.KindRun, vm)
			if err != nil {
				return nil, err
			}
			inst := 0
			if state == domain.VMStateUnknown {
				if inst, err = p.mandatory(durations, plan.KindInstantiate, vm); err != nil {
					return nil, err
				}
			}
			return &pending{maxDuration: run + inst, build: func() (ActionModel, error) {
				return p.newRunModel(vm, run, inst, state == domain.VMStateUnknown), nil
			}}, nil
		case targetTerminated:
			return nil, nil
		default:
			return invalid()
		}

	case domain.VMStateRunning:
		switch t {
		case targetRunning:
			return p.planRunning(vm, host, durations)
		case targetSleeping:
			d, err := p.mandatory(durations, plan.KindSuspend, vm)
			if err != nil {
				return nil, err
			}
			return &pending{maxDuration: d, build: func() (ActionModel, error) {
				return p.newSuspendModel(vm, host, d), nil
			}}, nil
		default:
			d, err := p.mandatory(durations, plan.KindStop, vm)
			if err != nil {
				return nil, err
			}
			return &pending{maxDuration: d, build: func() (ActionModel, error) {
				return p.newStopModel(vm, host, d, t == targetTerminated, true), nil
			}}, nil
		}

	case domain.VMStateSleeping:
		switch t {
		case targetSleeping:
			p.staticSleeping = append(p.staticSleeping, vm)
			return nil, nil
		case targetRunning:
			local, err := p.evaluate(durations, plan.KindResume, vm)
			if err != nil {
				return nil, err
			}
			remote, err := p.evaluate(durations, plan.KindRemoteResume, vm)
			if err != nil {
				return nil, err
			}
			if local <= 0 && remote <= 0 {
				return nil, &NoAvailableTransitionError{Element: vm.Name, Kind: plan.KindResume, Duration: max(local, remote)}
			}
			return &pending{maxDuration: max(local, remote), build: func() (ActionModel, error) {
				return p.newResumeModel(vm, host, local, remote), nil
			}}, nil
		default:
			d, err := p.mandatory(durations, plan.KindStop, vm)
			if err != nil {
				return nil, err
			}
			return &pending{maxDuration: d, build: func() (ActionModel, error) {
				return p.newStopModel(vm, host, d, t == targetTerminated, false), nil
			}}, nil
		}
	}
	return invalid()
}

func (p *Problem) planRunning(vm *domain.VirtualMachine, host *domain.Node, durations DurationEvaluator) (*pending, error) {
	if !vm.IsMigratable() && vm.ResizeRequired() {
		d, err := p.mandatory(durations, plan.KindRetype, vm)
		if err != nil {
			return nil, err
		}
		return &pending{maxDuration: d, build: func() (ActionModel, error) {
			return p.newRetypeModel(vm, host, d), nil
		}}, nil
	}

	if vm.IsMigratable() && vm.IsClonable() {
		var ds reInstantiateDurations
		var err error
		if ds.instantiate, err = p.evaluate(durations, plan.KindInstantiate, vm); err != nil {
			return nil, err
		}
		if ds.run, err = p.evaluate(durations, plan.KindRun, vm); err != nil {
			return nil, err
		}
		if ds.stop, err = p.evaluate(durations, plan.KindStop, vm); err != nil {
			return nil, err
		}
		if ds.rename, err = p.evaluate(durations, plan.KindRename, vm); err != nil {
			return nil, err
		}
		if ds.instantiate > 0 && ds.run > 0 && ds.stop > 0 && ds.rename > 0 {
			total := ds.instantiate + ds.run + ds.stop + ds.rename
			return &pending{maxDuration: total, build: func() (ActionModel, error) {
				return p.newReInstantiateModel(vm, host, ds)
			}}, nil
		}
	}

	d, err := p.evaluate(durations, plan.KindMigration, vm)
	if err != nil {
		return nil, err
	}
	pinned := !vm.IsMigratable() || d <= 0
	if pinned {
		d = 0
	}
	return &pending{maxDuration: d, build: func() (ActionModel, error) {
		return p.newMigrationModel(vm, host, d, pinned), nil
	}}, nil
}

// candidates returns the nodes that may host a VM at the end.
func (p *Problem) candidates(vm *domain.VirtualMachine) []int {
	var out []int
	for i, n := range p.nodes {
		if nm, ok := p.nodeByName[n.Name]; ok && nm.Online().Upper() == 0 {
			continue
		}
		if vm.HostingPlatform != "" {
			if _, deploy := p.nodeByName[n.Name].(*DeployModel); deploy {
				if !n.HasPlatform(vm.HostingPlatform) {
					continue
				}
			} else if n.CurrentPlatform != "" && n.CurrentPlatform != vm.HostingPlatform {
				continue
			}
		}
		out = append(out, i)
	}
	return out
}

// =============================================================================
// CONSTRAINTS
// =============================================================================

// postHostingConstraints forbids VMs on nodes that are offline at the end,
// and selects the platform of deployed nodes.
func (p *Problem) postHostingConstraints() {
	for _, m := range p.vmModels {
		// a suspended image stays on its node
		if sm, ok := m.(*SuspendModel); ok {
			p.solver.Eq([]solver.Term{solver.T(1, p.nodeByName[sm.Host.Name].Online())}, 1)
		}
		ds := m.DemandingSlice()
		if ds == nil {
			continue
		}
		vm := m.Element().(*domain.VirtualMachine)
		for _, idx := range ds.Hoster.Values() {
			nm := p.nodeModels[idx]
			if nm.Online().Lower() == 0 {
				p.solver.Implies(solver.Is(nm.Online(), 0), solver.IsNot(ds.Hoster, idx))
			}
			if dm, ok := nm.(*DeployModel); ok && vm.HostingPlatform != "" {
				if pi, ok := dm.PlatformIndex(vm.HostingPlatform); ok {
					p.solver.Implies(solver.Is(ds.Hoster, idx), solver.Is(dm.Platform, pi))
				}
			}
		}
	}
}

// postCapacityConstraints posts one bin packing over the final placement and
// one timetable over every slice, per resource.
func (p *Problem) postCapacityConstraints() {
	cpuCaps := make([]int, len(p.nodes))
	memCaps := make([]int, len(p.nodes))
	cpuLoads := make([]*solver.IntVar, len(p.nodes))
	memLoads := make([]*solver.IntVar, len(p.nodes))
	for i, n := range p.nodes {
		cpuCaps[i], memCaps[i] = n.CPUCapacity, n.MemoryCapacity
		cpuLoads[i] = p.solver.NewIntVar(n.Name+".cpuLoad", 0, n.CPUCapacity)
		memLoads[i] = p.solver.NewIntVar(n.Name+".memLoad", 0, n.MemoryCapacity)
	}

	var cpuItems, memItems []packing.Item
	var cpuTasks, memTasks []packing.Task
	for _, sl := range p.slices {
		if sl.Kind == Demanding && !sl.node {
			cpuItems = append(cpuItems, packing.Item{Height: sl.CPU, Bin: sl.Hoster})
			memItems = append(memItems, packing.Item{Height: sl.Memory, Bin: sl.Hoster})
		}
		cpuTasks = append(cpuTasks, packing.Task{Start: sl.Start, End: sl.End, Height: sl.CPU, Host: sl.Hoster})
		memTasks = append(memTasks, packing.Task{Start: sl.Start, End: sl.End, Height: sl.Memory, Host: sl.Hoster})
	}

	p.cpuPacking = packing.NewBinPacking("cpu", cpuLoads, cpuItems)
	p.memPacking = packing.NewBinPacking("memory", memLoads, memItems)
	p.cpuTimeline = packing.NewSliceScheduling("cpu", cpuCaps, p.horizon, cpuTasks)
	p.memTimeline = packing.NewSliceScheduling("memory", memCaps, p.horizon, memTasks)
	p.solver.Post(p.cpuPacking)
	p.solver.Post(p.memPacking)
	p.solver.Post(p.cpuTimeline)
	p.solver.Post(p.memTimeline)
}

func (p *Problem) postObjective() {
	terms := []solver.Term{}
	upper := 0
	for _, m := range p.allModels() {
		terms = append(terms, solver.T(-1, m.Cost()))
		upper += m.Cost().Upper()
	}
	p.objective = p.solver.NewIntVar("objective", 0, upper)
	p.solver.Eq(append([]solver.Term{solver.T(1, p.objective)}, terms...), 0)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Solver returns the solver the problem is posted on.
func (p *Problem) Solver() *solver.Solver { return p.solver }

// Source returns the source configuration.
func (p *Problem) Source() *domain.Configuration { return p.source }

// Horizon returns the end of the timeline.
func (p *Problem) Horizon() int { return p.horizon }

// Objective returns the sum of the costs of every model.
func (p *Problem) Objective() *solver.IntVar { return p.objective }

// Nodes returns the nodes, indexed as in hoster variables.
func (p *Problem) Nodes() []*domain.Node { return p.nodes }

// NodeIndex returns the index of a node in hoster variables.
func (p *Problem) NodeIndex(name string) (int, bool) {
	i, ok := p.nodeIndex[name]
	return i, ok
}

// VMModels returns the models of the VMs, sorted by VM name.
func (p *Problem) VMModels() []ActionModel { return p.vmModels }

// NodeModels returns the models of the nodes, indexed as in hoster variables.
func (p *Problem) NodeModels() []NodeModel { return p.nodeModels }

// VMModel returns the model of a VM, or nil when the VM has no action.
func (p *Problem) VMModel(name string) ActionModel { return p.vmByName[name] }

// NodeModel returns the model of a node.
func (p *Problem) NodeModel(name string) NodeModel { return p.nodeByName[name] }

// Hoster returns the variable holding the final node of a VM, or nil when
// the VM is not running at the end.
func (p *Problem) Hoster(vmName string) *solver.IntVar {
	m, ok := p.vmByName[vmName]
	if !ok || m.DemandingSlice() == nil {
		return nil
	}
	return m.DemandingSlice().Hoster
}

// CurrentHost returns the index of the node currently hosting a VM.
func (p *Problem) CurrentHost(vmName string) (int, bool) {
	n := p.source.Location(vmName)
	if n == nil {
		return 0, false
	}
	return p.NodeIndex(n.Name)
}

// Packings returns the CPU and memory bin packing constraints.
func (p *Problem) Packings() (cpu, memory *packing.BinPacking) {
	return p.cpuPacking, p.memPacking
}

// Slices returns every slice of the problem.
func (p *Problem) Slices() []*Slice { return p.slices }

func (p *Problem) allModels() []ActionModel {
	out := make([]ActionModel, 0, len(p.nodeModels)+len(p.vmModels))
	for _, m := range p.nodeModels {
		out = append(out, m)
	}
	return append(out, p.vmModels...)
}
