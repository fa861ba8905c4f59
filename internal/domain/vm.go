package domain

// Options understood by the planner.
const (
	// OptionMigratable set to "false" pins a running VM on its node.
	OptionMigratable = "migratable"
	// OptionClonable set to "false" prevents re-instantiation of a VM built
	// from a template.
	OptionClonable = "clonable"
)

// VirtualMachine represents a virtual machine and its resource profile.
//
// Consumption is what the VM uses now; demand is what it will require once
// the cluster is reconfigured. Demand defaults to consumption.
type VirtualMachine struct {
	Name     string `json:"name"`
	NbOfCPUs int    `json:"nb_of_cpus"`

	CPUConsumption    int `json:"cpu_consumption"`
	MemoryConsumption int `json:"memory_consumption"`
	CPUDemand         int `json:"cpu_demand"`
	MemoryDemand      int `json:"memory_demand"`

	HostingPlatform string            `json:"hosting_platform,omitempty"`
	Template        string            `json:"template,omitempty"`
	Options         map[string]string `json:"options,omitempty"`
}

// NewVirtualMachine creates a VM whose demand equals its consumption.
func NewVirtualMachine(name string, nbOfCPUs, cpuConsumption, memoryConsumption int) *VirtualMachine {
	return &VirtualMachine{
		Name:              name,
		NbOfCPUs:          nbOfCPUs,
		CPUConsumption:    cpuConsumption,
		MemoryConsumption: memoryConsumption,
		CPUDemand:         cpuConsumption,
		MemoryDemand:      memoryConsumption,
	}
}

// ElementKind implements ManagedElement.
func (vm *VirtualMachine) ElementKind() ElementKind { return ElementKindVirtualMachine }

// ElementName implements ManagedElement.
func (vm *VirtualMachine) ElementName() string { return vm.Name }

// Option returns the value of an option, or "" when unset.
func (vm *VirtualMachine) Option(key string) string {
	return vm.Options[key]
}

// SetOption sets a free-form option.
func (vm *VirtualMachine) SetOption(key, value string) {
	if vm.Options == nil {
		vm.Options = make(map[string]string)
	}
	vm.Options[key] = value
}

// IsMigratable returns false when the VM is pinned on its node.
func (vm *VirtualMachine) IsMigratable() bool {
	return vm.Options[OptionMigratable] != "false"
}

// IsClonable returns true if the VM can be re-instantiated from its template
// instead of being live migrated.
func (vm *VirtualMachine) IsClonable() bool {
	return vm.Template != "" && vm.Options[OptionClonable] != "false"
}

// ResizeRequired returns true if the demand differs from the consumption.
func (vm *VirtualMachine) ResizeRequired() bool {
	return vm.CPUDemand != vm.CPUConsumption || vm.MemoryDemand != vm.MemoryConsumption
}

// Clone returns a deep copy of the VM.
func (vm *VirtualMachine) Clone() *VirtualMachine {
	if vm == nil {
		return nil
	}
	clone := *vm
	if vm.Options != nil {
		clone.Options = make(map[string]string, len(vm.Options))
		for k, v := range vm.Options {
			clone.Options[k] = v
		}
	}
	return &clone
}

func (vm *VirtualMachine) String() string {
	return vm.Name
}
