package domain

import (
	"fmt"
	"sort"
	"strings"
)

// VMState is the state of a virtual machine inside a Configuration.
type VMState string

const (
	VMStateUnknown  VMState = ""
	VMStateRunning  VMState = "running"
	VMStateSleeping VMState = "sleeping"
	VMStateWaiting  VMState = "waiting"
)

// NodeState is the lifecycle state of a node inside a Configuration.
type NodeState string

const (
	NodeStateUnknown NodeState = ""
	NodeStateOnline  NodeState = "online"
	NodeStateOffline NodeState = "offline"
)

// Configuration is a snapshot of the cluster: every known VM is running on a
// node, sleeping on a node or waiting, and every known node is online or
// offline. The host of a running or sleeping VM is always online.
//
// A Configuration is not safe for concurrent use. Accessors returning lists
// are sorted by name so that callers never depend on map iteration order.
type Configuration struct {
	nodes     map[string]*Node
	nodeState map[string]NodeState

	vms      map[string]*VirtualMachine
	vmState  map[string]VMState
	location map[string]string
}

// NewConfiguration creates an empty configuration.
func NewConfiguration() *Configuration {
	return &Configuration{
		nodes:     make(map[string]*Node),
		nodeState: make(map[string]NodeState),
		vms:       make(map[string]*VirtualMachine),
		vmState:   make(map[string]VMState),
		location:  make(map[string]string),
	}
}

// =============================================================================
// NODES
// =============================================================================

// AddOnline sets a node online, adding it when unknown.
func (c *Configuration) AddOnline(n *Node) error {
	if n == nil || n.Name == "" {
		return fmt.Errorf("node name is required: %w", ErrInvalidArgument)
	}
	if _, ok := c.vms[n.Name]; ok {
		return fmt.Errorf("name %s already used by a virtual machine: %w", n.Name, ErrAlreadyExists)
	}
	c.nodes[n.Name] = n
	c.nodeState[n.Name] = NodeStateOnline
	return nil
}

// AddOffline sets a node offline, adding it when unknown. A node still
// hosting virtual machines cannot be set offline.
func (c *Configuration) AddOffline(n *Node) error {
	if n == nil || n.Name == "" {
		return fmt.Errorf("node name is required: %w", ErrInvalidArgument)
	}
	if _, ok := c.vms[n.Name]; ok {
		return fmt.Errorf("name %s already used by a virtual machine: %w", n.Name, ErrAlreadyExists)
	}
	if c.nodeState[n.Name] == NodeStateOnline && c.hostsAny(n.Name) {
		return fmt.Errorf("node %s still hosts virtual machines: %w", n.Name, ErrConflict)
	}
	c.nodes[n.Name] = n
	c.nodeState[n.Name] = NodeStateOffline
	return nil
}

// RemoveNode forgets an empty node.
func (c *Configuration) RemoveNode(name string) error {
	if _, ok := c.nodes[name]; !ok {
		return fmt.Errorf("node %s: %w", name, ErrNotFound)
	}
	if c.hostsAny(name) {
		return fmt.Errorf("node %s still hosts virtual machines: %w", name, ErrConflict)
	}
	delete(c.nodes, name)
	delete(c.nodeState, name)
	return nil
}

func (c *Configuration) hostsAny(node string) bool {
	for _, host := range c.location {
		if host == node {
			return true
		}
	}
	return false
}

// Node returns a node by name, or nil.
func (c *Configuration) Node(name string) *Node {
	return c.nodes[name]
}

// NodeState returns the state of a node.
func (c *Configuration) NodeState(name string) NodeState {
	return c.nodeState[name]
}

// IsOnline returns true if the node is online.
func (c *Configuration) IsOnline(name string) bool {
	return c.nodeState[name] == NodeStateOnline
}

// IsOffline returns true if the node is offline.
func (c *Configuration) IsOffline(name string) bool {
	return c.nodeState[name] == NodeStateOffline
}

// AllNodes returns every node, sorted by name.
func (c *Configuration) AllNodes() []*Node {
	return c.sortedNodes(func(string) bool { return true })
}

// Onlines returns the online nodes, sorted by name.
func (c *Configuration) Onlines() []*Node {
	return c.sortedNodes(c.IsOnline)
}

// Offlines returns the offline nodes, sorted by name.
func (c *Configuration) Offlines() []*Node {
	return c.sortedNodes(c.IsOffline)
}

func (c *Configuration) sortedNodes(keep func(string) bool) []*Node {
	names := make([]string, 0, len(c.nodes))
	for name := range c.nodes {
		if keep(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]*Node, len(names))
	for i, name := range names {
		out[i] = c.nodes[name]
	}
	return out
}

// =============================================================================
// VIRTUAL MACHINES
// =============================================================================

// SetRunOn sets a VM running on an online node, adding it when unknown.
func (c *Configuration) SetRunOn(vm *VirtualMachine, node string) error {
	return c.place(vm, node, VMStateRunning)
}

// SetSleepOn sets a VM sleeping on an online node, adding it when unknown.
func (c *Configuration) SetSleepOn(vm *VirtualMachine, node string) error {
	return c.place(vm, node, VMStateSleeping)
}

func (c *Configuration) place(vm *VirtualMachine, node string, state VMState) error {
	if err := c.checkVM(vm); err != nil {
		return err
	}
	if !c.IsOnline(node) {
		return fmt.Errorf("cannot host %s on node %s that is not online: %w", vm.Name, node, ErrConflict)
	}
	c.vms[vm.Name] = vm
	c.vmState[vm.Name] = state
	c.location[vm.Name] = node
	return nil
}

// AddWaiting sets a VM waiting, adding it when unknown.
func (c *Configuration) AddWaiting(vm *VirtualMachine) error {
	if err := c.checkVM(vm); err != nil {
		return err
	}
	c.vms[vm.Name] = vm
	c.vmState[vm.Name] = VMStateWaiting
	delete(c.location, vm.Name)
	return nil
}

func (c *Configuration) checkVM(vm *VirtualMachine) error {
	if vm == nil || vm.Name == "" {
		return fmt.Errorf("virtual machine name is required: %w", ErrInvalidArgument)
	}
	if _, ok := c.nodes[vm.Name]; ok {
		return fmt.Errorf("name %s already used by a node: %w", vm.Name, ErrAlreadyExists)
	}
	return nil
}

// Remove forgets a VM. It returns false if the VM was unknown.
func (c *Configuration) Remove(name string) bool {
	if _, ok := c.vms[name]; !ok {
		return false
	}
	delete(c.vms, name)
	delete(c.vmState, name)
	delete(c.location, name)
	return true
}

// Rename replaces the identity of a VM. The VM keeps its state and location.
func (c *Configuration) Rename(oldName, newName string) error {
	vm, ok := c.vms[oldName]
	if !ok {
		return fmt.Errorf("virtual machine %s: %w", oldName, ErrNotFound)
	}
	if oldName == newName {
		return nil
	}
	if _, exists := c.vms[newName]; exists {
		return fmt.Errorf("virtual machine %s: %w", newName, ErrAlreadyExists)
	}
	if _, exists := c.nodes[newName]; exists {
		return fmt.Errorf("name %s already used by a node: %w", newName, ErrAlreadyExists)
	}
	state, host := c.vmState[oldName], c.location[oldName]
	c.Remove(oldName)

	renamed := vm.Clone()
	renamed.Name = newName
	c.vms[newName] = renamed
	c.vmState[newName] = state
	if host != "" {
		c.location[newName] = host
	}
	return nil
}

// VirtualMachine returns a VM by name, or nil.
func (c *Configuration) VirtualMachine(name string) *VirtualMachine {
	return c.vms[name]
}

// Contains returns true if the VM is known.
func (c *Configuration) Contains(name string) bool {
	_, ok := c.vms[name]
	return ok
}

// State returns the state of a VM.
func (c *Configuration) State(name string) VMState {
	return c.vmState[name]
}

// IsRunning returns true if the VM is running.
func (c *Configuration) IsRunning(name string) bool {
	return c.vmState[name] == VMStateRunning
}

// IsSleeping returns true if the VM is sleeping.
func (c *Configuration) IsSleeping(name string) bool {
	return c.vmState[name] == VMStateSleeping
}

// IsWaiting returns true if the VM is waiting.
func (c *Configuration) IsWaiting(name string) bool {
	return c.vmState[name] == VMStateWaiting
}

// Location returns the node hosting a running or sleeping VM, or nil.
func (c *Configuration) Location(name string) *Node {
	host, ok := c.location[name]
	if !ok {
		return nil
	}
	return c.nodes[host]
}

// Runnings returns the VMs running on a node, sorted by name.
func (c *Configuration) Runnings(node string) []*VirtualMachine {
	return c.sortedVMs(func(name string) bool {
		return c.vmState[name] == VMStateRunning && c.location[name] == node
	})
}

// Sleepings returns the VMs sleeping on a node, sorted by name.
func (c *Configuration) Sleepings(node string) []*VirtualMachine {
	return c.sortedVMs(func(name string) bool {
		return c.vmState[name] == VMStateSleeping && c.location[name] == node
	})
}

// AllRunnings returns every running VM, sorted by name.
func (c *Configuration) AllRunnings() []*VirtualMachine {
	return c.sortedVMs(c.IsRunning)
}

// AllSleepings returns every sleeping VM, sorted by name.
func (c *Configuration) AllSleepings() []*VirtualMachine {
	return c.sortedVMs(c.IsSleeping)
}

// AllWaitings returns every waiting VM, sorted by name.
func (c *Configuration) AllWaitings() []*VirtualMachine {
	return c.sortedVMs(c.IsWaiting)
}

// AllVirtualMachines returns every VM, sorted by name.
func (c *Configuration) AllVirtualMachines() []*VirtualMachine {
	return c.sortedVMs(func(string) bool { return true })
}

func (c *Configuration) sortedVMs(keep func(string) bool) []*VirtualMachine {
	names := make([]string, 0, len(c.vms))
	for name := range c.vms {
		if keep(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]*VirtualMachine, len(names))
	for i, name := range names {
		out[i] = c.vms[name]
	}
	return out
}

// =============================================================================
// CAPACITY
// =============================================================================

// Load returns the CPU and memory demand of the VMs running on a node.
func (c *Configuration) Load(node string) (cpu, memory int) {
	for _, vm := range c.Runnings(node) {
		cpu += vm.CPUDemand
		memory += vm.MemoryDemand
	}
	return cpu, memory
}

// Overloaded returns the online nodes whose running VMs demand more than
// their capacity, sorted by name.
func (c *Configuration) Overloaded() []*Node {
	var out []*Node
	for _, n := range c.Onlines() {
		cpu, mem := c.Load(n.Name)
		if cpu > n.CPUCapacity || mem > n.MemoryCapacity {
			out = append(out, n)
		}
	}
	return out
}

// IsViable returns true if no node is overloaded.
func (c *Configuration) IsViable() bool {
	return len(c.Overloaded()) == 0
}

// =============================================================================
// COPY
// =============================================================================

// Clone returns a deep copy: nodes and VMs are copied too.
func (c *Configuration) Clone() *Configuration {
	out := NewConfiguration()
	for name, n := range c.nodes {
		out.nodes[name] = n.Clone()
		out.nodeState[name] = c.nodeState[name]
	}
	for name, vm := range c.vms {
		out.vms[name] = vm.Clone()
		out.vmState[name] = c.vmState[name]
	}
	for name, host := range c.location {
		out.location[name] = host
	}
	return out
}

// Equal returns true if both configurations hold the same elements in the
// same states.
func (c *Configuration) Equal(o *Configuration) bool {
	if len(c.nodes) != len(o.nodes) || len(c.vms) != len(o.vms) {
		return false
	}
	for name, state := range c.nodeState {
		if o.nodeState[name] != state {
			return false
		}
	}
	for name, state := range c.vmState {
		if o.vmState[name] != state || o.location[name] != c.location[name] {
			return false
		}
	}
	return true
}

func (c *Configuration) String() string {
	var b strings.Builder
	for _, n := range c.AllNodes() {
		if c.IsOffline(n.Name) {
			fmt.Fprintf(&b, "(%s)\n", n.Name)
			continue
		}
		fmt.Fprintf(&b, "%s:", n.Name)
		for _, vm := range c.Runnings(n.Name) {
			fmt.Fprintf(&b, " %s", vm.Name)
		}
		for _, vm := range c.Sleepings(n.Name) {
			fmt.Fprintf(&b, " (%s)", vm.Name)
		}
		b.WriteString("\n")
	}
	if waitings := c.AllWaitings(); len(waitings) > 0 {
		b.WriteString("FARM")
		for _, vm := range waitings {
			fmt.Fprintf(&b, " %s", vm.Name)
		}
		b.WriteString("\n")
	}
	return b.String()
}
