package domain

import (
	"fmt"
	"sort"
)

// ElementKind discriminates the two kinds of managed elements.
type ElementKind string

const (
	ElementKindNode           ElementKind = "node"
	ElementKindVirtualMachine ElementKind = "vm"
)

// ManagedElement is a node or a virtual machine: the unit on which
// execution dependencies are tracked.
type ManagedElement interface {
	ElementKind() ElementKind
	ElementName() string
}

// ElementKey identifies a managed element independently of the pointer
// holding it.
type ElementKey struct {
	Kind ElementKind
	Name string
}

// KeyOf returns the key of an element.
func KeyOf(e ManagedElement) ElementKey {
	return ElementKey{Kind: e.ElementKind(), Name: e.ElementName()}
}

func (k ElementKey) String() string {
	return fmt.Sprintf("%s/%s", k.Kind, k.Name)
}

// Node represents a physical hypervisor host.
type Node struct {
	Name           string `json:"name"`
	CPUCapacity    int    `json:"cpu_capacity"`
	MemoryCapacity int    `json:"memory_capacity"`

	// Address is used by drivers to reach the node (SSH).
	Address string `json:"address,omitempty"`
	// MACAddress is used by the wake-on-LAN startup driver.
	MACAddress string `json:"mac_address,omitempty"`

	// Platforms lists the deployable OS images with their options.
	Platforms       map[string]map[string]string `json:"platforms,omitempty"`
	CurrentPlatform string                       `json:"current_platform,omitempty"`
}

// NewNode creates a node with the given capacities.
func NewNode(name string, cpuCapacity, memoryCapacity int) *Node {
	return &Node{
		Name:           name,
		CPUCapacity:    cpuCapacity,
		MemoryCapacity: memoryCapacity,
	}
}

// ElementKind implements ManagedElement.
func (n *Node) ElementKind() ElementKind { return ElementKindNode }

// ElementName implements ManagedElement.
func (n *Node) ElementName() string { return n.Name }

// AddPlatform registers a deployable platform on the node.
func (n *Node) AddPlatform(name string, options map[string]string) {
	if n.Platforms == nil {
		n.Platforms = make(map[string]map[string]string)
	}
	n.Platforms[name] = options
}

// HasPlatform returns true if the platform can be deployed on the node.
func (n *Node) HasPlatform(name string) bool {
	_, ok := n.Platforms[name]
	return ok
}

// PlatformNames returns the available platforms, sorted by name.
func (n *Node) PlatformNames() []string {
	names := make([]string, 0, len(n.Platforms))
	for name := range n.Platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CanHost returns true if a VM requiring the given platform may run on the
// node once it is up. An empty platform matches any node.
func (n *Node) CanHost(platform string) bool {
	if platform == "" {
		return true
	}
	if n.CurrentPlatform == platform {
		return true
	}
	return n.HasPlatform(platform)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	clone := *n
	if n.Platforms != nil {
		clone.Platforms = make(map[string]map[string]string, len(n.Platforms))
		for name, opts := range n.Platforms {
			var copied map[string]string
			if opts != nil {
				copied = make(map[string]string, len(opts))
				for k, v := range opts {
					copied[k] = v
				}
			}
			clone.Platforms[name] = copied
		}
	}
	return &clone
}

func (n *Node) String() string {
	return n.Name
}
