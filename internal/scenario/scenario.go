// Package scenario loads a reconfiguration request from a YAML document: the
// source configuration, the required states and the placement constraints.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/placement"
	"github.com/limiquantix/replanner/internal/planner"
)

// Node states.
const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// VM states. StateAbsent declares a VM that is not in the source
// configuration yet, usually to require it running.
const (
	StateRunning  = "running"
	StateSleeping = "sleeping"
	StateWaiting  = "waiting"
	StateAbsent   = "absent"
)

// Document is the YAML layout of a scenario.
type Document struct {
	Nodes        []NodeSpec            `yaml:"nodes"`
	VMs          []VMSpec              `yaml:"vms"`
	Requirements Requirements          `yaml:"requirements"`
	Constraints  []ConstraintSpec      `yaml:"constraints"`
	Partitions   []placement.Partition `yaml:"partitions"`
}

// NodeSpec describes a node of the source configuration.
type NodeSpec struct {
	Name            string                       `yaml:"name"`
	CPU             int                          `yaml:"cpu"`
	Memory          int                          `yaml:"memory"`
	State           string                       `yaml:"state"`
	Address         string                       `yaml:"address"`
	MAC             string                       `yaml:"mac"`
	Platforms       map[string]map[string]string `yaml:"platforms"`
	CurrentPlatform string                       `yaml:"current_platform"`
}

// VMSpec describes a VM. Demands default to the consumptions.
type VMSpec struct {
	Name         string            `yaml:"name"`
	CPUs         int               `yaml:"cpus"`
	CPU          int               `yaml:"cpu"`
	Memory       int               `yaml:"memory"`
	CPUDemand    *int              `yaml:"cpu_demand"`
	MemoryDemand *int              `yaml:"memory_demand"`
	State        string            `yaml:"state"`
	Host         string            `yaml:"host"`
	Template     string            `yaml:"template"`
	Platform     string            `yaml:"platform"`
	Options      map[string]string `yaml:"options"`
}

// Requirements name the elements whose state is required at the end.
type Requirements struct {
	Running    []string `yaml:"running"`
	Waiting    []string `yaml:"waiting"`
	Sleeping   []string `yaml:"sleeping"`
	Terminated []string `yaml:"terminated"`
	Online     []string `yaml:"online"`
	Offline    []string `yaml:"offline"`
}

// ConstraintSpec describes a placement constraint. Type is one of fence,
// ban, spread, gather, root, lonely and capacity.
type ConstraintSpec struct {
	Type  string   `yaml:"type"`
	VMs   []string `yaml:"vms"`
	Nodes []string `yaml:"nodes"`
	Max   int      `yaml:"max"`
}

// Scenario is a decoded document.
type Scenario struct {
	Source      *domain.Configuration
	Request     planner.Request
	Constraints []placement.Constraint
	Partitions  []placement.Partition
}

// LoadFile reads a scenario from a file.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a scenario. Unknown fields are rejected.
func Parse(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to decode scenario: %v", domain.ErrInvalidArgument, err)
	}
	return doc.Build()
}

// Build converts the document into a source configuration, a request and
// constraints.
func (d *Document) Build() (*Scenario, error) {
	src := domain.NewConfiguration()
	nodes := make(map[string]*domain.Node, len(d.Nodes))
	for _, spec := range d.Nodes {
		n := domain.NewNode(spec.Name, spec.CPU, spec.Memory)
		n.Address = spec.Address
		n.MACAddress = spec.MAC
		n.CurrentPlatform = spec.CurrentPlatform
		for name, options := range spec.Platforms {
			n.AddPlatform(name, options)
		}
		var err error
		switch spec.State {
		case StateOnline, "":
			err = src.AddOnline(n)
		case StateOffline:
			err = src.AddOffline(n)
		default:
			err = fmt.Errorf("%w: unknown state %q for node %s", domain.ErrInvalidArgument, spec.State, spec.Name)
		}
		if err != nil {
			return nil, err
		}
		nodes[n.Name] = n
	}

	vms := make(map[string]*domain.VirtualMachine, len(d.VMs))
	for _, spec := range d.VMs {
		cpus := spec.CPUs
		if cpus == 0 {
			cpus = 1
		}
		vm := domain.NewVirtualMachine(spec.Name, cpus, spec.CPU, spec.Memory)
		if spec.CPUDemand != nil {
			vm.CPUDemand = *spec.CPUDemand
		}
		if spec.MemoryDemand != nil {
			vm.MemoryDemand = *spec.MemoryDemand
		}
		vm.Template = spec.Template
		vm.HostingPlatform = spec.Platform
		for k, v := range spec.Options {
			vm.SetOption(k, v)
		}

		var err error
		if (spec.State == StateRunning || spec.State == "" || spec.State == StateSleeping) && nodes[spec.Host] == nil {
			return nil, fmt.Errorf("%w: unknown node %q hosting %s", domain.ErrNotFound, spec.Host, spec.Name)
		}
		switch spec.State {
		case StateRunning, "":
			err = src.SetRunOn(vm, spec.Host)
		case StateSleeping:
			err = src.SetSleepOn(vm, spec.Host)
		case StateWaiting:
			err = src.AddWaiting(vm)
		case StateAbsent:
		default:
			err = fmt.Errorf("%w: unknown state %q for VM %s", domain.ErrInvalidArgument, spec.State, spec.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to place %s: %w", spec.Name, err)
		}
		vms[vm.Name] = vm
	}

	req, err := d.Requirements.build(nodes, vms)
	if err != nil {
		return nil, err
	}
	// an absent VM nobody requires would be silently ignored
	required := make(map[string]bool)
	for _, list := range [][]string{d.Requirements.Running, d.Requirements.Waiting, d.Requirements.Sleeping, d.Requirements.Terminated} {
		for _, name := range list {
			required[name] = true
		}
	}
	for _, spec := range d.VMs {
		if spec.State == StateAbsent && !required[spec.Name] {
			return nil, fmt.Errorf("%w: absent VM %s has no required state", domain.ErrInvalidArgument, spec.Name)
		}
	}

	constraints := make([]placement.Constraint, 0, len(d.Constraints))
	for i, spec := range d.Constraints {
		c, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("constraint #%d: %w", i, err)
		}
		constraints = append(constraints, c)
	}

	return &Scenario{
		Source:      src,
		Request:     req,
		Constraints: constraints,
		Partitions:  d.Partitions,
	}, nil
}

func (r Requirements) build(nodes map[string]*domain.Node, vms map[string]*domain.VirtualMachine) (planner.Request, error) {
	var req planner.Request
	lookupVMs := func(names []string) ([]*domain.VirtualMachine, error) {
		out := make([]*domain.VirtualMachine, 0, len(names))
		for _, name := range names {
			vm, ok := vms[name]
			if !ok {
				return nil, fmt.Errorf("%w: unknown VM %s in requirements", domain.ErrNotFound, name)
			}
			out = append(out, vm)
		}
		return out, nil
	}
	lookupNodes := func(names []string) ([]*domain.Node, error) {
		out := make([]*domain.Node, 0, len(names))
		for _, name := range names {
			n, ok := nodes[name]
			if !ok {
				return nil, fmt.Errorf("%w: unknown node %s in requirements", domain.ErrNotFound, name)
			}
			out = append(out, n)
		}
		return out, nil
	}

	var err error
	if req.Running, err = lookupVMs(r.Running); err != nil {
		return req, err
	}
	if req.Waiting, err = lookupVMs(r.Waiting); err != nil {
		return req, err
	}
	if req.Sleeping, err = lookupVMs(r.Sleeping); err != nil {
		return req, err
	}
	if req.Terminated, err = lookupVMs(r.Terminated); err != nil {
		return req, err
	}
	if req.Online, err = lookupNodes(r.Online); err != nil {
		return req, err
	}
	if req.Offline, err = lookupNodes(r.Offline); err != nil {
		return req, err
	}

	return req, nil
}

func (c ConstraintSpec) build() (placement.Constraint, error) {
	vms := append([]string(nil), c.VMs...)
	nodes := append([]string(nil), c.Nodes...)
	sort.Strings(vms)
	sort.Strings(nodes)

	switch c.Type {
	case "fence":
		return &placement.Fence{VMs: vms, Nodes: nodes}, nil
	case "ban":
		return &placement.Ban{VMs: vms, Nodes: nodes}, nil
	case "spread":
		return &placement.Spread{VMs: vms}, nil
	case "gather":
		return &placement.Gather{VMs: vms}, nil
	case "root":
		return &placement.Root{VMs: vms}, nil
	case "lonely":
		return &placement.Lonely{VMs: vms}, nil
	case "capacity":
		if c.Max < 0 {
			return nil, fmt.Errorf("%w: negative capacity %d", domain.ErrInvalidArgument, c.Max)
		}
		return &placement.Capacity{Nodes: nodes, Max: c.Max}, nil
	default:
		return nil, fmt.Errorf("%w: unknown constraint type %q", domain.ErrInvalidArgument, c.Type)
	}
}
