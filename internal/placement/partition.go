package placement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/model"
)

// Partition is a fixed group of nodes. Running VMs stay in the partition of
// their node.
type Partition struct {
	Name  string   `yaml:"name" json:"name"`
	Nodes []string `yaml:"nodes" json:"nodes"`
}

// PartitioningError is returned when a constraint refers to elements of
// several partitions.
type PartitioningError struct {
	Constraint string
	Elements   []string
	Partitions []string
}

func (e *PartitioningError) Error() string {
	return fmt.Sprintf("constraint %s spans partitions %s through %s",
		e.Constraint, strings.Join(e.Partitions, ", "), strings.Join(e.Elements, ", "))
}

// Partitioning is the result of the partitioning pre-pass.
type Partitioning struct {
	partitions []Partition
	nodeOf     map[string]int
	vmOf       map[string]int

	// Groups lists the VMs linked by constraints, largest groups first.
	Groups [][]string
}

// NewPartitioning checks that no constraint straddles two partitions and groups
// the VMs linked by constraints. VMs inherit the partition of their current
// node. Nodes of no partition, and VMs that are not placed, are free.
func NewPartitioning(src *domain.Configuration, partitions []Partition, constraints []Constraint) (*Partitioning, error) {
	pt := &Partitioning{
		partitions: partitions,
		nodeOf:     make(map[string]int),
		vmOf:       make(map[string]int),
	}
	for i, part := range partitions {
		for _, n := range part.Nodes {
			if prev, ok := pt.nodeOf[n]; ok && prev != i {
				return nil, fmt.Errorf("node %s belongs to partitions %s and %s: %w",
					n, partitions[prev].Name, part.Name, domain.ErrConflict)
			}
			if src.Node(n) == nil {
				return nil, fmt.Errorf("node %s of partition %s: %w", n, part.Name, domain.ErrNotFound)
			}
			pt.nodeOf[n] = i
		}
	}
	for _, vm := range src.AllVirtualMachines() {
		if host := src.Location(vm.Name); host != nil {
			if i, ok := pt.nodeOf[host.Name]; ok {
				pt.vmOf[vm.Name] = i
			}
		}
	}

	uf := newUnionFind()
	for _, c := range constraints {
		vms, nodes := c.Scope()
		if err := pt.check(c, vms, nodes); err != nil {
			return nil, err
		}
		for i := 1; i < len(vms); i++ {
			uf.union(vms[0], vms[i])
		}
		for _, vm := range vms {
			uf.find(vm)
		}
	}
	pt.Groups = uf.groups()
	return pt, nil
}

func (pt *Partitioning) check(c Constraint, vms, nodes []string) error {
	seen := make(map[int][]string)
	for _, n := range nodes {
		if i, ok := pt.nodeOf[n]; ok {
			seen[i] = append(seen[i], n)
		}
	}
	for _, vm := range vms {
		if i, ok := pt.vmOf[vm]; ok {
			seen[i] = append(seen[i], vm)
		}
	}
	if len(seen) <= 1 {
		return nil
	}
	idx := make([]int, 0, len(seen))
	for i := range seen {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	err := &PartitioningError{Constraint: c.Name()}
	for _, i := range idx {
		err.Partitions = append(err.Partitions, pt.partitions[i].Name)
		err.Elements = append(err.Elements, seen[i]...)
	}
	return err
}

// Inject keeps the running VMs of every partition on its nodes.
func (pt *Partitioning) Inject(p *model.Problem) error {
	byPartition := make(map[int][]string)
	for vm, i := range pt.vmOf {
		byPartition[i] = append(byPartition[i], vm)
	}
	for i, part := range pt.partitions {
		vms := byPartition[i]
		if len(vms) == 0 {
			continue
		}
		sort.Strings(vms)
		fence := &Fence{VMs: vms, Nodes: part.Nodes}
		if err := fence.Inject(p); err != nil {
			return fmt.Errorf("failed to fence partition %s: %w", part.Name, err)
		}
	}
	return nil
}

// =============================================================================
// UNION FIND
// =============================================================================

type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
	}
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// the smallest name is the root so that groups do not depend on the
	// order of the constraints
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

func (u *unionFind) groups() [][]string {
	members := make(map[string][]string)
	for x := range u.parent {
		r := u.find(x)
		members[r] = append(members[r], x)
	}
	out := make([][]string, 0, len(members))
	for _, g := range members {
		sort.Strings(g)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}
