package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/placement"
)

const consolidation = `
nodes:
  - name: N1
    cpu: 4
    memory: 8192
    address: 10.0.0.1
  - name: N2
    cpu: 4
    memory: 8192
  - name: N3
    cpu: 8
    memory: 16384
    state: offline
    mac: "00:11:22:33:44:55"
    platforms:
      xen: {}
      kvm: {kernel: "6.1"}
vms:
  - name: web-1
    cpu: 2
    memory: 2048
    host: N1
  - name: web-2
    cpu: 2
    memory: 2048
    cpu_demand: 3
    host: N1
    options:
      migratable: "false"
  - name: batch
    cpu: 1
    memory: 1024
    state: sleeping
    host: N2
  - name: db
    cpu: 2
    memory: 4096
    template: postgres
    state: absent
requirements:
  running: [db, batch]
  offline: [N2]
constraints:
  - type: spread
    vms: [web-2, web-1]
  - type: capacity
    nodes: [N1]
    max: 2
partitions:
  - name: rack-a
    nodes: [N1, N2, N3]
`

func TestParse(t *testing.T) {
	sc, err := Parse(strings.NewReader(consolidation))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	src := sc.Source
	if len(src.AllNodes()) != 3 || !src.IsOffline("N3") {
		t.Errorf("Unexpected nodes:\n%s", src)
	}
	n3 := src.Node("N3")
	if n3.MACAddress != "00:11:22:33:44:55" || !n3.HasPlatform("kvm") || n3.Platforms["kvm"]["kernel"] != "6.1" {
		t.Errorf("Unexpected N3: %+v", n3)
	}
	if src.Node("N1").Address != "10.0.0.1" {
		t.Errorf("Expected the address of N1 to be kept")
	}

	web2 := src.VirtualMachine("web-2")
	if web2 == nil || web2.CPUDemand != 3 || web2.MemoryDemand != 2048 || web2.IsMigratable() {
		t.Errorf("Unexpected web-2: %+v", web2)
	}
	if !src.IsSleeping("batch") || src.Contains("db") {
		t.Errorf("Unexpected VM states:\n%s", src)
	}

	if len(sc.Request.Running) != 2 || sc.Request.Running[0].Name != "db" || sc.Request.Running[0].Template != "postgres" {
		t.Errorf("Unexpected running requirement: %v", sc.Request.Running)
	}
	if len(sc.Request.Offline) != 1 || sc.Request.Offline[0].Name != "N2" {
		t.Errorf("Unexpected offline requirement: %v", sc.Request.Offline)
	}

	if len(sc.Constraints) != 2 {
		t.Fatalf("Expected 2 constraints, got %d", len(sc.Constraints))
	}
	spread, ok := sc.Constraints[0].(*placement.Spread)
	if !ok || spread.Name() != "spread({web-1, web-2})" {
		t.Errorf("Unexpected first constraint %v", sc.Constraints[0])
	}
	if c, ok := sc.Constraints[1].(*placement.Capacity); !ok || c.Max != 2 {
		t.Errorf("Unexpected second constraint %v", sc.Constraints[1])
	}
	if len(sc.Partitions) != 1 || len(sc.Partitions[0].Nodes) != 3 {
		t.Errorf("Unexpected partitions %v", sc.Partitions)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "unknown field",
			doc:  "nodes:\n  - name: N1\n    cores: 4\n",
			want: domain.ErrInvalidArgument,
		},
		{
			name: "unknown node state",
			doc:  "nodes:\n  - name: N1\n    state: rebooting\n",
			want: domain.ErrInvalidArgument,
		},
		{
			name: "VM on an unknown node",
			doc:  "vms:\n  - name: VM1\n    host: N9\n",
			want: domain.ErrNotFound,
		},
		{
			name: "unknown VM in requirements",
			doc:  "nodes:\n  - name: N1\nrequirements:\n  running: [VM1]\n",
			want: domain.ErrNotFound,
		},
		{
			name: "absent VM without requirement",
			doc:  "vms:\n  - name: VM1\n    state: absent\n",
			want: domain.ErrInvalidArgument,
		},
		{
			name: "unknown constraint",
			doc:  "constraints:\n  - type: among\n",
			want: domain.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(consolidation), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	sc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if len(sc.Source.AllVirtualMachines()) != 3 {
		t.Errorf("Expected 3 VMs in the source, got %d", len(sc.Source.AllVirtualMachines()))
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
