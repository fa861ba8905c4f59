package domain

import (
	"errors"
	"testing"
)

func newTestConfiguration(t *testing.T) *Configuration {
	t.Helper()
	cfg := NewConfiguration()
	n1 := NewNode("N1", 4, 8)
	n2 := NewNode("N2", 4, 8)
	if err := cfg.AddOnline(n1); err != nil {
		t.Fatalf("AddOnline failed: %v", err)
	}
	if err := cfg.AddOnline(n2); err != nil {
		t.Fatalf("AddOnline failed: %v", err)
	}
	if err := cfg.AddOffline(NewNode("N3", 4, 8)); err != nil {
		t.Fatalf("AddOffline failed: %v", err)
	}
	if err := cfg.SetRunOn(NewVirtualMachine("VM1", 1, 2, 2), "N1"); err != nil {
		t.Fatalf("SetRunOn failed: %v", err)
	}
	if err := cfg.SetSleepOn(NewVirtualMachine("VM2", 1, 1, 1), "N2"); err != nil {
		t.Fatalf("SetSleepOn failed: %v", err)
	}
	if err := cfg.AddWaiting(NewVirtualMachine("VM3", 1, 1, 1)); err != nil {
		t.Fatalf("AddWaiting failed: %v", err)
	}
	return cfg
}

func TestConfiguration_States(t *testing.T) {
	cfg := newTestConfiguration(t)

	if !cfg.IsRunning("VM1") || cfg.Location("VM1").Name != "N1" {
		t.Errorf("Expected VM1 running on N1")
	}
	if !cfg.IsSleeping("VM2") || cfg.Location("VM2").Name != "N2" {
		t.Errorf("Expected VM2 sleeping on N2")
	}
	if !cfg.IsWaiting("VM3") || cfg.Location("VM3") != nil {
		t.Errorf("Expected VM3 waiting without location")
	}

	// Moving a VM keeps exactly one state.
	if err := cfg.SetRunOn(cfg.VirtualMachine("VM2"), "N1"); err != nil {
		t.Fatalf("SetRunOn failed: %v", err)
	}
	if cfg.IsSleeping("VM2") || !cfg.IsRunning("VM2") {
		t.Errorf("Expected VM2 only running, got %s", cfg.State("VM2"))
	}
	if got := len(cfg.Runnings("N1")); got != 2 {
		t.Errorf("Expected 2 VMs on N1, got %d", got)
	}
}

func TestConfiguration_HostMustBeOnline(t *testing.T) {
	cfg := newTestConfiguration(t)

	err := cfg.SetRunOn(NewVirtualMachine("VM4", 1, 1, 1), "N3")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}

	err = cfg.AddOffline(cfg.Node("N1"))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict when halting a busy node, got %v", err)
	}
}

func TestConfiguration_Rename(t *testing.T) {
	cfg := newTestConfiguration(t)

	if err := cfg.Rename("VM1", "VM1-bis"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if cfg.Contains("VM1") {
		t.Error("Expected VM1 to be gone")
	}
	if !cfg.IsRunning("VM1-bis") || cfg.Location("VM1-bis").Name != "N1" {
		t.Error("Expected VM1-bis running on N1")
	}
	if err := cfg.Rename("VM1-bis", "VM2"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
	if err := cfg.Rename("nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestConfiguration_Clone(t *testing.T) {
	cfg := newTestConfiguration(t)
	clone := cfg.Clone()

	if !cfg.Equal(clone) {
		t.Fatal("Expected clone to be equal")
	}

	clone.VirtualMachine("VM1").CPUDemand = 99
	if cfg.VirtualMachine("VM1").CPUDemand == 99 {
		t.Error("Expected clone to deep copy virtual machines")
	}
	clone.Remove("VM3")
	if !cfg.Contains("VM3") || cfg.Equal(clone) {
		t.Error("Expected clone to be independent")
	}
}

func TestConfiguration_Overloaded(t *testing.T) {
	cfg := newTestConfiguration(t)
	if !cfg.IsViable() {
		t.Fatal("Expected viable configuration")
	}

	big := NewVirtualMachine("VM5", 2, 3, 1)
	if err := cfg.SetRunOn(big, "N1"); err != nil {
		t.Fatalf("SetRunOn failed: %v", err)
	}
	overloaded := cfg.Overloaded()
	if len(overloaded) != 1 || overloaded[0].Name != "N1" {
		t.Errorf("Expected N1 overloaded, got %v", overloaded)
	}
	cpu, mem := cfg.Load("N1")
	if cpu != 5 || mem != 3 {
		t.Errorf("Expected load 5/3, got %d/%d", cpu, mem)
	}
}

func TestConfiguration_SortedAccessors(t *testing.T) {
	cfg := NewConfiguration()
	for _, name := range []string{"c", "a", "b"} {
		if err := cfg.AddOnline(NewNode(name, 1, 1)); err != nil {
			t.Fatalf("AddOnline failed: %v", err)
		}
	}
	nodes := cfg.Onlines()
	for i, want := range []string{"a", "b", "c"} {
		if nodes[i].Name != want {
			t.Errorf("Expected node %d to be %s, got %s", i, want, nodes[i].Name)
		}
	}
}
