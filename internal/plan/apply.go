package plan

import (
	"fmt"

	"github.com/limiquantix/replanner/internal/domain"
)

// IsCompatibleWith returns true if the preconditions of the action hold in
// the configuration.
func IsCompatibleWith(cfg *domain.Configuration, a Action) bool {
	return precondition(cfg, a) == nil
}

// Apply performs the state transition of the action on the configuration.
// Elements are looked up by name, so the action may be applied on a copy of
// the configuration it was computed from.
func Apply(cfg *domain.Configuration, a Action) error {
	if err := precondition(cfg, a); err != nil {
		return fmt.Errorf("failed to apply %s: %w", a, err)
	}

	var err error
	switch a := a.(type) {
	case *Migration:
		err = cfg.SetRunOn(cfg.VirtualMachine(a.VM.Name), a.Dst.Name)
	case *Run:
		err = cfg.SetRunOn(cfg.VirtualMachine(a.VM.Name), a.Host.Name)
	case *Stop:
		if a.Terminate {
			cfg.Remove(a.VM.Name)
		} else {
			err = cfg.AddWaiting(cfg.VirtualMachine(a.VM.Name))
		}
	case *Suspend:
		err = cfg.SetSleepOn(cfg.VirtualMachine(a.VM.Name), a.Dst.Name)
	case *Resume:
		err = cfg.SetRunOn(cfg.VirtualMachine(a.VM.Name), a.Dst.Name)
	case *Instantiate:
		err = cfg.AddWaiting(a.VM.Clone())
	case *Startup:
		err = cfg.AddOnline(cfg.Node(a.Node.Name))
	case *Deploy:
		n := cfg.Node(a.Node.Name)
		n.CurrentPlatform = a.Platform
		err = cfg.AddOnline(n)
	case *Shutdown:
		err = cfg.AddOffline(cfg.Node(a.Node.Name))
	case *Retype:
		vm := cfg.VirtualMachine(a.VM.Name)
		vm.CPUDemand, vm.MemoryDemand = a.VM.CPUDemand, a.VM.MemoryDemand
		vm.CPUConsumption, vm.MemoryConsumption = a.VM.CPUDemand, a.VM.MemoryDemand
	case *Rename:
		err = cfg.Rename(a.VM.Name, a.NewName)
	}
	if err != nil {
		return fmt.Errorf("failed to apply %s: %w", a, err)
	}
	return nil
}

func precondition(cfg *domain.Configuration, a Action) error {
	switch a := a.(type) {
	case *Migration:
		if err := runningOn(cfg, a.VM, a.Src); err != nil {
			return err
		}
		return online(cfg, a.Dst)
	case *Run:
		if !cfg.IsWaiting(a.VM.Name) {
			return fmt.Errorf("%s is not waiting: %w", a.VM.Name, domain.ErrConflict)
		}
		return online(cfg, a.Host)
	case *Stop:
		if cfg.IsSleeping(a.VM.Name) && cfg.Location(a.VM.Name).Name == a.Host.Name {
			return nil
		}
		return runningOn(cfg, a.VM, a.Host)
	case *Suspend:
		if err := runningOn(cfg, a.VM, a.Src); err != nil {
			return err
		}
		return online(cfg, a.Dst)
	case *Resume:
		if !cfg.IsSleeping(a.VM.Name) || cfg.Location(a.VM.Name).Name != a.Src.Name {
			return fmt.Errorf("%s is not sleeping on %s: %w", a.VM.Name, a.Src.Name, domain.ErrConflict)
		}
		return online(cfg, a.Dst)
	case *Instantiate:
		if cfg.Contains(a.VM.Name) {
			return fmt.Errorf("%s: %w", a.VM.Name, domain.ErrAlreadyExists)
		}
		return nil
	case *Startup:
		return offline(cfg, a.Node)
	case *Deploy:
		if err := offline(cfg, a.Node); err != nil {
			return err
		}
		if !cfg.Node(a.Node.Name).HasPlatform(a.Platform) {
			return fmt.Errorf("platform %s is not available on %s: %w", a.Platform, a.Node.Name, domain.ErrInvalidArgument)
		}
		return nil
	case *Shutdown:
		if err := online(cfg, a.Node); err != nil {
			return err
		}
		if len(cfg.Runnings(a.Node.Name)) > 0 || len(cfg.Sleepings(a.Node.Name)) > 0 {
			return fmt.Errorf("node %s still hosts virtual machines: %w", a.Node.Name, domain.ErrConflict)
		}
		return nil
	case *Retype:
		return runningOn(cfg, a.VM, a.Host)
	case *Rename:
		if !cfg.Contains(a.VM.Name) {
			return fmt.Errorf("%s: %w", a.VM.Name, domain.ErrNotFound)
		}
		if cfg.Contains(a.NewName) {
			return fmt.Errorf("%s: %w", a.NewName, domain.ErrAlreadyExists)
		}
		return nil
	default:
		return fmt.Errorf("unknown action %T: %w", a, domain.ErrInvalidArgument)
	}
}

func runningOn(cfg *domain.Configuration, vm *domain.VirtualMachine, n *domain.Node) error {
	if !cfg.IsRunning(vm.Name) || cfg.Location(vm.Name).Name != n.Name {
		return fmt.Errorf("%s is not running on %s: %w", vm.Name, n.Name, domain.ErrConflict)
	}
	return nil
}

func online(cfg *domain.Configuration, n *domain.Node) error {
	if !cfg.IsOnline(n.Name) {
		return fmt.Errorf("node %s is not online: %w", n.Name, domain.ErrConflict)
	}
	return nil
}

func offline(cfg *domain.Configuration, n *domain.Node) error {
	if !cfg.IsOffline(n.Name) {
		return fmt.Errorf("node %s is not offline: %w", n.Name, domain.ErrConflict)
	}
	return nil
}
