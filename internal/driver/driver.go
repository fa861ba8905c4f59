// Package driver performs the physical side effect of reconfiguration
// actions: live migrations, VM lifecycle commands and node power operations.
package driver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/plan"
)

// Driver executes one action. Execute may block; it must return once ctx is
// done. Drivers carry no retry policy.
type Driver interface {
	Execute(ctx context.Context) error
}

// Factory builds the driver of an action.
type Factory interface {
	New(a plan.Action) (Driver, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(a plan.Action) (Driver, error)

// New calls f(a).
func (f FactoryFunc) New(a plan.Action) (Driver, error) { return f(a) }

// Func adapts a function to the Driver interface.
type Func func(ctx context.Context) error

// Execute calls f(ctx).
func (f Func) Execute(ctx context.Context) error { return f(ctx) }

// Modes of NewFactory.
const (
	ModeDryRun = "dry-run"
	ModeSSH    = "ssh"
)

// Startup transports.
const (
	StartupSSH = "ssh"
	StartupWoL = "wol"
)

// Config selects and tunes the drivers.
type Config struct {
	// Mode is ModeDryRun or ModeSSH.
	Mode string `mapstructure:"mode"`
	// DryRunUnit is the wall-clock time of one plan time unit in dry-run mode.
	DryRunUnit time.Duration `mapstructure:"dry_run_unit"`
	// Timeout bounds a single driver call; 0 means no bound.
	Timeout time.Duration `mapstructure:"timeout"`

	SSH SSHConfig `mapstructure:"ssh"`

	// Commands maps an action kind to a text/template of the remote command.
	Commands map[string]string `mapstructure:"commands"`

	Startup StartupConfig `mapstructure:"startup"`
}

// StartupConfig tells how offline nodes are powered on.
type StartupConfig struct {
	// Transport is StartupSSH (run the startup command on the control host)
	// or StartupWoL.
	Transport string `mapstructure:"transport"`
	// Broadcast is the UDP address magic packets are sent to.
	Broadcast string `mapstructure:"broadcast"`
	// MACs maps node names to the hardware address of their boot interface.
	MACs map[string]string `mapstructure:"macs"`
}

// DefaultConfig runs every action in dry-run mode, one second per time unit.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeDryRun,
		DryRunUnit: time.Second,
		SSH:        DefaultSSHConfig(),
		Commands:   DefaultCommands(),
		Startup: StartupConfig{
			Transport: StartupSSH,
			Broadcast: "255.255.255.255:9",
		},
	}
}

// DefaultCommands returns libvirt based command templates. The fields
// available to a template are the ones of Fields.
func DefaultCommands() map[string]string {
	return map[string]string{
		string(plan.KindMigration):   "virsh migrate --live --persistent --undefinesource {{.VM}} qemu+ssh://{{.Destination}}/system",
		string(plan.KindRun):         "virsh start {{.VM}}",
		string(plan.KindStop):        "virsh destroy {{.VM}}{{if .Terminate}} && virsh undefine {{.VM}}{{end}}",
		string(plan.KindSuspend):     "virsh save {{.VM}} /var/lib/libvirt/save/{{.VM}}.img",
		string(plan.KindResume):      "virsh restore /var/lib/libvirt/save/{{.VM}}.img",
		string(plan.KindInstantiate): "virt-clone --original {{.Template}} --name {{.VM}} --auto-clone",
		string(plan.KindStartup):     "ipmitool -H {{.Node}}-bmc chassis power on",
		string(plan.KindShutdown):    "systemctl poweroff",
		string(plan.KindDeploy):      "deploy-platform {{.Node}} {{.Platform}}",
		string(plan.KindRetype):      "virsh setvcpus {{.VM}} {{.CPU}} --live && virsh setmem {{.VM}} {{.MemoryMiB}}M --live",
		string(plan.KindRename):      "virsh domrename {{.VM}} {{.NewName}}",
	}
}

// Validate checks the mode, the startup transport and the templates.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeDryRun, ModeSSH:
	default:
		return fmt.Errorf("%w: unknown driver mode %q", domain.ErrInvalidArgument, c.Mode)
	}
	switch c.Startup.Transport {
	case StartupSSH, StartupWoL:
	default:
		return fmt.Errorf("%w: unknown startup transport %q", domain.ErrInvalidArgument, c.Startup.Transport)
	}
	if c.Mode == ModeSSH {
		if _, err := parseCommands(c.Commands); err != nil {
			return err
		}
	}
	return nil
}

// NewFactory builds the factory selected by cfg.Mode.
func NewFactory(cfg Config, logger *zap.Logger) (Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("component", "driver"))

	var base Factory
	switch cfg.Mode {
	case ModeDryRun:
		base = NewDryRunFactory(cfg.DryRunUnit, logger)
	case ModeSSH:
		f, err := NewSSHFactory(cfg.Commands, NewSSHRunner(cfg.SSH, logger), cfg.SSH.ControlHost, logger)
		if err != nil {
			return nil, err
		}
		base = f
	}

	if cfg.Startup.Transport == StartupWoL && cfg.Mode != ModeDryRun {
		wol, err := NewWakeOnLANFactory(cfg.Startup.Broadcast, cfg.Startup.MACs, logger)
		if err != nil {
			return nil, err
		}
		base = &startupFactory{startup: wol, others: base}
	}
	return withTimeout(base, cfg.Timeout), nil
}

// startupFactory routes Startup actions to a dedicated factory.
type startupFactory struct {
	startup Factory
	others  Factory
}

func (f *startupFactory) New(a plan.Action) (Driver, error) {
	if _, ok := a.(*plan.Startup); ok {
		return f.startup.New(a)
	}
	return f.others.New(a)
}

func withTimeout(f Factory, timeout time.Duration) Factory {
	if timeout <= 0 {
		return f
	}
	return FactoryFunc(func(a plan.Action) (Driver, error) {
		d, err := f.New(a)
		if err != nil {
			return nil, err
		}
		return Func(func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return d.Execute(ctx)
		}), nil
	})
}

// Fields returns the values a command template can refer to.
func Fields(a plan.Action) map[string]any {
	f := map[string]any{"Kind": string(a.Kind())}
	vm := func(v *domain.VirtualMachine) {
		f["VM"] = v.Name
		f["Template"] = v.Template
		f["CPU"] = v.CPUDemand
		f["MemoryMiB"] = v.MemoryDemand
	}
	switch a := a.(type) {
	case *plan.Migration:
		vm(a.VM)
		f["Source"], f["Destination"] = a.Src.Name, a.Dst.Name
	case *plan.Run:
		vm(a.VM)
		f["Host"] = a.Host.Name
	case *plan.Stop:
		vm(a.VM)
		f["Host"], f["Terminate"] = a.Host.Name, a.Terminate
	case *plan.Suspend:
		vm(a.VM)
		f["Source"], f["Destination"] = a.Src.Name, a.Dst.Name
	case *plan.Resume:
		vm(a.VM)
		f["Source"], f["Destination"] = a.Src.Name, a.Dst.Name
	case *plan.Instantiate:
		vm(a.VM)
	case *plan.Startup:
		f["Node"] = a.Node.Name
	case *plan.Shutdown:
		f["Node"] = a.Node.Name
	case *plan.Deploy:
		f["Node"], f["Platform"] = a.Node.Name, a.Platform
	case *plan.Retype:
		vm(a.VM)
		f["Host"] = a.Host.Name
	case *plan.Rename:
		vm(a.VM)
		f["NewName"] = a.NewName
	}
	return f
}

// targetHost returns the address of the node a command runs on, "" for
// the control host.
func targetHost(a plan.Action) string {
	var n *domain.Node
	switch a := a.(type) {
	case *plan.Migration:
		n = a.Src
	case *plan.Run:
		n = a.Host
	case *plan.Stop:
		n = a.Host
	case *plan.Suspend:
		n = a.Src
	case *plan.Resume:
		n = a.Dst
	case *plan.Shutdown:
		n = a.Node
	case *plan.Retype:
		n = a.Host
	default:
		// instantiate, rename and the power-on of offline nodes
		return ""
	}
	if n.Address != "" {
		return n.Address
	}
	return n.Name
}
