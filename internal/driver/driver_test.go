package driver

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/plan"
)

// MockRunner records the commands instead of running them.
type MockRunner struct {
	hosts    []string
	commands []string
	err      error
}

func (m *MockRunner) Run(_ context.Context, host, command string) error {
	m.hosts = append(m.hosts, host)
	m.commands = append(m.commands, command)
	return m.err
}

func migration() *plan.Migration {
	return &plan.Migration{
		Interval: plan.Interval{Begin: 0, Finish: 3},
		VM:       domain.NewVirtualMachine("VM1", 1, 1, 512),
		Src:      domain.NewNode("N1", 4, 4096),
		Dst:      domain.NewNode("N2", 4, 4096),
	}
}

func TestSSHFactory_New(t *testing.T) {
	vm := domain.NewVirtualMachine("VM1", 1, 1, 512)
	vm.Template = "debian"
	n1 := domain.NewNode("N1", 4, 4096)

	tests := []struct {
		name    string
		action  plan.Action
		host    string
		command string
	}{
		{
			name:    "migration runs on the source",
			action:  migration(),
			host:    "N1",
			command: "virsh migrate --live --persistent --undefinesource VM1 qemu+ssh://N2/system",
		},
		{
			name:    "terminate undefines the VM",
			action:  &plan.Stop{VM: vm, Host: n1, Terminate: true},
			host:    "N1",
			command: "virsh destroy VM1 && virsh undefine VM1",
		},
		{
			name:    "instantiate runs on the control host",
			action:  &plan.Instantiate{VM: vm},
			host:    "control",
			command: "virt-clone --original debian --name VM1 --auto-clone",
		},
		{
			name:    "rename",
			action:  &plan.Rename{VM: vm, NewName: "VM0"},
			host:    "control",
			command: "virsh domrename VM1 VM0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &MockRunner{}
			f, err := NewSSHFactory(DefaultCommands(), runner, "control", zap.NewNop())
			if err != nil {
				t.Fatalf("NewSSHFactory failed: %v", err)
			}
			d, err := f.New(tt.action)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if err := d.Execute(context.Background()); err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if len(runner.commands) != 1 {
				t.Fatalf("Expected 1 command, got %d", len(runner.commands))
			}
			if runner.hosts[0] != tt.host {
				t.Errorf("Expected host %s, got %s", tt.host, runner.hosts[0])
			}
			if runner.commands[0] != tt.command {
				t.Errorf("Expected %q, got %q", tt.command, runner.commands[0])
			}
		})
	}
}

func TestSSHFactory_RunnerFailure(t *testing.T) {
	boom := errors.New("exit status 1")
	f, err := NewSSHFactory(DefaultCommands(), &MockRunner{err: boom}, "control", zap.NewNop())
	if err != nil {
		t.Fatalf("NewSSHFactory failed: %v", err)
	}
	d, err := f.New(migration())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Execute(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Expected the runner error, got %v", err)
	}
}

func TestSSHFactory_MissingCommand(t *testing.T) {
	f, err := NewSSHFactory(map[string]string{"run": "virsh start {{.VM}}"}, &MockRunner{}, "control", zap.NewNop())
	if err != nil {
		t.Fatalf("NewSSHFactory failed: %v", err)
	}
	if _, err := f.New(migration()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "ssh", mutate: func(c *Config) { c.Mode = ModeSSH }},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "ipmi" }, wantErr: true},
		{name: "unknown transport", mutate: func(c *Config) { c.Startup.Transport = "pxe" }, wantErr: true},
		{
			name: "unknown kind",
			mutate: func(c *Config) {
				c.Mode = ModeSSH
				c.Commands = map[string]string{"reboot": "reboot"}
			},
			wantErr: true,
		},
		{
			name: "broken template",
			mutate: func(c *Config) {
				c.Mode = ModeSSH
				c.Commands = map[string]string{"run": "virsh start {{.VM"}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDryRunFactory_New(t *testing.T) {
	f := NewDryRunFactory(time.Millisecond, zap.NewNop())
	d, err := f.New(migration())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Execute(context.Background()); err != nil {
		t.Errorf("Execute failed: %v", err)
	}

	slow := NewDryRunFactory(time.Hour, zap.NewNop())
	d, _ = slow.New(migration())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Execute(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestNewFactory_Timeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DryRunUnit = time.Hour
	cfg.Timeout = 10 * time.Millisecond
	f, err := NewFactory(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	d, err := f.New(migration())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Execute(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
}

func TestWakeOnLANFactory_New(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket failed: %v", err)
	}
	defer conn.Close()

	f, err := NewWakeOnLANFactory(conn.LocalAddr().String(), map[string]string{"N1": "00:11:22:33:44:55"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWakeOnLANFactory failed: %v", err)
	}
	d, err := f.New(&plan.Startup{Node: domain.NewNode("N1", 4, 4096)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Execute(context.Background()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if n != 102 {
		t.Fatalf("Expected a 102 bytes packet, got %d", n)
	}
	if !bytes.Equal(buf[:6], bytes.Repeat([]byte{0xff}, 6)) {
		t.Errorf("Unexpected header % x", buf[:6])
	}
	mac := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	if !bytes.Equal(buf[96:102], mac) {
		t.Errorf("Unexpected last address % x", buf[96:102])
	}

	if _, err := f.New(&plan.Startup{Node: domain.NewNode("N2", 4, 4096)}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an unknown node, got %v", err)
	}
}

func TestNewWakeOnLANFactory_InvalidMAC(t *testing.T) {
	if _, err := NewWakeOnLANFactory("255.255.255.255:9", map[string]string{"N1": "zz"}, zap.NewNop()); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestSSHRunner_Address(t *testing.T) {
	r := NewSSHRunner(SSHConfig{Port: 2222, Hosts: map[string]string{"n1": "10.0.0.1", "n2": "10.0.0.2:22"}}, zap.NewNop())
	tests := map[string]string{
		"N1":          "10.0.0.1:2222",
		"N2":          "10.0.0.2:22",
		"N3":          "N3:2222",
		"10.0.0.9:23": "10.0.0.9:23",
	}
	for host, want := range tests {
		if got := r.address(host); got != want {
			t.Errorf("address(%s) = %s, want %s", host, got, want)
		}
	}
}
