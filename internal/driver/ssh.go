package driver

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/plan"
)

// SSHConfig holds the SSH connection settings of the command drivers.
type SSHConfig struct {
	User           string        `mapstructure:"user"`
	Port           int           `mapstructure:"port"`
	KeyFile        string        `mapstructure:"key_file"`
	KnownHostsFile string        `mapstructure:"known_hosts_file"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	// ControlHost runs the commands that do not belong to a node.
	ControlHost string `mapstructure:"control_host"`
	// Hosts overrides the address of a node, which defaults to its name.
	Hosts map[string]string `mapstructure:"hosts"`
}

// DefaultSSHConfig connects as root on port 22.
func DefaultSSHConfig() SSHConfig {
	return SSHConfig{
		User:        "root",
		Port:        22,
		KeyFile:     "~/.ssh/id_ed25519",
		DialTimeout: 10 * time.Second,
		ControlHost: "localhost",
	}
}

// Runner runs a command on a host.
type Runner interface {
	Run(ctx context.Context, host, command string) error
}

// =============================================================================
// Command Factory
// =============================================================================

// SSHFactory builds drivers that run a templated command per action kind.
type SSHFactory struct {
	templates   map[plan.Kind]*template.Template
	runner      Runner
	controlHost string
	logger      *zap.Logger
}

// NewSSHFactory parses the command templates.
func NewSSHFactory(commands map[string]string, runner Runner, controlHost string, logger *zap.Logger) (*SSHFactory, error) {
	templates, err := parseCommands(commands)
	if err != nil {
		return nil, err
	}
	return &SSHFactory{
		templates:   templates,
		runner:      runner,
		controlHost: controlHost,
		logger:      logger,
	}, nil
}

func parseCommands(commands map[string]string) (map[plan.Kind]*template.Template, error) {
	known := make(map[plan.Kind]bool, len(plan.AllKinds))
	for _, k := range plan.AllKinds {
		known[k] = true
	}
	templates := make(map[plan.Kind]*template.Template, len(commands))
	for kind, text := range commands {
		if !known[plan.Kind(kind)] {
			return nil, fmt.Errorf("%w: command for unknown action kind %q", domain.ErrInvalidArgument, kind)
		}
		t, err := template.New(kind).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("%w: command for %s: %v", domain.ErrInvalidArgument, kind, err)
		}
		templates[plan.Kind(kind)] = t
	}
	return templates, nil
}

// Command renders the command of an action.
func (f *SSHFactory) Command(a plan.Action) (string, error) {
	t, ok := f.templates[a.Kind()]
	if !ok {
		return "", fmt.Errorf("%w: no command for %s actions", domain.ErrNotFound, a.Kind())
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, Fields(a)); err != nil {
		return "", fmt.Errorf("failed to render command of %s: %w", a, err)
	}
	return buf.String(), nil
}

// New implements Factory.
func (f *SSHFactory) New(a plan.Action) (Driver, error) {
	command, err := f.Command(a)
	if err != nil {
		return nil, err
	}
	host := targetHost(a)
	if host == "" {
		host = f.controlHost
	}
	return Func(func(ctx context.Context) error {
		f.logger.Debug("Running action command",
			zap.String("action", a.String()),
			zap.String("host", host),
			zap.String("command", command),
		)
		if err := f.runner.Run(ctx, host, command); err != nil {
			return fmt.Errorf("failed to run %q on %s: %w", command, host, err)
		}
		return nil
	}), nil
}

// =============================================================================
// SSH Runner
// =============================================================================

// SSHRunner runs commands over SSH, one connection per command.
type SSHRunner struct {
	cfg    SSHConfig
	logger *zap.Logger
}

// NewSSHRunner creates a runner. Keys are loaded on first use.
func NewSSHRunner(cfg SSHConfig, logger *zap.Logger) *SSHRunner {
	return &SSHRunner{cfg: cfg, logger: logger}
}

func (r *SSHRunner) clientConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(expandHome(r.cfg.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if r.cfg.KnownHostsFile != "" {
		if hostKeys, err = knownhosts.New(expandHome(r.cfg.KnownHostsFile)); err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	} else {
		r.logger.Warn("No known hosts file configured, host keys are not verified")
	}

	return &ssh.ClientConfig{
		User:            r.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         r.cfg.DialTimeout,
	}, nil
}

func (r *SSHRunner) address(host string) string {
	if addr, ok := lookup(r.cfg.Hosts, host); ok {
		host = addr
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(r.cfg.Port))
}

// Run implements Runner. The connection is closed when ctx is done.
func (r *SSHRunner) Run(ctx context.Context, host, command string) error {
	config, err := r.clientConfig()
	if err != nil {
		return err
	}
	client, err := ssh.Dial("tcp", r.address(host), config)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", host, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open SSH session: %w", err)
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		client.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil
	}
}

// lookup tolerates the lower-cased keys produced by viper.
func lookup[V any](m map[string]V, key string) (V, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	v, ok := m[strings.ToLower(key)]
	return v, ok
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}
