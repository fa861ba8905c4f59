// Package config provides configuration management for the reconfiguration
// planner.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/limiquantix/replanner/internal/driver"
	"github.com/limiquantix/replanner/internal/duration"
	"github.com/limiquantix/replanner/internal/executor"
	"github.com/limiquantix/replanner/internal/planner"
)

// Config holds all configuration for the application.
type Config struct {
	Planner   planner.Config               `mapstructure:"planner"`
	Durations map[string]duration.Function `mapstructure:"durations"`
	Executor  ExecutorConfig               `mapstructure:"executor"`
	Drivers   driver.Config                `mapstructure:"drivers"`
	Database  DatabaseConfig               `mapstructure:"database"`
	Etcd      EtcdConfig                   `mapstructure:"etcd"`
	Redis     RedisConfig                  `mapstructure:"redis"`
	Server    ServerConfig                 `mapstructure:"server"`
	Logging   LoggingConfig                `mapstructure:"logging"`
	Metrics   MetricsConfig                `mapstructure:"metrics"`
}

// ExecutorConfig holds the executor settings and where its events go.
type ExecutorConfig struct {
	executor.Config `mapstructure:",squash"`

	// Journal records committed actions in etcd and serializes executions
	// with a distributed lock.
	Journal bool `mapstructure:"journal"`
	// Events publishes the execution events on a redis channel.
	Events bool `mapstructure:"events"`
	// History stores plans and action outcomes in PostgreSQL.
	History bool `mapstructure:"history"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// ApplicationName tags the connections of the plan history.
	ApplicationName   string        `mapstructure:"application_name"`
	StatementTimeout  time.Duration `mapstructure:"statement_timeout"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// URL returns the PostgreSQL connection URL.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// EtcdConfig holds etcd configuration.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Prefix      string        `mapstructure:"prefix"`
	SessionTTL  int           `mapstructure:"session_ttl"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Channel  string        `mapstructure:"channel"`
	PlanTTL  time.Duration `mapstructure:"plan_ttl"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ServerConfig holds the status server configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds the prometheus settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("replanner")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("REPLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no file: defaults and env vars only
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the sections that have a closed set of values.
func (c *Config) Validate() error {
	if err := c.Planner.Heuristic.Validate(); err != nil {
		return fmt.Errorf("invalid planner.heuristic: %w", err)
	}
	if _, err := duration.NewEvaluator(c.Durations); err != nil {
		return fmt.Errorf("invalid durations: %w", err)
	}
	if err := c.Drivers.Validate(); err != nil {
		return fmt.Errorf("invalid drivers: %w", err)
	}
	if c.Executor.MaxParallelActions < 0 {
		return fmt.Errorf("invalid executor.max_parallel_actions: %d", c.Executor.MaxParallelActions)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Planner
	pl := planner.DefaultConfig()
	v.SetDefault("planner.time_limit", pl.TimeLimit.String())
	v.SetDefault("planner.max_backtracks", pl.MaxBacktracks)
	v.SetDefault("planner.optimize", pl.Optimize)
	v.SetDefault("planner.heuristic.strategy", string(pl.Heuristic.Strategy))
	v.SetDefault("planner.heuristic.dimension", string(pl.Heuristic.Dimension))
	v.SetDefault("planner.heuristic.stay_first", pl.Heuristic.StayFirst)
	v.SetDefault("planner.clone_suffix", pl.CloneSuffix)

	// Durations
	for kind, f := range duration.Defaults() {
		v.SetDefault("durations."+kind+".base", f.Base)
		v.SetDefault("durations."+kind+".per_cpu", f.PerCPU)
		v.SetDefault("durations."+kind+".per_memory_gib", f.PerMemoryGiB)
	}

	// Executor
	v.SetDefault("executor.max_parallel_actions", 0)
	v.SetDefault("executor.journal", false)
	v.SetDefault("executor.events", false)
	v.SetDefault("executor.history", false)

	// Drivers
	dr := driver.DefaultConfig()
	v.SetDefault("drivers.mode", dr.Mode)
	v.SetDefault("drivers.dry_run_unit", dr.DryRunUnit.String())
	v.SetDefault("drivers.timeout", "0s")
	v.SetDefault("drivers.ssh.user", dr.SSH.User)
	v.SetDefault("drivers.ssh.port", dr.SSH.Port)
	v.SetDefault("drivers.ssh.key_file", dr.SSH.KeyFile)
	v.SetDefault("drivers.ssh.dial_timeout", dr.SSH.DialTimeout.String())
	v.SetDefault("drivers.ssh.control_host", dr.SSH.ControlHost)
	for kind, command := range dr.Commands {
		v.SetDefault("drivers.commands."+kind, command)
	}
	v.SetDefault("drivers.startup.transport", dr.Startup.Transport)
	v.SetDefault("drivers.startup.broadcast", dr.Startup.Broadcast)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "replanner")
	v.SetDefault("database.user", "replanner")
	v.SetDefault("database.password", "replanner")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.application_name", "replanner")
	v.SetDefault("database.statement_timeout", "30s")
	v.SetDefault("database.health_check_period", "1m")

	// etcd
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.prefix", "/replanner")
	v.SetDefault("etcd.session_ttl", 30)

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "replanner:events")
	v.SetDefault("redis.plan_ttl", "24h")

	// Server
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Metrics
	v.SetDefault("metrics.enabled", true)
}
