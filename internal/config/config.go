// Package config loads worker and CLI configuration.
//
// Precedence, lowest first: built-in defaults, the YAML file, a .env file,
// TASKGRAPH_* environment variables, then CLI flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/maxkimambo/taskgraph/internal/dag"
	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
	"github.com/maxkimambo/taskgraph/internal/store"
)

// DefaultFile is read when no config path is given and it exists
const DefaultFile = "taskgraph.yaml"

// ExecutorConfig tunes the executor of each execution
type ExecutorConfig struct {
	MaxParallelTasks int           `yaml:"max_parallel_tasks"`
	TaskTimeout      time.Duration `yaml:"task_timeout"`
	FailFast         bool          `yaml:"fail_fast"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// RetryConfig is the default retry policy of operation tasks
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	Interval      time.Duration `yaml:"interval"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	MaxInterval   time.Duration `yaml:"max_interval"`
}

// ControllerConfig tunes liveness tracking and crash recovery
type ControllerConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	AutoResume        bool          `yaml:"auto_resume"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// DeploymentsConfig locates deployment files
type DeploymentsConfig struct {
	Dir string `yaml:"dir"`
}

// GCEConfig enables the Compute Engine host operations
type GCEConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Project         string `yaml:"project"`
	Endpoint        string `yaml:"endpoint"`
	CredentialsFile string `yaml:"credentials_file"`
}

// LogConfig mirrors the logging flags
type LogConfig struct {
	Verbose bool `yaml:"verbose"`
	JSON    bool `yaml:"json"`
	Quiet   bool `yaml:"quiet"`
}

// Config is the complete configuration
type Config struct {
	WorkerID    string            `yaml:"worker_id"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Retry       RetryConfig       `yaml:"retry"`
	Controller  ControllerConfig  `yaml:"controller"`
	Store       StoreConfig       `yaml:"store"`
	Deployments DeploymentsConfig `yaml:"deployments"`
	GCE         GCEConfig         `yaml:"gce"`
	Log         LogConfig         `yaml:"log"`
}

// Default returns the built-in configuration
func Default() *Config {
	exec := dag.DefaultExecutorConfig()
	retry := dag.NewDefaultRetryPolicy()
	return &Config{
		Executor: ExecutorConfig{
			MaxParallelTasks: exec.MaxParallelTasks,
			TaskTimeout:      exec.TaskTimeout,
			FailFast:         exec.FailFast,
			ProgressInterval: exec.ProgressInterval,
		},
		Retry: RetryConfig{
			MaxRetries:    retry.MaxRetries,
			Interval:      retry.Interval,
			BackoffFactor: retry.BackoffFactor,
			MaxInterval:   retry.MaxInterval,
		},
		Controller: ControllerConfig{
			HeartbeatInterval: 10 * time.Second,
			HeartbeatTimeout:  60 * time.Second,
			AutoResume:        true,
		},
		Store: StoreConfig{
			Driver: store.DriverFile,
			Path:   ".taskgraph",
		},
		Deployments: DeploymentsConfig{Dir: "deployments"},
	}
}

// Load builds the configuration from path (or DefaultFile when present), .env and the environment
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, loadError(path, err)
		}
	}

	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, loadError(".env", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadError(path string, err error) error {
	return engerrors.NewConfigurationError(engerrors.CodeConfigLoad,
		fmt.Sprintf("Failed to load configuration from %s", path), "Configuration load").
		WithContext("path", path).
		WithOriginalError(err)
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// ApplyEnv overrides fields from TASKGRAPH_* variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	bindings := []struct {
		name string
		set  func(string) error
	}{
		{"TASKGRAPH_WORKER_ID", setString(&c.WorkerID)},
		{"TASKGRAPH_MAX_PARALLEL_TASKS", setInt(&c.Executor.MaxParallelTasks)},
		{"TASKGRAPH_TASK_TIMEOUT", setDuration(&c.Executor.TaskTimeout)},
		{"TASKGRAPH_FAIL_FAST", setBool(&c.Executor.FailFast)},
		{"TASKGRAPH_PROGRESS_INTERVAL", setDuration(&c.Executor.ProgressInterval)},
		{"TASKGRAPH_MAX_RETRIES", setInt(&c.Retry.MaxRetries)},
		{"TASKGRAPH_RETRY_INTERVAL", setDuration(&c.Retry.Interval)},
		{"TASKGRAPH_HEARTBEAT_INTERVAL", setDuration(&c.Controller.HeartbeatInterval)},
		{"TASKGRAPH_HEARTBEAT_TIMEOUT", setDuration(&c.Controller.HeartbeatTimeout)},
		{"TASKGRAPH_AUTO_RESUME", setBool(&c.Controller.AutoResume)},
		{"TASKGRAPH_STORE_DRIVER", setString(&c.Store.Driver)},
		{"TASKGRAPH_STORE_PATH", setString(&c.Store.Path)},
		{"TASKGRAPH_DATABASE_URL", setString(&c.Store.DSN)},
		{"TASKGRAPH_DEPLOYMENTS_DIR", setString(&c.Deployments.Dir)},
		{"TASKGRAPH_GCE_ENABLED", setBool(&c.GCE.Enabled)},
		{"TASKGRAPH_GCE_PROJECT", setString(&c.GCE.Project)},
		{"TASKGRAPH_GCE_ENDPOINT", setString(&c.GCE.Endpoint)},
		{"TASKGRAPH_GCE_CREDENTIALS_FILE", setString(&c.GCE.CredentialsFile)},
	}
	for _, b := range bindings {
		v, ok := lookup(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(v); err != nil {
			return engerrors.NewValidationFailedError(b.name, v, "Configuration load").WithOriginalError(err)
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func invalid(msg string) error {
	return engerrors.NewValidationError(engerrors.CodeValidationConfig, msg, "Configuration validation")
}

// Validate checks values that would make the worker misbehave
func (c *Config) Validate() error {
	if c.Executor.MaxParallelTasks <= 0 {
		return invalid(fmt.Sprintf("executor.max_parallel_tasks must be positive, got %d", c.Executor.MaxParallelTasks))
	}
	if c.Executor.TaskTimeout < 0 {
		return invalid("executor.task_timeout must not be negative")
	}
	if c.Retry.Interval < 0 || c.Retry.BackoffFactor < 0 {
		return invalid("retry.interval and retry.backoff_factor must not be negative")
	}
	if c.Controller.HeartbeatInterval <= 0 {
		return invalid("controller.heartbeat_interval must be positive")
	}
	if c.Controller.HeartbeatTimeout <= c.Controller.HeartbeatInterval {
		return invalid(fmt.Sprintf("controller.heartbeat_timeout (%s) must exceed heartbeat_interval (%s)",
			c.Controller.HeartbeatTimeout, c.Controller.HeartbeatInterval))
	}

	switch c.Store.Driver {
	case store.DriverMemory:
	case store.DriverFile:
		if c.Store.Path == "" {
			return invalid("store.path is required for the file store")
		}
	case store.DriverPostgres:
		if c.Store.DSN == "" {
			return invalid("store.dsn is required for the postgres store")
		}
	default:
		return invalid(fmt.Sprintf("unknown store.driver %q (memory, file, postgres)", c.Store.Driver))
	}

	if c.GCE.Enabled && c.GCE.Project == "" {
		return invalid("gce.project is required when gce.enabled is set")
	}
	return nil
}

// ExecutorConfig converts the executor section
func (c *Config) ExecutorConfig() *dag.ExecutorConfig {
	cfg := dag.DefaultExecutorConfig()
	cfg.MaxParallelTasks = c.Executor.MaxParallelTasks
	cfg.TaskTimeout = c.Executor.TaskTimeout
	cfg.FailFast = c.Executor.FailFast
	cfg.ProgressInterval = c.Executor.ProgressInterval
	return cfg
}

// RetryPolicy converts the retry section
func (c *Config) RetryPolicy() *dag.RetryPolicy {
	return &dag.RetryPolicy{
		MaxRetries:    c.Retry.MaxRetries,
		Interval:      c.Retry.Interval,
		BackoffFactor: c.Retry.BackoffFactor,
		MaxInterval:   c.Retry.MaxInterval,
	}
}

// StoreOptions converts the store section
func (c *Config) StoreOptions() store.Options {
	return store.Options{Driver: c.Store.Driver, Path: c.Store.Path, DSN: c.Store.DSN}
}
