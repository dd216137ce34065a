package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxkimambo/taskgraph/internal/errors"
	"github.com/maxkimambo/taskgraph/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, store.DriverFile, cfg.Store.Driver)
	assert.True(t, cfg.Controller.AutoResume)
	assert.Greater(t, cfg.Controller.HeartbeatTimeout, cfg.Controller.HeartbeatInterval)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
worker_id: worker-a
executor:
  max_parallel_tasks: 4
  task_timeout: 90s
  fail_fast: true
retry:
  max_retries: 7
  interval: 250ms
controller:
  heartbeat_interval: 2s
  heartbeat_timeout: 10s
  auto_resume: false
store:
  driver: memory
deployments:
  dir: /srv/deployments
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "worker-a", cfg.WorkerID)
	assert.Equal(t, 4, cfg.Executor.MaxParallelTasks)
	assert.Equal(t, 90*time.Second, cfg.Executor.TaskTimeout)
	assert.True(t, cfg.Executor.FailFast)
	assert.Equal(t, 7, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Interval)
	assert.Equal(t, 2*time.Second, cfg.Controller.HeartbeatInterval)
	assert.False(t, cfg.Controller.AutoResume)
	assert.Equal(t, store.DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "/srv/deployments", cfg.Deployments.Dir)

	// untouched sections keep their defaults
	assert.Equal(t, ".taskgraph", cfg.Store.Path)
	assert.Equal(t, Default().Executor.ProgressInterval, cfg.Executor.ProgressInterval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "executor:\n  max_parallel_tasks: 4\n")
	t.Setenv("TASKGRAPH_MAX_PARALLEL_TASKS", "12")
	t.Setenv("TASKGRAPH_STORE_DRIVER", "postgres")
	t.Setenv("TASKGRAPH_DATABASE_URL", "postgres://localhost/taskgraph")
	t.Setenv("TASKGRAPH_AUTO_RESUME", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Executor.MaxParallelTasks)
	assert.Equal(t, store.DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/taskgraph", cfg.Store.DSN)
	assert.False(t, cfg.Controller.AutoResume)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Equal(t, "CONFIGURATION-003", errors.GetErrorCode(err))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "executor: [1, 2"))
		require.Error(t, err)
		assert.Equal(t, "CONFIGURATION-003", errors.GetErrorCode(err))
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Setenv("TASKGRAPH_HEARTBEAT_INTERVAL", "soon")
		_, err := Load(writeConfig(t, "worker_id: w\n"))
		require.Error(t, err)
		assert.Equal(t, "VALIDATION-001", errors.GetErrorCode(err))
	})
}

func TestApplyEnv_IgnoresEmptyValues(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"TASKGRAPH_WORKER_ID":   "",
		"TASKGRAPH_GCE_ENABLED": "true",
		"TASKGRAPH_GCE_PROJECT": "acme-prod",
	}
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)

	assert.Empty(t, cfg.WorkerID)
	assert.True(t, cfg.GCE.Enabled)
	assert.Equal(t, "acme-prod", cfg.GCE.Project)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero parallelism", func(c *Config) { c.Executor.MaxParallelTasks = 0 }},
		{"negative task timeout", func(c *Config) { c.Executor.TaskTimeout = -time.Second }},
		{"heartbeat timeout too short", func(c *Config) { c.Controller.HeartbeatTimeout = c.Controller.HeartbeatInterval }},
		{"unknown store", func(c *Config) { c.Store.Driver = "redis" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = store.DriverPostgres }},
		{"file store without path", func(c *Config) { c.Store.Path = "" }},
		{"gce without project", func(c *Config) { c.GCE.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, "VALIDATION-002", errors.GetErrorCode(err))
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Executor.MaxParallelTasks = 3
	cfg.Retry.MaxRetries = -1
	cfg.Store = StoreConfig{Driver: store.DriverMemory}

	exec := cfg.ExecutorConfig()
	assert.Equal(t, 3, exec.MaxParallelTasks)
	assert.Equal(t, 30*time.Second, exec.SaveTimeout)

	assert.Equal(t, -1, cfg.RetryPolicy().MaxRetries)
	assert.Equal(t, store.Options{Driver: store.DriverMemory}, cfg.StoreOptions())
}
