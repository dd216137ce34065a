package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Workspace is an isolated directory holding deployments and a file store
// shared by every taskgraph process a test starts.
type Workspace struct {
	Dir            string
	DeploymentsDir string
	StorePath      string
	Binary         string
	// Env is appended to the environment of every process
	Env []string
}

// SetupTestWorkspace creates a unique workspace in tmp_integration_tests/.
// The directory is removed when the test ends unless keep is set or
// PRESERVE_TEST_WORKSPACE=true.
func SetupTestWorkspace(t *testing.T, keep bool) *Workspace {
	t.Helper()

	root, err := filepath.Abs(filepath.Join("..", "tmp_integration_tests"))
	require.NoError(t, err, "failed to get workspace root path")

	randomBytes := make([]byte, 4)
	_, err = rand.Read(randomBytes)
	require.NoError(t, err, "failed to generate random bytes")

	testName := strings.ReplaceAll(t.Name(), "/", "_")
	dir := filepath.Join(root, fmt.Sprintf("%s-%s", testName, hex.EncodeToString(randomBytes)))

	ws := &Workspace{
		Dir:            dir,
		DeploymentsDir: filepath.Join(dir, "deployments"),
		StorePath:      filepath.Join(dir, "store"),
		Binary:         GetBinaryPath(),
	}
	require.NoError(t, os.MkdirAll(ws.DeploymentsDir, 0755), "failed to create deployments directory")
	require.NoError(t, os.MkdirAll(ws.StorePath, 0755), "failed to create store directory")

	t.Cleanup(func() {
		if keep || os.Getenv("PRESERVE_TEST_WORKSPACE") == "true" {
			t.Logf("Workspace preserved in: %s", dir)
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			t.Logf("Warning: failed to clean up workspace directory %s: %v", dir, err)
		}
	})
	return ws
}

// Path returns a path inside the workspace
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// WriteDeployment stores a deployment document as <id>.yaml
func (w *Workspace) WriteDeployment(t *testing.T, id, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(w.DeploymentsDir, id+".yaml"), []byte(doc), 0644))
}

func (w *Workspace) command(ctx context.Context, args ...string) *exec.Cmd {
	full := append([]string{
		"--store", "file",
		"--store-path", w.StorePath,
		"--deployments-dir", w.DeploymentsDir,
	}, args...)
	cmd := exec.CommandContext(ctx, w.Binary, full...)
	cmd.Dir = w.Dir
	cmd.Env = append(os.Environ(), w.Env...)
	return cmd
}

// Run executes taskgraph to completion and returns its combined output
func (w *Workspace) Run(ctx context.Context, args ...string) (string, error) {
	out, err := w.command(ctx, args...).CombinedOutput()
	return string(out), err
}

// Start launches taskgraph in the background; the caller waits on or kills it
func (w *Workspace) Start(t *testing.T, args ...string) *exec.Cmd {
	t.Helper()
	cmd := w.command(context.Background(), args...)
	logFile, err := os.Create(w.Path(fmt.Sprintf("%s-%d.log", args[0], time.Now().UnixNano())))
	require.NoError(t, err)
	t.Cleanup(func() { logFile.Close() })
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	require.NoError(t, cmd.Start(), "failed to start %s", strings.Join(args, " "))
	t.Cleanup(func() {
		if cmd.ProcessState == nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
	})
	return cmd
}

// ExecutionID picks the ID of the first execution of workflow from `list` output
func ExecutionID(listOutput, workflow string) string {
	for _, line := range strings.Split(listOutput, "\n") {
		if !strings.Contains(line, workflow) {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(line, "│", " "))
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// Eventually polls cond until it holds or timeout passes
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("timed out after %s: %s", timeout, msg)
}
