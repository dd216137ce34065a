package dag

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxkimambo/taskgraph/internal/logger"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureUserLog(t *testing.T) *lockedBuffer {
	t.Helper()
	t.Setenv("LOG_MODE", "")
	t.Setenv("LOG_FORMAT", "text")
	out := &lockedBuffer{}
	logger.SetupWithOptions(logger.Options{UserWriter: out, OpWriter: io.Discard})
	t.Cleanup(func() { logger.Setup(false, false, false) })
	return out
}

func runChain(t *testing.T, interval time.Duration) {
	t.Helper()
	slow := OperationFunc(func(context.Context, map[string]interface{}) (interface{}, error) {
		time.Sleep(15 * time.Millisecond)
		return nil, nil
	})
	g := NewGraph()
	require.NoError(t, g.Sequence().Add(
		NewTask("a", KindOperation, slow),
		NewTask("b", KindOperation, slow),
		NewTask("c", KindOperation, slow),
	))

	cfg := testConfig()
	cfg.ProgressInterval = interval
	exec := NewExecution("e", "dep", "test", nil, g)
	require.NoError(t, waitRun(t, startRun(t, NewExecutor(exec, nil, cfg))))
	require.Equal(t, ExecutionTerminated, exec.Status())
}

func TestExecutor_ReportsProgressOnInterval(t *testing.T) {
	out := captureUserLog(t)
	runChain(t, 5*time.Millisecond)

	text := out.String()
	assert.Contains(t, text, "Progress: ")
	assert.Contains(t, text, "/3 tasks completed")
	assert.Contains(t, text, "Task completed: c")
}

func TestExecutor_ProgressIsThrottled(t *testing.T) {
	out := captureUserLog(t)
	runChain(t, time.Hour)

	text := out.String()
	assert.Contains(t, text, "Task completed: a")
	assert.Equal(t, 0, strings.Count(text, "Progress: "))
}

func TestExecutor_NoProgressWhenDisabled(t *testing.T) {
	out := captureUserLog(t)
	runChain(t, 0)

	assert.NotContains(t, out.String(), "Progress: ")
}
