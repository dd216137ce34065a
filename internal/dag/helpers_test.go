package dag

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingStore keeps every checkpoint written by an executor
type recordingStore struct {
	mutex sync.Mutex
	snaps []*ExecutionSnapshot
}

func (r *recordingStore) Save(_ context.Context, s *ExecutionSnapshot) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.snaps = append(r.snaps, s)
	return nil
}

func (r *recordingStore) last() *ExecutionSnapshot {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.snaps) == 0 {
		return nil
	}
	return r.snaps[len(r.snaps)-1]
}

func (r *recordingStore) statuses() []ExecutionStatus {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []ExecutionStatus
	for _, s := range r.snaps {
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}

func (r *recordingStore) taskStatuses(id string) []TaskStatus {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []TaskStatus
	for _, s := range r.snaps {
		st := s.Tasks[id].Status
		if len(out) == 0 || out[len(out)-1] != st {
			out = append(out, st)
		}
	}
	return out
}

// blockingOp blocks until released and counts invocations
type blockingOp struct {
	started  chan struct{}
	release  chan struct{}
	once     sync.Once
	mutex    sync.Mutex
	calls    int
	honorCtx bool
}

func newBlockingOp(honorCtx bool) *blockingOp {
	return &blockingOp{
		started:  make(chan struct{}),
		release:  make(chan struct{}),
		honorCtx: honorCtx,
	}
}

func (b *blockingOp) Invoke(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	b.mutex.Lock()
	b.calls++
	b.mutex.Unlock()
	b.once.Do(func() { close(b.started) })

	if b.honorCtx {
		select {
		case <-b.release:
			return "released", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	<-b.release
	return "released", nil
}

func (b *blockingOp) Calls() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.calls
}

// orderLog records the order operations ran in
type orderLog struct {
	mutex sync.Mutex
	ids   []string
}

func (o *orderLog) op(id string) Operation {
	return OperationFunc(func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
		o.mutex.Lock()
		defer o.mutex.Unlock()
		o.ids = append(o.ids, id)
		return id, nil
	})
}

func (o *orderLog) index(id string) int {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	for i, v := range o.ids {
		if v == id {
			return i
		}
	}
	return -1
}

func (o *orderLog) len() int {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return len(o.ids)
}

func noop() Operation {
	return OperationFunc(func(context.Context, map[string]interface{}) (interface{}, error) {
		return nil, nil
	})
}

func testConfig() *ExecutorConfig {
	return &ExecutorConfig{MaxParallelTasks: 4}
}

func startRun(t *testing.T, ex *Executor) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- ex.Run(context.Background()) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		require.FailNow(t, "executor did not finish")
		return nil
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting")
	}
}
