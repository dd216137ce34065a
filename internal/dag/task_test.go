package dag

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxkimambo/taskgraph/internal/errors"
)

func TestTask_Defaults(t *testing.T) {
	task := NewTask("node1.create", KindOperation, noop())

	assert.Equal(t, "node1.create", task.ID())
	assert.Equal(t, "node1.create", task.Name())
	assert.Equal(t, TaskPending, task.Status())
	assert.False(t, task.IsResumable())
	assert.Equal(t, 0, task.RetryCount())
	assert.False(t, task.RetryPolicy().CanRetry(0))
}

func TestTask_IsResumableByKind(t *testing.T) {
	tests := []struct {
		name string
		task *Task
		want bool
	}{
		{"operation default", NewTask("a", KindOperation, noop()), false},
		{"operation resumable", NewTask("a", KindOperation, noop(), WithResumable(true)), true},
		{"state transition", NewTask("a", KindStateTransition, noop(), WithResumable(false)), true},
		{"event", NewTask("a", KindEvent, noop()), true},
		{"barrier", NewBarrier("a"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.task.IsResumable())
		})
	}
}

func TestTask_StatusTransitions(t *testing.T) {
	assert.True(t, canTransition(TaskPending, TaskSent))
	assert.True(t, canTransition(TaskSent, TaskStarted))
	assert.True(t, canTransition(TaskStarted, TaskSucceeded))
	assert.True(t, canTransition(TaskFailed, TaskPending))
	assert.False(t, canTransition(TaskSucceeded, TaskPending))
	assert.False(t, canTransition(TaskPending, TaskStarted))

	task := NewTask("a", KindOperation, noop())
	assert.Error(t, task.markStarted())
	assert.Error(t, task.markFailed(nil), "pending cannot fail without an attempt")
}

func TestTask_SendResolvesOutcome(t *testing.T) {
	task := NewTask("a", KindOperation, OperationFunc(func(_ context.Context, params map[string]interface{}) (interface{}, error) {
		return params["value"], nil
	}), WithParams(map[string]interface{}{"value": 42}))

	a := task.Send(context.Background())
	assert.Equal(t, TaskSent, task.Status())

	waitClosed(t, a.Done())
	assert.True(t, a.Began())
	out := a.Outcome()
	require.NoError(t, out.Err)
	assert.Equal(t, 42, out.Result)
	assert.False(t, out.Aborted)
}

func TestTask_AttemptTimeout(t *testing.T) {
	op := newBlockingOp(false)
	task := NewTask("slow", KindOperation, op, WithTimeout(20*time.Millisecond))

	a := task.Send(context.Background())
	waitClosed(t, a.Done())

	out := a.Outcome()
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	close(op.release)
}

func TestTask_OperationPanicBecomesError(t *testing.T) {
	task := NewTask("p", KindOperation, OperationFunc(func(context.Context, map[string]interface{}) (interface{}, error) {
		panic("kaboom")
	}))

	a := task.Send(context.Background())
	waitClosed(t, a.Done())
	assert.ErrorContains(t, a.Outcome().Err, "kaboom")
}

func TestTask_RetryConsumesBudget(t *testing.T) {
	task := NewTask("r", KindOperation, noop(), WithRetryPolicy(&RetryPolicy{MaxRetries: 2}))

	for i := 1; i <= 2; i++ {
		a, err := task.Retry(context.Background())
		require.NoError(t, err)
		waitClosed(t, a.Done())
		assert.Equal(t, i, task.RetryCount())
	}

	_, err := task.Retry(context.Background())
	assert.ErrorIs(t, err, errors.ErrRetriesExhausted)
	assert.Equal(t, 2, task.RetryCount())
}

func TestTask_AbortBeforeStart(t *testing.T) {
	op := newBlockingOp(true)
	task := NewTask("w", KindOperation, op, WithRetryPolicy(&RetryPolicy{MaxRetries: 1, Interval: time.Hour}))

	a, err := task.Retry(context.Background())
	require.NoError(t, err)

	assert.True(t, a.Abort())
	waitClosed(t, a.Done())
	assert.True(t, a.Outcome().Aborted)
	assert.False(t, a.Began())
	assert.Equal(t, 0, op.Calls())
}

func TestTask_AbortAfterStartFails(t *testing.T) {
	op := newBlockingOp(true)
	task := NewTask("w", KindOperation, op)

	a := task.Send(context.Background())
	waitClosed(t, op.started)
	waitClosed(t, a.Started())

	assert.False(t, a.Abort())
	close(op.release)
	waitClosed(t, a.Done())
	assert.Equal(t, "released", a.Outcome().Result)
}

func TestTask_FailureAction(t *testing.T) {
	plain := NewTask("a", KindOperation, noop())
	assert.Equal(t, HandlerContinue, plain.failureAction(stderrors.New("transient")))
	assert.Equal(t, HandlerFail, plain.failureAction(errors.NewUnknownOperationError("x")))

	ignoring := NewTask("b", KindOperation, noop(), OnFailure(func(error) HandlerResult { return HandlerIgnore }))
	assert.Equal(t, HandlerIgnore, ignoring.failureAction(stderrors.New("x")))
}

func TestTask_SnapshotRestore(t *testing.T) {
	task := NewTask("a", KindOperation, noop())
	require.NoError(t, task.setStatus(TaskSent))
	require.NoError(t, task.markStarted())
	require.NoError(t, task.markFailed(stderrors.New("boom")))

	snap := task.Snapshot()
	assert.Equal(t, TaskFailed, snap.Status)
	assert.Equal(t, "boom", snap.Error)
	require.NotNil(t, snap.StartTime)

	other := NewTask("a", KindOperation, noop())
	other.restore(snap)
	assert.Equal(t, TaskFailed, other.Status())
	assert.EqualError(t, other.Err(), "boom")
}

func TestHandlerResult_String(t *testing.T) {
	assert.Equal(t, "retry", HandlerRetry.String())
	assert.Equal(t, "unknown", HandlerResult(99).String())
}
