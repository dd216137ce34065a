package dag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maxkimambo/taskgraph/internal/errors"
)

// TaskStatus represents the execution status of a task
type TaskStatus string

const (
	// TaskPending indicates the task is waiting to be dispatched
	TaskPending TaskStatus = "pending"
	// TaskSent indicates an attempt was dispatched but the operation has not begun
	TaskSent TaskStatus = "sent"
	// TaskStarted indicates the operation is running
	TaskStarted TaskStatus = "started"
	// TaskSucceeded indicates the task completed successfully
	TaskSucceeded TaskStatus = "succeeded"
	// TaskFailed indicates the task failed with no retry left
	TaskFailed TaskStatus = "failed"
)

// InFlight reports whether a task in this status has an attempt outstanding
func (s TaskStatus) InFlight() bool {
	return s == TaskSent || s == TaskStarted
}

// TaskKind is the variant of work a task wraps
type TaskKind string

const (
	KindStateTransition TaskKind = "state_transition"
	KindOperation       TaskKind = "operation"
	KindEvent           TaskKind = "event"
	KindBarrier         TaskKind = "barrier"
)

// Operation is the capability a task invokes. The engine never looks inside.
type Operation interface {
	Invoke(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// OperationFunc adapts a function to the Operation interface
type OperationFunc func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Invoke calls f
func (f OperationFunc) Invoke(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return f(ctx, params)
}

// HandlerResult tells the executor what to do with a finished attempt
type HandlerResult int

const (
	// HandlerContinue applies the default outcome: success succeeds, failure goes through the retry policy
	HandlerContinue HandlerResult = iota
	// HandlerRetry requests another attempt after the retry interval
	HandlerRetry
	// HandlerIgnore treats the attempt as succeeded whatever happened
	HandlerIgnore
	// HandlerFail fails the task without further retries
	HandlerFail
)

func (r HandlerResult) String() string {
	switch r {
	case HandlerContinue:
		return "continue"
	case HandlerRetry:
		return "retry"
	case HandlerIgnore:
		return "ignore"
	case HandlerFail:
		return "fail"
	default:
		return "unknown"
	}
}

// SuccessHandler inspects a successful result, e.g. to keep polling until a condition holds
type SuccessHandler func(result interface{}) HandlerResult

// FailureHandler inspects an attempt error
type FailureHandler func(err error) HandlerResult

// TaskOption configures a Task at construction time
type TaskOption func(*Task)

// WithName sets a human readable name
func WithName(name string) TaskOption {
	return func(t *Task) { t.name = name }
}

// WithNode records the deployment node the task acts on
func WithNode(nodeID string) TaskOption {
	return func(t *Task) { t.nodeID = nodeID }
}

// WithParams sets the parameters passed to the operation
func WithParams(params map[string]interface{}) TaskOption {
	return func(t *Task) { t.params = params }
}

// WithResumable sets the resumability flag of an operation task
func WithResumable(resumable bool) TaskOption {
	return func(t *Task) { t.resumable = resumable }
}

// WithRetryPolicy sets the retry policy
func WithRetryPolicy(policy *RetryPolicy) TaskOption {
	return func(t *Task) { t.retryPolicy = policy }
}

// WithTimeout bounds each attempt
func WithTimeout(timeout time.Duration) TaskOption {
	return func(t *Task) { t.timeout = timeout }
}

// OnSuccess attaches a success handler
func OnSuccess(h SuccessHandler) TaskOption {
	return func(t *Task) { t.onSuccess = h }
}

// OnFailure attaches a failure handler
func OnFailure(h FailureHandler) TaskOption {
	return func(t *Task) { t.onFailure = h }
}

// Task is the atomic schedulable unit. Status is owned by the graph the task
// belongs to and only changed by the executor driving that graph.
type Task struct {
	id          string
	name        string
	kind        TaskKind
	nodeID      string
	op          Operation
	params      map[string]interface{}
	resumable   bool
	retryPolicy *RetryPolicy
	timeout     time.Duration
	onSuccess   SuccessHandler
	onFailure   FailureHandler

	mu         sync.RWMutex
	status     TaskStatus
	retryCount int
	result     interface{}
	err        error
	errMsg     string
	startTime  *time.Time
	endTime    *time.Time
	// delayed is set while a sent retry waits out its interval; such a task
	// is persisted as pending because no attempt is running
	delayed bool
}

// NewTask creates a pending task
func NewTask(id string, kind TaskKind, op Operation, opts ...TaskOption) *Task {
	t := &Task{
		id:          id,
		name:        id,
		kind:        kind,
		op:          op,
		retryPolicy: NoRetryPolicy(),
		status:      TaskPending,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewBarrier creates a synthetic task that succeeds as soon as it is ready
func NewBarrier(id string) *Task {
	return NewTask(id, KindBarrier, nil)
}

func (t *Task) ID() string { return t.id }

func (t *Task) Name() string { return t.name }

func (t *Task) Kind() TaskKind { return t.kind }

// NodeID returns the deployment node the task acts on, if any
func (t *Task) NodeID() string { return t.nodeID }

// RetryPolicy returns the task retry policy
func (t *Task) RetryPolicy() *RetryPolicy {
	return t.retryPolicy
}

// IsResumable reports whether the task may be re-invoked from the start after an interruption.
// Only operation tasks can be non-resumable.
func (t *Task) IsResumable() bool {
	if t.kind != KindOperation {
		return true
	}
	return t.resumable
}

// Status returns the current status
func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// RetryCount returns the number of retries consumed so far
func (t *Task) RetryCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retryCount
}

// Result returns the result of the last successful attempt
func (t *Task) Result() interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

// Err returns the error of the last failed attempt
func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.err == nil && t.errMsg != "" {
		return fmt.Errorf("%s", t.errMsg)
	}
	return t.err
}

// StartTime returns when the latest attempt started
func (t *Task) StartTime() *time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.startTime
}

// EndTime returns when the task last finished
func (t *Task) EndTime() *time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.endTime
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:   {TaskSent, TaskSucceeded},
	TaskSent:      {TaskStarted, TaskPending, TaskFailed},
	TaskStarted:   {TaskSucceeded, TaskFailed, TaskPending},
	TaskFailed:    {TaskPending},
	TaskSucceeded: {},
}

// canTransition reports whether from -> to is a legal task status change.
// pending -> succeeded is reserved for barriers; going back to pending happens
// on retry, aborted attempts and resume.
func canTransition(from, to TaskStatus) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (t *Task) setStatus(to TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setStatusLocked(to)
}

func (t *Task) setStatusLocked(to TaskStatus) error {
	if t.status == to {
		return nil
	}
	if !canTransition(t.status, to) {
		return fmt.Errorf("task %s: illegal status change %s -> %s", t.id, t.status, to)
	}
	t.status = to
	t.delayed = false
	return nil
}

func (t *Task) markStarted() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.setStatusLocked(TaskStarted); err != nil {
		return err
	}
	now := time.Now()
	t.startTime = &now
	t.endTime = nil
	return nil
}

func (t *Task) markSucceeded(result interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.setStatusLocked(TaskSucceeded); err != nil {
		return err
	}
	now := time.Now()
	t.endTime = &now
	t.result = result
	t.err = nil
	t.errMsg = ""
	return nil
}

func (t *Task) markFailed(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.setStatusLocked(TaskFailed); err != nil {
		return err
	}
	now := time.Now()
	t.endTime = &now
	t.err = err
	if err != nil {
		t.errMsg = err.Error()
	}
	return nil
}

func (t *Task) recordError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	if err != nil {
		t.errMsg = err.Error()
	}
}

// resetToPending reverts an interrupted or failed task so it is dispatched again.
// Succeeded tasks are never reset.
func (t *Task) resetToPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status {
	case TaskSent, TaskStarted, TaskFailed:
		t.status = TaskPending
		t.delayed = false
		return true
	}
	return false
}

// successAction decides what a successful attempt means
func (t *Task) successAction(result interface{}) HandlerResult {
	if t.onSuccess == nil {
		return HandlerContinue
	}
	return t.onSuccess(result)
}

// failureAction decides what a failed attempt means
func (t *Task) failureAction(err error) HandlerResult {
	if !errors.IsRetryableError(err) {
		return HandlerFail
	}
	if t.onFailure == nil {
		return HandlerContinue
	}
	return t.onFailure(err)
}

// Send dispatches an attempt asynchronously and marks the task sent
func (t *Task) Send(ctx context.Context) *Attempt {
	return t.send(ctx, 0)
}

// Retry consumes one retry from the budget and dispatches a new attempt after
// the retry interval. It fails with a RetriesExhausted error when no budget is left.
func (t *Task) Retry(ctx context.Context) (*Attempt, error) {
	t.mu.Lock()
	if !t.retryPolicy.CanRetry(t.retryCount) {
		lastErr := t.err
		retries := t.retryCount
		t.mu.Unlock()
		return nil, errors.NewRetriesExhaustedError(t.id, retries, lastErr)
	}
	t.retryCount++
	delay := t.retryPolicy.Delay(t.retryCount)
	t.mu.Unlock()

	return t.send(ctx, delay), nil
}

func (t *Task) send(ctx context.Context, delay time.Duration) *Attempt {
	t.mu.Lock()
	t.status = TaskSent
	t.delayed = delay > 0
	t.mu.Unlock()

	return startAttempt(ctx, t, delay)
}

// Outcome is what a finished attempt resolved to
type Outcome struct {
	Result interface{}
	Err    error
	// Aborted is set when the attempt was withdrawn before the operation began
	Aborted bool
}

// Attempt is the handle of one dispatched invocation
type Attempt struct {
	task    *Task
	delay   time.Duration
	cancel  context.CancelFunc
	started chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	began     bool
	withdrawn bool
	outcome   Outcome
}

func startAttempt(parent context.Context, t *Task, delay time.Duration) *Attempt {
	ctx, cancel := context.WithCancel(parent)
	a := &Attempt{
		task:    t,
		delay:   delay,
		cancel:  cancel,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.run(ctx)
	return a
}

// Task returns the task this attempt belongs to
func (a *Attempt) Task() *Task { return a.task }

// Started is closed when the operation begins
func (a *Attempt) Started() <-chan struct{} { return a.started }

// Done is closed when the attempt resolved
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Outcome returns the resolved outcome; only valid after Done is closed
func (a *Attempt) Outcome() Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcome
}

// Abort withdraws the attempt if the operation has not begun yet.
// It returns false when the operation is already running.
func (a *Attempt) Abort() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.began {
		return false
	}
	a.withdrawn = true
	a.cancel()
	return true
}

// Cancel cancels the attempt context. The operation may keep running out of band.
func (a *Attempt) Cancel() {
	a.cancel()
}

func (a *Attempt) run(ctx context.Context) {
	defer close(a.done)
	defer a.cancel()

	if a.delay > 0 {
		timer := time.NewTimer(a.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	a.mu.Lock()
	if a.withdrawn || ctx.Err() != nil {
		a.outcome = Outcome{Aborted: true, Err: ctx.Err()}
		a.mu.Unlock()
		return
	}
	a.began = true
	close(a.started)
	a.mu.Unlock()

	result, err := a.invoke(ctx)

	a.mu.Lock()
	a.outcome = Outcome{Result: result, Err: err}
	a.mu.Unlock()
}

func (a *Attempt) invoke(ctx context.Context) (interface{}, error) {
	t := a.task
	if t.op == nil {
		return nil, nil
	}

	invokeCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	type reply struct {
		result interface{}
		err    error
	}
	replies := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				replies <- reply{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		result, err := t.op.Invoke(invokeCtx, t.params)
		replies <- reply{result: result, err: err}
	}()

	// operations that ignore their context are abandoned on deadline
	select {
	case r := <-replies:
		return r.result, r.err
	case <-invokeCtx.Done():
		return nil, fmt.Errorf("task %s: %w", t.id, invokeCtx.Err())
	}
}

// Snapshot captures the persisted part of the task state
func (t *Task) Snapshot() TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status := t.status
	if t.delayed {
		status = TaskPending
	}
	return TaskSnapshot{
		ID:         t.id,
		Status:     status,
		RetryCount: t.retryCount,
		Error:      t.errMsg,
		Result:     t.result,
		StartTime:  t.startTime,
		EndTime:    t.endTime,
	}
}

func (t *Task) restore(s TaskSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = s.Status
	t.delayed = false
	t.retryCount = s.RetryCount
	t.errMsg = s.Error
	t.err = nil
	t.result = s.Result
	t.startTime = s.StartTime
	t.endTime = s.EndTime
}

// applyDefaultTimeout sets the attempt deadline for tasks that declare none.
// Only called before the first dispatch.
func (t *Task) applyDefaultTimeout(d time.Duration) {
	if t.timeout == 0 && t.kind != KindBarrier {
		t.timeout = d
	}
}

// Began reports whether the operation was invoked
func (a *Attempt) Began() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.began
}
