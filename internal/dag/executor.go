package dag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maxkimambo/taskgraph/internal/errors"
	"github.com/maxkimambo/taskgraph/internal/logger"
	"github.com/maxkimambo/taskgraph/internal/progress"
)

// ExecutorConfig contains configuration for the graph executor
type ExecutorConfig struct {
	// MaxParallelTasks is the maximum number of task attempts in flight
	MaxParallelTasks int

	// TaskTimeout bounds attempts of tasks that declare no timeout; zero means none
	TaskTimeout time.Duration

	// FailFast stops dispatching after the first permanent task failure
	FailFast bool

	// ProgressInterval is how often progress is logged; zero disables it
	ProgressInterval time.Duration

	// SaveTimeout bounds each checkpoint write
	SaveTimeout time.Duration
}

// DefaultExecutorConfig returns a default configuration
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxParallelTasks: 10,
		ProgressInterval: 30 * time.Second,
		SaveTimeout:      30 * time.Second,
	}
}

// ErrAbandoned is returned by Run when the executor was abandoned without final writes
var ErrAbandoned = fmt.Errorf("executor abandoned")

type cancelRequest struct {
	kill bool
}

type attemptEvent struct {
	attempt *Attempt
	started bool
}

// Executor drives one execution graph to a terminal status. All task and
// execution status changes happen on the Run goroutine and are checkpointed
// after each transition.
type Executor struct {
	execution *Execution
	graph     *Graph
	config    *ExecutorConfig
	store     Checkpointer

	events      chan attemptEvent
	control     chan cancelRequest
	abandon     chan struct{}
	abandonOnce sync.Once
	finished    chan struct{}

	// owned by the Run goroutine
	inflight map[string]*Attempt
	stopping bool
	saveErr  error

	// nil when progress reporting is off
	reporter *progress.Reporter

	mutex     sync.RWMutex
	running   bool
	startTime time.Time
}

// NewExecutor creates an executor for execution. store may be nil.
func NewExecutor(execution *Execution, store Checkpointer, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if config.MaxParallelTasks <= 0 {
		config.MaxParallelTasks = 1
	}
	if config.SaveTimeout <= 0 {
		config.SaveTimeout = 30 * time.Second
	}

	graph := execution.Graph()
	if config.TaskTimeout > 0 {
		for _, t := range graph.Tasks() {
			t.applyDefaultTimeout(config.TaskTimeout)
		}
	}

	var reporter *progress.Reporter
	if config.ProgressInterval > 0 {
		reporter = progress.NewReporter(config.ProgressInterval)
	}

	return &Executor{
		execution: execution,
		graph:     graph,
		config:    config,
		store:     store,
		events:    make(chan attemptEvent),
		control:   make(chan cancelRequest, 4),
		abandon:   make(chan struct{}),
		finished:  make(chan struct{}),
		inflight:  make(map[string]*Attempt),
		reporter:  reporter,
	}
}

// Execution returns the execution this executor drives
func (e *Executor) Execution() *Execution {
	return e.execution
}

// Run drives the execution until it reaches a terminal status. Task failures
// are recorded in the execution, not returned. Run returns the first
// checkpoint error, ctx.Err() if ctx ends first, or ErrAbandoned.
func (e *Executor) Run(ctx context.Context) error {
	defer close(e.finished)

	e.mutex.Lock()
	e.running = true
	e.startTime = time.Now()
	e.mutex.Unlock()
	defer func() {
		e.mutex.Lock()
		e.running = false
		e.mutex.Unlock()
	}()

	if e.execution.Status() == ExecutionPending {
		if err := e.execution.Transition(ExecutionStarted); err != nil {
			return err
		}
		e.save()
	}
	if status := e.execution.Status(); status != ExecutionStarted {
		return errors.NewInvalidTransitionError(e.execution.ID, string(status), string(ExecutionStarted))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.User.Startingf("Execution %s: running %s with %d tasks (max %d parallel)",
		e.execution.ID, e.execution.WorkflowName, e.graph.Size(), e.config.MaxParallelTasks)

	var tick <-chan time.Time
	if e.reporter != nil {
		ticker := time.NewTicker(e.reporter.Interval())
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if e.execution.Status() == ExecutionStarted && !e.stopping {
			e.dispatch(runCtx)
		}
		if e.checkFinished() {
			break
		}

		select {
		case ev := <-e.events:
			e.handleEvent(runCtx, ev)
			if !ev.started && e.reporter != nil && e.reporter.ShouldReport() {
				e.printProgress()
			}
		case req := <-e.control:
			if e.handleCancel(req) {
				e.logFinal()
				return e.saveErr
			}
		case <-tick:
			e.printProgress()
		case <-e.abandon:
			e.abandonInflight()
			return ErrAbandoned
		case <-ctx.Done():
			e.abandonInflight()
			return ctx.Err()
		}
	}

	e.logFinal()
	return e.saveErr
}

// Cancel asks the run loop to cancel. A graceful cancel lets started
// attempts finish; kill abandons them and cancels immediately.
func (e *Executor) Cancel(kill bool) {
	select {
	case e.control <- cancelRequest{kill: kill}:
	case <-e.finished:
	}
}

// Abandon stops the run loop without writing any further state, leaving the
// persisted execution exactly as a crashed worker would.
func (e *Executor) Abandon() {
	e.abandonOnce.Do(func() { close(e.abandon) })
}

// Done is closed when Run returns
func (e *Executor) Done() <-chan struct{} {
	return e.finished
}

// IsRunning returns true while Run is active
func (e *Executor) IsRunning() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

// GetProgress returns succeeded and total task counts
func (e *Executor) GetProgress() (completed, total int) {
	counts := e.graph.StatusCounts()
	return counts[TaskSucceeded], e.graph.Size()
}

// dispatch sends ready tasks up to the concurrency cap. Barriers succeed on
// the spot and may release more tasks, so the frontier is walked until stable.
func (e *Executor) dispatch(ctx context.Context) {
	changed := false
	for {
		released := false
		for _, t := range e.graph.ReadyTasks() {
			if t.Kind() == KindBarrier {
				if err := e.graph.MarkSucceeded(t.ID(), nil); err != nil {
					logger.Op.Errorf("barrier %s: %v", t.ID(), err)
					continue
				}
				released = true
				changed = true
				continue
			}
			if len(e.inflight) >= e.config.MaxParallelTasks {
				continue
			}
			e.track(t.Send(ctx))
			changed = true

			logger.Op.WithFields(map[string]interface{}{
				"execution": e.execution.ID,
				"task":      t.ID(),
			}).Debug("Task sent")
		}
		if !released {
			break
		}
	}
	if changed {
		e.save()
	}
}

func (e *Executor) track(a *Attempt) {
	e.inflight[a.Task().ID()] = a
	go e.watch(a)
}

// watch forwards attempt progress to the run loop, started before done
func (e *Executor) watch(a *Attempt) {
	select {
	case <-a.Started():
		e.emit(attemptEvent{attempt: a, started: true})
	case <-a.Done():
		if a.Began() {
			e.emit(attemptEvent{attempt: a, started: true})
		}
	}
	<-a.Done()
	e.emit(attemptEvent{attempt: a})
}

func (e *Executor) emit(ev attemptEvent) {
	select {
	case e.events <- ev:
	case <-e.finished:
	}
}

func (e *Executor) handleEvent(ctx context.Context, ev attemptEvent) {
	t := ev.attempt.Task()
	if e.inflight[t.ID()] != ev.attempt {
		// abandoned by a kill; its completion is ignored
		return
	}

	fields := map[string]interface{}{"execution": e.execution.ID, "task": t.ID()}

	if ev.started {
		if err := t.markStarted(); err != nil {
			logger.Op.WithFields(fields).Errorf("Cannot mark task started: %v", err)
			return
		}
		if t.Kind() == KindOperation {
			logger.User.Infof("Starting task: %s", t.Name())
		}
		logger.Op.WithFields(fields).Debug("Task started")
		e.save()
		return
	}

	delete(e.inflight, t.ID())
	out := ev.attempt.Outcome()

	switch {
	case out.Aborted:
		if err := t.setStatus(TaskPending); err != nil {
			logger.Op.WithFields(fields).Errorf("Cannot revert aborted task: %v", err)
		}
		logger.Op.WithFields(fields).Debug("Attempt withdrawn before start")
	case out.Err == nil:
		e.handleSuccess(ctx, t, out.Result)
	default:
		e.handleFailure(ctx, t, out.Err)
	}
	e.save()
}

func (e *Executor) handleSuccess(ctx context.Context, t *Task, result interface{}) {
	switch t.successAction(result) {
	case HandlerRetry:
		logger.Op.WithFields(map[string]interface{}{
			"execution": e.execution.ID,
			"task":      t.ID(),
		}).Debug("Success handler requested another attempt")
		e.retry(ctx, t)
	case HandlerFail:
		e.fail(t, errors.NewOperationFailure(t.ID(), t.RetryCount()+1,
			fmt.Errorf("result rejected by success handler")))
	default:
		if err := e.graph.MarkSucceeded(t.ID(), result); err != nil {
			logger.Op.Errorf("task %s: %v", t.ID(), err)
			return
		}
		if t.Kind() == KindOperation {
			logger.User.Successf("Task completed: %s", t.Name())
		}
	}
}

func (e *Executor) handleFailure(ctx context.Context, t *Task, cause error) {
	opErr := errors.NewOperationFailure(t.ID(), t.RetryCount()+1, cause)
	t.recordError(opErr)

	switch t.failureAction(cause) {
	case HandlerIgnore:
		logger.User.Warnf("Task %s failed, ignoring: %v", t.Name(), cause)
		if err := e.graph.MarkSucceeded(t.ID(), nil); err != nil {
			logger.Op.Errorf("task %s: %v", t.ID(), err)
		}
	case HandlerFail:
		e.fail(t, opErr)
	default:
		logger.Op.WithFields(map[string]interface{}{
			"execution": e.execution.ID,
			"task":      t.ID(),
			"attempt":   t.RetryCount() + 1,
		}).Warnf("Task attempt failed: %v", cause)
		e.retry(ctx, t)
	}
}

// retry schedules another attempt. While cancelling or stopping, no new
// attempt is made and the task goes back to pending if budget remains.
func (e *Executor) retry(ctx context.Context, t *Task) {
	if e.execution.Status() != ExecutionStarted || e.stopping {
		if t.RetryPolicy().CanRetry(t.RetryCount()) {
			if err := t.setStatus(TaskPending); err != nil {
				logger.Op.Errorf("task %s: %v", t.ID(), err)
			}
			return
		}
	}

	a, err := t.Retry(ctx)
	if err != nil {
		e.fail(t, err)
		return
	}
	e.track(a)

	policy := t.RetryPolicy()
	if policy.Unlimited() {
		logger.Op.Debugf("Retrying %s (retry %d)", t.ID(), t.RetryCount())
		return
	}
	logger.User.Retryingf("Retrying %s (%d/%d)", t.Name(), t.RetryCount(), policy.MaxRetries)
}

func (e *Executor) fail(t *Task, err error) {
	if markErr := t.markFailed(err); markErr != nil {
		logger.Op.Errorf("task %s: %v", t.ID(), markErr)
	}
	e.execution.AddFailure(t.ID(), err)
	logger.User.Errorf("Task failed: %s - %v", t.Name(), err)

	if e.config.FailFast && !e.stopping {
		e.stopping = true
		logger.User.Warnf("Execution %s: fail-fast, no new tasks will be dispatched", e.execution.ID)
	}
}

func (e *Executor) handleCancel(req cancelRequest) bool {
	status := e.execution.Status()
	if status.IsTerminal() {
		return false
	}

	if status == ExecutionStarted {
		if err := e.execution.Transition(ExecutionCancelling); err != nil {
			logger.Op.Errorf("execution %s: %v", e.execution.ID, err)
			return false
		}
		e.save()
	}

	if !req.kill {
		logger.User.Cancellingf("Cancelling execution %s, waiting for %d running tasks", e.execution.ID, len(e.inflight))
		for _, a := range e.inflight {
			a.Abort()
		}
		return false
	}

	logger.User.Cancellingf("Killing execution %s, abandoning %d running tasks", e.execution.ID, len(e.inflight))
	e.abandonInflight()
	if err := e.execution.Transition(ExecutionCancelled); err != nil {
		logger.Op.Errorf("execution %s: %v", e.execution.ID, err)
	}
	e.save()
	return true
}

// abandonInflight stops tracking every attempt. Their tasks keep the sent or
// started status so a later resume sees them as interrupted.
func (e *Executor) abandonInflight() {
	for id, a := range e.inflight {
		a.Cancel()
		delete(e.inflight, id)
	}
}

// checkFinished moves the execution to a terminal status once nothing is in
// flight and no further progress is possible
func (e *Executor) checkFinished() bool {
	if len(e.inflight) > 0 {
		return false
	}

	var next ExecutionStatus
	switch e.execution.Status() {
	case ExecutionCancelling:
		next = ExecutionCancelled
	case ExecutionStarted:
		switch {
		case e.graph.IsComplete():
			next = ExecutionTerminated
		case e.stopping || len(e.graph.ReadyTasks()) == 0:
			next = ExecutionFailed
			e.execution.SetError(e.failureSummary())
		default:
			return false
		}
	default:
		return true
	}

	if err := e.execution.Transition(next); err != nil {
		logger.Op.Errorf("execution %s: %v", e.execution.ID, err)
	}
	e.save()
	return true
}

func (e *Executor) failureSummary() string {
	failures := e.execution.Failures()
	if len(failures) == 0 {
		return "no runnable tasks left"
	}
	ids := make([]string, 0, len(failures))
	for _, f := range failures {
		ids = append(ids, f.TaskID)
	}
	return fmt.Sprintf("%d task(s) failed: %s", len(failures), strings.Join(ids, ", "))
}

func (e *Executor) save() {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.config.SaveTimeout)
	defer cancel()

	if err := e.store.Save(ctx, e.execution.Snapshot()); err != nil {
		logger.Op.WithFields(map[string]interface{}{
			"execution": e.execution.ID,
		}).Errorf("Checkpoint failed: %v", err)
		if e.saveErr == nil {
			e.saveErr = err
		}
	}
}

// printProgress logs current execution progress
func (e *Executor) printProgress() {
	info := e.buildProgressInfo()
	if info.TotalTasks == 0 {
		return
	}
	logger.User.Info(e.reporter.Report(info))
}

// buildProgressInfo creates detailed progress information
func (e *Executor) buildProgressInfo() progress.ProgressInfo {
	e.mutex.RLock()
	elapsed := time.Since(e.startTime)
	e.mutex.RUnlock()

	breakdown := make(map[progress.TaskKind]progress.TaskStats)
	nodes := make(map[string]progress.NodeProgress)
	completed, failed, running := 0, 0, 0

	for _, t := range e.graph.Tasks() {
		kind := progress.TaskKind(t.Kind())
		stats := breakdown[kind]
		stats.Total++

		var np progress.NodeProgress
		if t.NodeID() != "" {
			np = nodes[t.NodeID()]
			np.NodeID = t.NodeID()
			np.Total++
		}

		switch t.Status() {
		case TaskSucceeded:
			stats.Completed++
			np.Completed++
			completed++
		case TaskFailed:
			stats.Failed++
			np.Failed++
			failed++
		case TaskSent, TaskStarted:
			stats.Running++
			stats.RunningTasks = append(stats.RunningTasks, t.ID())
			np.Current = t.Name()
			running++
		default:
			stats.Pending++
		}

		breakdown[kind] = stats
		if t.NodeID() != "" {
			nodes[t.NodeID()] = np
		}
	}

	total := e.graph.Size()
	return progress.ProgressInfo{
		ExecutionID:       e.execution.ID,
		Status:            string(e.execution.Status()),
		TotalTasks:        total,
		CompletedTasks:    completed,
		FailedTasks:       failed,
		RunningTasks:      running,
		ElapsedTime:       elapsed,
		EstimatedTimeLeft: progress.CalculateETA(completed, total, elapsed),
		TaskBreakdown:     breakdown,
		NodeStats:         nodes,
	}
}

// logFinal logs the final execution summary
func (e *Executor) logFinal() {
	info := e.buildProgressInfo()

	switch e.execution.Status() {
	case ExecutionTerminated:
		logger.User.Successf("Execution %s terminated: %d/%d tasks succeeded in %s",
			e.execution.ID, info.CompletedTasks, info.TotalTasks, progress.FormatDuration(info.ElapsedTime))
	case ExecutionFailed:
		logger.User.Errorf("Execution %s failed: %s", e.execution.ID, e.execution.Error())
	case ExecutionCancelled:
		logger.User.Warnf("Execution %s cancelled: %d/%d tasks succeeded",
			e.execution.ID, info.CompletedTasks, info.TotalTasks)
	}
}
