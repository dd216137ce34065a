// Package controller owns the executions of one worker process. It starts,
// cancels and resumes executions, routes calls for executions owned by
// other workers through the store, and recovers executions whose owner died.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maxkimambo/taskgraph/internal/dag"
	"github.com/maxkimambo/taskgraph/internal/deployment"
	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
	"github.com/maxkimambo/taskgraph/internal/logger"
	"github.com/maxkimambo/taskgraph/internal/operations"
	"github.com/maxkimambo/taskgraph/internal/store"
	"github.com/maxkimambo/taskgraph/internal/workflows"
)

// ErrClosed is returned by calls made after Teardown
var ErrClosed = errors.New("controller is shut down")

// Config tunes a controller
type Config struct {
	// WorkerID identifies this process as execution owner; generated when empty.
	// Processes may share an ID; liveness then still comes from heartbeats.
	WorkerID          string
	Executor          *dag.ExecutorConfig
	RetryPolicy       *dag.RetryPolicy
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	AutoResume        bool
}

// DefaultConfig returns a configuration suitable for a single worker
func DefaultConfig() Config {
	return Config{
		Executor:          dag.DefaultExecutorConfig(),
		RetryPolicy:       dag.NewDefaultRetryPolicy(),
		HeartbeatInterval: 10 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		AutoResume:        true,
	}
}

type runner struct {
	executor *dag.Executor
	done     chan struct{}
	err      error
}

// Controller is the process-wide registry of live executions
type Controller struct {
	cfg         Config
	store       store.Store
	workflows   *workflows.Registry
	operations  *operations.Registry
	deployments deployment.Source

	locks *executionLocks

	mu      sync.RWMutex
	running map[string]*runner
	closed  bool
	started bool

	runCtx    context.Context
	cancelRun context.CancelFunc
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a controller. Call Init before serving requests so crashed
// executions are recovered and heartbeats run.
func New(st store.Store, wf *workflows.Registry, ops *operations.Registry, src deployment.Source, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.Executor == nil {
		cfg.Executor = def.Executor
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		cfg.HeartbeatTimeout = 6 * cfg.HeartbeatInterval
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = newWorkerID()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:         cfg,
		store:       st,
		workflows:   wf,
		operations:  ops,
		deployments: src,
		locks:       newExecutionLocks(),
		running:     make(map[string]*runner),
		runCtx:      runCtx,
		cancelRun:   cancel,
		stop:        make(chan struct{}),
	}
}

func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// WorkerID returns the owner ID this controller records on its executions
func (c *Controller) WorkerID() string {
	return c.cfg.WorkerID
}

// Init scans the store for executions abandoned by dead workers and starts
// the heartbeat loop. It is safe to call more than once.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	logger.Op.WithFields(map[string]interface{}{
		"worker":      c.cfg.WorkerID,
		"auto_resume": c.cfg.AutoResume,
	}).Info("Controller starting")

	if err := c.scan(ctx); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.heartbeatLoop()
	return nil
}

// Teardown stops every local executor without writing further state, the
// same way a crash would leave them, and waits for their goroutines.
func (c *Controller) Teardown() {
	c.mu.Lock()
	c.closed = true
	runners := make([]*runner, 0, len(c.running))
	for _, r := range c.running {
		runners = append(runners, r)
	}
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })
	for _, r := range runners {
		r.executor.Abandon()
	}
	c.cancelRun()
	c.wg.Wait()

	logger.Op.WithFields(map[string]interface{}{
		"worker":    c.cfg.WorkerID,
		"abandoned": len(runners),
	}).Info("Controller stopped")
}

func (c *Controller) local(id string) *runner {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running[id]
}

func (c *Controller) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// isLive reports whether some worker is still driving the execution
func (c *Controller) isLive(snap *dag.ExecutionSnapshot) bool {
	if snap.OwnerID == "" {
		return false
	}
	if snap.OwnerID == c.cfg.WorkerID && c.local(snap.ID) != nil {
		return true
	}
	return time.Since(snap.HeartbeatAt) < c.cfg.HeartbeatTimeout
}

func (c *Controller) buildGraph(ctx context.Context, id, workflowName, deploymentID string, params map[string]interface{}) (*dag.Graph, error) {
	dep, err := c.deployments.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	return c.workflows.Build(workflowName, &workflows.Context{
		ExecutionID: id,
		Deployment:  dep,
		Parameters:  params,
		Operations:  c.operations,
		Instances:   c.store,
		RetryPolicy: c.cfg.RetryPolicy,
	})
}

// rehydrate rebuilds the graph of a persisted execution and applies its task state
func (c *Controller) rehydrate(ctx context.Context, snap *dag.ExecutionSnapshot) (*dag.Execution, error) {
	graph, err := c.buildGraph(ctx, snap.ID, snap.WorkflowName, snap.DeploymentID, snap.Parameters)
	if err != nil {
		return nil, err
	}
	return dag.RestoreExecution(snap, graph)
}

func (c *Controller) launch(exec *dag.Execution) {
	cfg := *c.cfg.Executor
	r := &runner{
		executor: dag.NewExecutor(exec, c.store, &cfg),
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	c.running[exec.ID] = r
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		r.err = r.executor.Run(c.runCtx)

		c.mu.Lock()
		if c.running[exec.ID] == r {
			delete(c.running, exec.ID)
		}
		c.mu.Unlock()
		close(r.done)

		if r.err != nil && !errors.Is(r.err, dag.ErrAbandoned) && !errors.Is(r.err, context.Canceled) {
			logger.Op.WithFields(map[string]interface{}{
				"execution": exec.ID,
			}).Errorf("Executor stopped with error: %v", r.err)
		}
	}()
}

// Start builds the graph of workflowName over the deployment, records the
// execution and runs it in the background. It returns the new execution ID.
func (c *Controller) Start(ctx context.Context, workflowName, deploymentID string, params map[string]interface{}) (string, error) {
	if c.isClosed() {
		return "", ErrClosed
	}

	id := uuid.NewString()
	graph, err := c.buildGraph(ctx, id, workflowName, deploymentID, params)
	if err != nil {
		return "", err
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	exec := dag.NewExecution(id, deploymentID, workflowName, params, graph)
	exec.SetOwner(c.cfg.WorkerID)
	if err := c.store.Save(ctx, exec.Snapshot()); err != nil {
		return "", err
	}

	logger.Op.WithFields(map[string]interface{}{
		"execution":  id,
		"workflow":   workflowName,
		"deployment": deploymentID,
		"tasks":      graph.Size(),
	}).Info("Execution registered")

	c.launch(exec)
	return id, nil
}

// Cancel stops an execution. A graceful cancel lets running tasks finish;
// kill abandons them. Cancelling a cancelled execution is a no-op.
func (c *Controller) Cancel(ctx context.Context, id string, kill bool) error {
	unlock := c.locks.Lock(id)
	defer unlock()

	if r := c.local(id); r != nil {
		status := r.executor.Execution().Status()
		if err := checkCancellable(id, status); err != nil || status == dag.ExecutionCancelled {
			return err
		}
		r.executor.Cancel(kill)
		return nil
	}

	snap, err := c.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := checkCancellable(id, snap.Status); err != nil || snap.Status == dag.ExecutionCancelled {
		return err
	}

	if c.isLive(snap) {
		logger.User.Cancellingf("Execution %s is owned by worker %s, cancel request recorded", id, snap.OwnerID)
		return c.store.RequestCancel(ctx, id, kill)
	}

	logger.User.Cancellingf("Execution %s has no live owner, marking it cancelled", id)
	return c.markCancelled(ctx, snap)
}

func checkCancellable(id string, status dag.ExecutionStatus) error {
	switch status {
	case dag.ExecutionTerminated, dag.ExecutionFailed:
		return engerrors.NewInvalidTransitionError(id, string(status), string(dag.ExecutionCancelling))
	}
	return nil
}

// markCancelled finishes the cancel of an execution nobody drives. The
// snapshot is written as is so its stale heartbeat survives.
func (c *Controller) markCancelled(ctx context.Context, snap *dag.ExecutionSnapshot) error {
	for _, next := range []dag.ExecutionStatus{dag.ExecutionCancelling, dag.ExecutionCancelled} {
		if dag.CanTransitionExecution(snap.Status, next) {
			snap.Status = next
		}
	}
	now := time.Now().UTC()
	snap.UpdatedAt = now
	snap.EndedAt = &now
	if err := c.store.Save(ctx, snap); err != nil {
		return err
	}
	return c.store.ClearCancel(ctx, snap.ID)
}

// Resume restarts a cancelled, failed or crash-interrupted execution.
// Without force it refuses when an interrupted task is not resumable.
// Resuming an execution that is already running is a no-op.
func (c *Controller) Resume(ctx context.Context, id string, force bool) error {
	if c.isClosed() {
		return ErrClosed
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	if r := c.local(id); r != nil {
		switch status := r.executor.Execution().Status(); status {
		case dag.ExecutionPending, dag.ExecutionStarted:
			return nil
		case dag.ExecutionCancelling:
			return engerrors.NewResumeStateError(id, string(status))
		}
		// terminal but the run goroutine has not returned yet
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	snap, err := c.store.Load(ctx, id)
	if err != nil {
		return err
	}

	switch snap.Status {
	case dag.ExecutionTerminated:
		return engerrors.NewResumeStateError(id, string(snap.Status))
	case dag.ExecutionPending, dag.ExecutionStarted:
		if c.isLive(snap) {
			return nil
		}
	case dag.ExecutionCancelling:
		if c.isLive(snap) {
			return engerrors.NewResumeStateError(id, string(snap.Status))
		}
	}
	return c.resume(ctx, snap, force)
}

// resume must be called with the execution lock held
func (c *Controller) resume(ctx context.Context, snap *dag.ExecutionSnapshot, force bool) error {
	exec, err := c.rehydrate(ctx, snap)
	if err != nil {
		return err
	}
	graph := exec.Graph()

	if blocked := graph.NonResumableInterrupted(); len(blocked) > 0 {
		if !force {
			return engerrors.NewNonResumableError(exec.ID, blocked)
		}
		logger.User.Warnf("Force resuming %s: non-resumable task(s) %v will run again from the start", exec.ID, blocked)
	}

	if exec.Status() == dag.ExecutionCancelling {
		if err := exec.Transition(dag.ExecutionCancelled); err != nil {
			return err
		}
	}
	reset := graph.ResetForResume()
	exec.ClearFailures()
	if err := exec.Transition(dag.ExecutionStarted); err != nil {
		return err
	}
	exec.Adopt(c.cfg.WorkerID)
	if err := c.store.ClearCancel(ctx, exec.ID); err != nil {
		return err
	}
	if err := c.store.Save(ctx, exec.Snapshot()); err != nil {
		return err
	}

	logger.User.Resumingf("Resuming execution %s, %d task(s) queued again", exec.ID, len(reset))
	logger.Op.WithFields(map[string]interface{}{
		"execution": exec.ID,
		"previous":  snap.OwnerID,
		"force":     force,
		"reset":     reset,
	}).Info("Execution resumed")

	c.launch(exec)
	return nil
}

// Get returns the current snapshot of an execution, live when it runs here
func (c *Controller) Get(ctx context.Context, id string) (*dag.ExecutionSnapshot, error) {
	if r := c.local(id); r != nil {
		return r.executor.Execution().Snapshot(), nil
	}
	return c.store.Load(ctx, id)
}

// GetStatus returns the status of an execution
func (c *Controller) GetStatus(ctx context.Context, id string) (dag.ExecutionStatus, error) {
	snap, err := c.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return snap.Status, nil
}

// List returns stored executions, filtered by status when any are given
func (c *Controller) List(ctx context.Context, statuses ...dag.ExecutionStatus) ([]*dag.ExecutionSnapshot, error) {
	return c.store.List(ctx, statuses...)
}

// Wait blocks until the local run of id returns, then reports the execution.
// For executions not running here it returns the stored state immediately.
func (c *Controller) Wait(ctx context.Context, id string) (*dag.ExecutionSnapshot, error) {
	if r := c.local(id); r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if r.err != nil {
			snap, err := c.store.Load(ctx, id)
			if err != nil {
				return nil, err
			}
			return snap, r.err
		}
	}
	return c.Get(ctx, id)
}

// Running returns the IDs of executions driven by this controller
func (c *Controller) Running() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.running))
	for id := range c.running {
		ids = append(ids, id)
	}
	return ids
}

// Inspect returns the execution with its task graph, rebuilt from the store
// when it does not run here. The result must not be run.
func (c *Controller) Inspect(ctx context.Context, id string) (*dag.Execution, error) {
	if r := c.local(id); r != nil {
		return r.executor.Execution(), nil
	}
	snap, err := c.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.rehydrate(ctx, snap)
}
