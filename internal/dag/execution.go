package dag

import (
	"context"
	"sync"
	"time"

	"github.com/maxkimambo/taskgraph/internal/errors"
)

// ExecutionStatus is the lifecycle status of one workflow run
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionStarted    ExecutionStatus = "started"
	ExecutionCancelling ExecutionStatus = "cancelling"
	ExecutionCancelled  ExecutionStatus = "cancelled"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionTerminated ExecutionStatus = "terminated"
)

// IsTerminal reports whether no executor drives an execution in this status
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCancelled || s == ExecutionFailed || s == ExecutionTerminated
}

// IsActive reports whether an execution in this status has an owning worker
func (s ExecutionStatus) IsActive() bool {
	return s == ExecutionStarted || s == ExecutionCancelling
}

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionPending:    {ExecutionStarted, ExecutionCancelling, ExecutionCancelled, ExecutionFailed},
	ExecutionStarted:    {ExecutionCancelling, ExecutionFailed, ExecutionTerminated},
	ExecutionCancelling: {ExecutionCancelled},
	ExecutionCancelled:  {ExecutionStarted},
	ExecutionFailed:     {ExecutionStarted},
	ExecutionTerminated: {},
}

// CanTransitionExecution reports whether from -> to is allowed
func CanTransitionExecution(from, to ExecutionStatus) bool {
	for _, s := range executionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TaskFailure records a task that failed permanently and why
type TaskFailure struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// TaskSnapshot is the persisted state of one task
type TaskSnapshot struct {
	ID         string      `json:"id"`
	Status     TaskStatus  `json:"status"`
	RetryCount int         `json:"retry_count"`
	Error      string      `json:"error,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	StartTime  *time.Time  `json:"start_time,omitempty"`
	EndTime    *time.Time  `json:"end_time,omitempty"`
}

// ExecutionSnapshot is the persisted state of one execution
type ExecutionSnapshot struct {
	ID               string                  `json:"id"`
	DeploymentID     string                  `json:"deployment_id"`
	WorkflowName     string                  `json:"workflow_name"`
	Parameters       map[string]interface{}  `json:"parameters,omitempty"`
	Status           ExecutionStatus         `json:"status"`
	Error            string                  `json:"error,omitempty"`
	Failures         []TaskFailure           `json:"failures,omitempty"`
	OwnerID          string                  `json:"owner_id,omitempty"`
	CrashInterrupted bool                    `json:"crash_interrupted,omitempty"`
	HeartbeatAt      time.Time               `json:"heartbeat_at"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
	EndedAt          *time.Time              `json:"ended_at,omitempty"`
	Tasks            map[string]TaskSnapshot `json:"tasks"`
}

// InterruptedTaskIDs returns persisted tasks still marked sent or started
func (s *ExecutionSnapshot) InterruptedTaskIDs() []string {
	var ids []string
	for id, t := range s.Tasks {
		if t.Status.InFlight() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Checkpointer persists execution state after every transition
type Checkpointer interface {
	Save(ctx context.Context, snapshot *ExecutionSnapshot) error
}

// Execution is one run of a workflow graph
type Execution struct {
	ID           string
	DeploymentID string
	WorkflowName string
	Parameters   map[string]interface{}

	graph *Graph

	mu               sync.RWMutex
	status           ExecutionStatus
	errMsg           string
	failures         []TaskFailure
	ownerID          string
	crashInterrupted bool
	createdAt        time.Time
	endedAt          *time.Time
}

// NewExecution creates a pending execution owning graph
func NewExecution(id, deploymentID, workflowName string, params map[string]interface{}, graph *Graph) *Execution {
	if params == nil {
		params = make(map[string]interface{})
	}
	return &Execution{
		ID:           id,
		DeploymentID: deploymentID,
		WorkflowName: workflowName,
		Parameters:   params,
		graph:        graph,
		status:       ExecutionPending,
		createdAt:    time.Now().UTC(),
	}
}

// Graph returns the task graph of the execution
func (e *Execution) Graph() *Graph {
	return e.graph
}

// Status returns the current status
func (e *Execution) Status() ExecutionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Transition moves the execution to a new status
func (e *Execution) Transition(to ExecutionStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == to {
		return nil
	}
	if !CanTransitionExecution(e.status, to) {
		return errors.NewInvalidTransitionError(e.ID, string(e.status), string(to))
	}

	e.status = to
	switch {
	case to.IsTerminal():
		now := time.Now().UTC()
		e.endedAt = &now
	case to == ExecutionStarted:
		e.endedAt = nil
		e.crashInterrupted = false
	}
	return nil
}

// SetOwner records the worker driving the execution
func (e *Execution) SetOwner(ownerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ownerID = ownerID
}

// Owner returns the worker driving the execution
func (e *Execution) Owner() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ownerID
}

// Adopt hands a resumed execution to ownerID and clears the crash marker
func (e *Execution) Adopt(ownerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ownerID = ownerID
	e.crashInterrupted = false
}

// MarkCrashInterrupted flags an execution whose owner died
func (e *Execution) MarkCrashInterrupted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.crashInterrupted = true
}

// CrashInterrupted reports whether the owning worker was found dead
func (e *Execution) CrashInterrupted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.crashInterrupted
}

// SetError records the execution level error
func (e *Execution) SetError(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errMsg = msg
}

// Error returns the execution level error, if any
func (e *Execution) Error() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.errMsg
}

// AddFailure records a permanently failed task
func (e *Execution) AddFailure(taskID string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	for i, f := range e.failures {
		if f.TaskID == taskID {
			e.failures[i].Error = msg
			return
		}
	}
	e.failures = append(e.failures, TaskFailure{TaskID: taskID, Error: msg})
}

// Failures returns the recorded task failures
func (e *Execution) Failures() []TaskFailure {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]TaskFailure(nil), e.failures...)
}

// ClearFailures drops failure records before a resume
func (e *Execution) ClearFailures() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = nil
	e.errMsg = ""
}

// Snapshot captures the execution and its task state
func (e *Execution) Snapshot() *ExecutionSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := time.Now().UTC()
	return &ExecutionSnapshot{
		ID:               e.ID,
		DeploymentID:     e.DeploymentID,
		WorkflowName:     e.WorkflowName,
		Parameters:       e.Parameters,
		Status:           e.status,
		Error:            e.errMsg,
		Failures:         append([]TaskFailure(nil), e.failures...),
		OwnerID:          e.ownerID,
		CrashInterrupted: e.crashInterrupted,
		HeartbeatAt:      now,
		CreatedAt:        e.createdAt,
		UpdatedAt:        now,
		EndedAt:          e.endedAt,
		Tasks:            e.graph.Snapshot(),
	}
}

// RestoreExecution rebuilds an execution around a freshly built graph from persisted state
func RestoreExecution(snap *ExecutionSnapshot, graph *Graph) (*Execution, error) {
	if err := graph.Restore(snap.Tasks); err != nil {
		var taskID string
		if engErr, ok := err.(*errors.EngineError); ok {
			if id, ok := engErr.Context["task"].(string); ok {
				taskID = id
			}
		}
		return nil, errors.NewGraphMismatchError(snap.ID, taskID).WithOriginalError(err)
	}

	e := NewExecution(snap.ID, snap.DeploymentID, snap.WorkflowName, snap.Parameters, graph)
	e.status = snap.Status
	e.errMsg = snap.Error
	e.failures = append([]TaskFailure(nil), snap.Failures...)
	e.ownerID = snap.OwnerID
	e.crashInterrupted = snap.CrashInterrupted
	e.createdAt = snap.CreatedAt
	e.endedAt = snap.EndedAt
	return e, nil
}
