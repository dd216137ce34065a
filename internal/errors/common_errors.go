package errors

import (
	"fmt"
	"strings"
)

// Common error codes
const (
	// Graph error codes
	CodeGraphCycle       = "001"
	CodeGraphUnknownTask = "002"
	CodeGraphDuplicate   = "003"

	// Operation error codes
	CodeOperationFailure = "001"
	CodeRetriesExhausted = "002"
	CodeOperationUnknown = "003"
	CodeOperationAborted = "004"

	// Resume error codes
	CodeNonResumable     = "001"
	CodeCrashInterrupted = "002"
	CodeResumeState      = "003"

	// Execution error codes
	CodeExecutionNotFound = "001"
	CodeInvalidTransition = "002"
	CodeUnknownWorkflow   = "003"
	CodeGraphMismatch     = "004"
	CodeExecutionStalled  = "005"

	// Persistence error codes
	CodePersistenceWrite = "001"
	CodePersistenceRead  = "002"

	// Validation and configuration error codes
	CodeValidationInput  = "001"
	CodeValidationConfig = "002"
	CodeConfigLoad       = "003"
)

// Sentinel errors for errors.Is matching. Never mutate these; the
// constructors below return fresh values carrying context.
var (
	ErrCycle                 = &EngineError{Category: ErrorCategoryGraph, Code: CodeGraphCycle, Message: "dependency cycle"}
	ErrUnknownTask           = &EngineError{Category: ErrorCategoryGraph, Code: CodeGraphUnknownTask, Message: "unknown task"}
	ErrOperationFailure      = &EngineError{Category: ErrorCategoryOperation, Code: CodeOperationFailure, Message: "operation failed"}
	ErrRetriesExhausted      = &EngineError{Category: ErrorCategoryOperation, Code: CodeRetriesExhausted, Message: "retries exhausted"}
	ErrUnknownOperation      = &EngineError{Category: ErrorCategoryOperation, Code: CodeOperationUnknown, Message: "unknown operation"}
	ErrNonResumableOperation = &EngineError{Category: ErrorCategoryResume, Code: CodeNonResumable, Message: "non-resumable operation"}
	ErrCrashInterrupted      = &EngineError{Category: ErrorCategoryResume, Code: CodeCrashInterrupted, Message: "crash interrupted"}
	ErrExecutionNotFound     = &EngineError{Category: ErrorCategoryExecution, Code: CodeExecutionNotFound, Message: "execution not found"}
	ErrInvalidTransition     = &EngineError{Category: ErrorCategoryExecution, Code: CodeInvalidTransition, Message: "invalid status transition"}
	ErrUnknownWorkflow       = &EngineError{Category: ErrorCategoryExecution, Code: CodeUnknownWorkflow, Message: "unknown workflow"}
)

// NewCycleError creates an error for an edge that would close a cycle
func NewCycleError(fromID, toID string) *EngineError {
	return NewEngineError(ErrorCategoryGraph, CodeGraphCycle,
		fmt.Sprintf("Dependency %s -> %s would create a cycle", fromID, toID),
		"Graph construction").
		WithContext("from", fromID).
		WithContext("to", toID).
		WithTroubleshooting(
			"Check the workflow builder for tasks that depend on each other",
			"Fork-join groups already order their members between two barriers; do not add reverse edges",
		)
}

// NewUnknownTaskError creates an error for a task ID missing from the graph
func NewUnknownTaskError(taskID string) *EngineError {
	return NewEngineError(ErrorCategoryGraph, CodeGraphUnknownTask,
		fmt.Sprintf("Task '%s' is not part of the graph", taskID),
		"Graph lookup").
		WithContext("task", taskID)
}

// NewDuplicateTaskError creates an error for a task ID that is already registered
func NewDuplicateTaskError(taskID string) *EngineError {
	return NewEngineError(ErrorCategoryGraph, CodeGraphDuplicate,
		fmt.Sprintf("Task '%s' already exists", taskID),
		"Graph construction").
		WithContext("task", taskID).
		WithTroubleshooting("Task IDs must be unique and stable across restarts")
}

// NewOperationFailure wraps a failed task attempt
func NewOperationFailure(taskID string, attempt int, originalErr error) *EngineError {
	return NewEngineError(ErrorCategoryOperation, CodeOperationFailure,
		fmt.Sprintf("Task '%s' failed on attempt %d", taskID, attempt),
		"Task invocation").
		WithContext("task", taskID).
		WithContext("attempt", attempt).
		WithOriginalError(originalErr)
}

// NewRetriesExhaustedError creates an error for a task that has no retries left
func NewRetriesExhaustedError(taskID string, retries int, lastErr error) *EngineError {
	return NewEngineError(ErrorCategoryOperation, CodeRetriesExhausted,
		fmt.Sprintf("Task '%s' failed after %d retries", taskID, retries),
		"Task retry").
		WithContext("task", taskID).
		WithContext("retries", retries).
		WithOriginalError(lastErr).
		WithTroubleshooting(
			"Inspect the task error and the operation logs",
			"Fix the cause and resume the execution with --force to re-run the failed task",
		)
}

// NewUnknownOperationError creates an error for an operation missing from the registry
func NewUnknownOperationError(name string) *EngineError {
	return NewEngineError(ErrorCategoryOperation, CodeOperationUnknown,
		fmt.Sprintf("Operation '%s' is not registered", name),
		"Operation lookup").
		WithContext("operation", name).
		WithTroubleshooting("Check the implementation name in the deployment file")
}

// NewNonResumableError creates an error for a resume blocked by non-resumable interrupted tasks
func NewNonResumableError(executionID string, taskIDs []string) *EngineError {
	return NewEngineError(ErrorCategoryResume, CodeNonResumable,
		fmt.Sprintf("Execution '%s' has interrupted non-resumable tasks: %s", executionID, strings.Join(taskIDs, ", ")),
		"Execution resume").
		WithContext("execution", executionID).
		WithContext("tasks", taskIDs).
		WithTroubleshooting(
			"Verify the interrupted operations did not leave resources half-modified",
			"Resume with --force to re-run them from the start",
		)
}

// NewCrashInterruptedError marks an execution whose owning worker is gone
func NewCrashInterruptedError(executionID, ownerID string) *EngineError {
	return NewEngineError(ErrorCategoryResume, CodeCrashInterrupted,
		fmt.Sprintf("Execution '%s' was interrupted when worker '%s' stopped", executionID, ownerID),
		"Crash recovery").
		WithContext("execution", executionID).
		WithContext("owner", ownerID)
}

// NewResumeStateError creates an error for resume requested in a status that does not allow it
func NewResumeStateError(executionID, status string) *EngineError {
	return NewEngineError(ErrorCategoryResume, CodeResumeState,
		fmt.Sprintf("Execution '%s' cannot be resumed while %s", executionID, status),
		"Execution resume").
		WithContext("execution", executionID).
		WithContext("status", status).
		WithTroubleshooting("Only cancelled, failed or crash-interrupted executions can be resumed")
}

// NewExecutionNotFoundError creates an error for an unknown execution ID
func NewExecutionNotFoundError(executionID string) *EngineError {
	return NewEngineError(ErrorCategoryExecution, CodeExecutionNotFound,
		fmt.Sprintf("Execution '%s' not found", executionID),
		"Execution lookup").
		WithContext("execution", executionID).
		WithTroubleshooting("Use 'taskgraph list' to see known executions")
}

// NewInvalidTransitionError creates an error for a disallowed status change
func NewInvalidTransitionError(executionID, from, to string) *EngineError {
	return NewEngineError(ErrorCategoryExecution, CodeInvalidTransition,
		fmt.Sprintf("Execution '%s' cannot move from %s to %s", executionID, from, to),
		"Execution status update").
		WithContext("execution", executionID).
		WithContext("from", from).
		WithContext("to", to)
}

// NewUnknownWorkflowError creates an error for a workflow name with no registered builder
func NewUnknownWorkflowError(name string) *EngineError {
	return NewEngineError(ErrorCategoryExecution, CodeUnknownWorkflow,
		fmt.Sprintf("Workflow '%s' is not registered", name),
		"Workflow lookup").
		WithContext("workflow", name).
		WithTroubleshooting("Available workflows: execute_operation, install, uninstall")
}

// NewGraphMismatchError creates an error for persisted task state that the rebuilt graph does not contain
func NewGraphMismatchError(executionID, taskID string) *EngineError {
	return NewEngineError(ErrorCategoryExecution, CodeGraphMismatch,
		fmt.Sprintf("Persisted task '%s' of execution '%s' is not produced by the workflow builder", taskID, executionID),
		"Execution rehydration").
		WithContext("execution", executionID).
		WithContext("task", taskID).
		WithTroubleshooting(
			"The deployment or workflow parameters changed after the execution started",
			"Restore the original deployment file before resuming",
		)
}

// NewValidationFailedError creates an error for input validation failures
func NewValidationFailedError(field, value, operation string) *EngineError {
	return NewValidationError(CodeValidationInput,
		fmt.Sprintf("Invalid value for %s: '%s'", field, value),
		operation).
		WithContext("field", field).
		WithContext("value", value).
		WithTroubleshooting("Use --help to see available options and examples")
}

// IsRetryableError reports whether a task failure should go through the retry policy.
// Graph and resume errors are contract violations and never retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if engErr, ok := err.(*EngineError); ok {
		switch engErr.Category {
		case ErrorCategoryGraph, ErrorCategoryResume, ErrorCategoryValidation, ErrorCategoryConfiguration:
			return false
		}
		if engErr.Category == ErrorCategoryOperation && engErr.Code == CodeOperationUnknown {
			return false
		}
	}
	return true
}

// GetErrorSeverity returns the severity level of an error
func GetErrorSeverity(err error) string {
	if engErr, ok := err.(*EngineError); ok {
		switch engErr.Category {
		case ErrorCategoryValidation, ErrorCategoryConfiguration:
			return "WARNING"
		case ErrorCategoryGraph, ErrorCategoryPersistence:
			return "CRITICAL"
		default:
			return "ERROR"
		}
	}
	return "ERROR"
}
