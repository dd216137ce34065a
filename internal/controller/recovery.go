package controller

import (
	"context"
	"errors"
	"time"

	"github.com/maxkimambo/taskgraph/internal/dag"
	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
	"github.com/maxkimambo/taskgraph/internal/logger"
)

// scan recovers every claimed, unfinished execution whose owner is no longer live
func (c *Controller) scan(ctx context.Context) error {
	snaps, err := c.store.List(ctx, dag.ExecutionPending, dag.ExecutionStarted, dag.ExecutionCancelling)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		if !orphaned(snap) || c.isLive(snap) {
			continue
		}
		if err := c.recover(ctx, snap.ID); err != nil {
			logger.Op.WithFields(map[string]interface{}{
				"execution": snap.ID,
				"owner":     snap.OwnerID,
			}).Errorf("Crash recovery failed: %v", err)
		}
	}
	return nil
}

// orphaned reports whether a worker claimed the execution and never finished
// it. A pending execution counts once an owner is recorded: the worker died
// between creating it and starting its first task.
func orphaned(snap *dag.ExecutionSnapshot) bool {
	if snap.Status == dag.ExecutionPending {
		return snap.OwnerID != ""
	}
	return snap.Status.IsActive()
}

// recover marks an orphaned execution crash-interrupted and, with
// auto-resume on, resumes it the way a user would without force
func (c *Controller) recover(ctx context.Context, id string) error {
	if c.isClosed() {
		return ErrClosed
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	snap, err := c.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if !orphaned(snap) || c.isLive(snap) {
		return nil
	}

	if snap.Status == dag.ExecutionCancelling {
		logger.User.Cancellingf("Execution %s lost worker %s while cancelling, marking it cancelled", id, snap.OwnerID)
		snap.CrashInterrupted = true
		return c.markCancelled(ctx, snap)
	}

	if !snap.CrashInterrupted {
		cause := engerrors.NewCrashInterruptedError(id, snap.OwnerID)
		logger.User.Warnf("%s", cause.Message)
		logger.Op.WithFields(map[string]interface{}{
			"execution":   id,
			"owner":       snap.OwnerID,
			"heartbeat":   snap.HeartbeatAt,
			"interrupted": snap.InterruptedTaskIDs(),
		}).Warn("Execution crash-interrupted")

		snap.CrashInterrupted = true
		snap.UpdatedAt = time.Now().UTC()
		if err := c.store.Save(ctx, snap); err != nil {
			return err
		}
	}

	if !c.cfg.AutoResume {
		return nil
	}

	err = c.resume(ctx, snap, false)
	if err == nil {
		return nil
	}
	return c.failInterrupted(ctx, snap, err)
}

// failInterrupted moves an execution that could not be resumed
// automatically to failed, recording the blocking tasks
func (c *Controller) failInterrupted(ctx context.Context, snap *dag.ExecutionSnapshot, cause error) error {
	snap.Status = dag.ExecutionFailed
	snap.Error = cause.Error()

	var engErr *engerrors.EngineError
	if errors.Is(cause, engerrors.ErrNonResumableOperation) && errors.As(cause, &engErr) {
		if ids, ok := engErr.Context["tasks"].([]string); ok {
			for _, id := range ids {
				snap.Failures = append(snap.Failures, dag.TaskFailure{
					TaskID: id,
					Error:  "interrupted by a worker crash and not resumable",
				})
			}
		}
		logger.User.Errorf("Execution %s cannot resume automatically: %s", snap.ID, engErr.Message)
	} else {
		logger.User.Errorf("Execution %s could not be recovered: %v", snap.ID, cause)
	}

	now := time.Now().UTC()
	snap.UpdatedAt = now
	snap.EndedAt = &now
	return c.store.Save(ctx, snap)
}

func (c *Controller) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.beat(c.runCtx)
		}
	}
}

// beat refreshes heartbeats of local executions, applies cancel requests
// recorded by other workers and looks for newly orphaned executions
func (c *Controller) beat(ctx context.Context) {
	now := time.Now().UTC()

	c.mu.RLock()
	runners := make(map[string]*runner, len(c.running))
	for id, r := range c.running {
		runners[id] = r
	}
	c.mu.RUnlock()

	for id, r := range runners {
		fields := map[string]interface{}{"execution": id, "worker": c.cfg.WorkerID}
		if err := c.store.Touch(ctx, id, c.cfg.WorkerID, now); err != nil {
			logger.Op.WithFields(fields).Warnf("Heartbeat failed: %v", err)
			continue
		}

		req, err := c.store.PendingCancel(ctx, id)
		if err != nil {
			logger.Op.WithFields(fields).Warnf("Reading cancel requests failed: %v", err)
			continue
		}
		if req == nil {
			continue
		}
		if err := c.store.ClearCancel(ctx, id); err != nil {
			logger.Op.WithFields(fields).Warnf("Clearing cancel request failed: %v", err)
		}
		logger.User.Cancellingf("Cancel requested for execution %s (kill=%t)", id, req.Kill)
		r.executor.Cancel(req.Kill)
	}

	if err := c.scan(ctx); err != nil && ctx.Err() == nil {
		logger.Op.WithFields(map[string]interface{}{
			"worker": c.cfg.WorkerID,
		}).Warnf("Orphan scan failed: %v", err)
	}
}
