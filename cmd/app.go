package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxkimambo/taskgraph/internal/config"
	"github.com/maxkimambo/taskgraph/internal/controller"
	"github.com/maxkimambo/taskgraph/internal/dag"
	"github.com/maxkimambo/taskgraph/internal/deployment"
	"github.com/maxkimambo/taskgraph/internal/gcp"
	"github.com/maxkimambo/taskgraph/internal/logger"
	"github.com/maxkimambo/taskgraph/internal/operations"
	"github.com/maxkimambo/taskgraph/internal/store"
	"github.com/maxkimambo/taskgraph/internal/utils"
	"github.com/maxkimambo/taskgraph/internal/workflows"
)

// app wires the store, operation runtime and controller from configuration
type app struct {
	cfg        *config.Config
	store      store.Store
	gce        *gcp.InstanceClient
	controller *controller.Controller
}

// newApp builds the runtime. autoResume is honoured only when the
// configuration enables it too.
func newApp(ctx context.Context, cfg *config.Config, autoResume bool) (*app, error) {
	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st}

	ops := operations.NewRegistry()
	if err := operations.RegisterBuiltins(ops); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.GCE.Enabled {
		client, err := gcp.NewClient(ctx, gcp.ClientOptions{
			Endpoint:        cfg.GCE.Endpoint,
			CredentialsFile: cfg.GCE.CredentialsFile,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.gce = client
		if err := gcp.NewPlugin(client, cfg.GCE.Project).Register(ops); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.controller = controller.New(st, workflows.NewRegistry(), ops,
		deployment.NewDirSource(cfg.Deployments.Dir),
		controller.Config{
			WorkerID:          cfg.WorkerID,
			Executor:          cfg.ExecutorConfig(),
			RetryPolicy:       cfg.RetryPolicy(),
			HeartbeatInterval: cfg.Controller.HeartbeatInterval,
			HeartbeatTimeout:  cfg.Controller.HeartbeatTimeout,
			AutoResume:        autoResume && cfg.Controller.AutoResume,
		})
	return a, nil
}

// Close stops the controller and releases clients
func (a *app) Close() {
	if a.controller != nil {
		a.controller.Teardown()
	}
	if a.gce != nil {
		if err := a.gce.Close(); err != nil {
			logger.Op.Warnf("Closing compute client: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		logger.Op.Warnf("Closing store: %v", err)
	}
}

// follow waits for an execution running in this process. The first
// interrupt cancels it gracefully, the second kills it.
func follow(ctx context.Context, ctrl *controller.Controller, id string) (*dag.ExecutionSnapshot, error) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	type result struct {
		snap *dag.ExecutionSnapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := ctrl.Wait(ctx, id)
		done <- result{snap, err}
	}()

	interrupts := 0
	for {
		select {
		case r := <-done:
			return r.snap, r.err
		case <-sigs:
			interrupts++
			kill := interrupts > 1
			if kill {
				logger.User.Warn("Second interrupt, killing execution")
			} else {
				logger.User.Warn("Interrupt received, cancelling gracefully (interrupt again to kill)")
			}
			if err := ctrl.Cancel(ctx, id, kill); err != nil {
				logger.User.Errorf("Cancel failed: %v", err)
			}
		}
	}
}

// summarize renders the outcome of an execution and returns an error
// unless it terminated
func summarize(snap *dag.ExecutionSnapshot) error {
	var box *utils.Box
	switch snap.Status {
	case dag.ExecutionTerminated:
		box = utils.NewBox(utils.SuccessMessage, "Execution terminated")
	case dag.ExecutionCancelled:
		box = utils.NewBox(utils.WarningMessage, "Execution cancelled")
	case dag.ExecutionFailed:
		box = utils.NewBox(utils.ErrorMessage, "Execution failed")
	default:
		box = utils.NewBox(utils.InfoMessage, "Execution "+string(snap.Status))
	}

	box.AddKeyValue("ID", snap.ID).
		AddKeyValue("Workflow", snap.WorkflowName).
		AddKeyValue("Deployment", snap.DeploymentID)
	if snap.EndedAt != nil {
		box.AddKeyValue("Duration", snap.EndedAt.Sub(snap.CreatedAt).Round(time.Millisecond).String())
	}
	if snap.Error != "" {
		box.AddKeyValue("Error", snap.Error)
	}
	for _, f := range snap.Failures {
		box.AddBullet(fmt.Sprintf("%s: %s", f.TaskID, utils.Truncate(f.Error, 120)))
	}
	fmt.Println(box.Render())

	if snap.Status != dag.ExecutionTerminated {
		return fmt.Errorf("execution %s finished %s", snap.ID, snap.Status)
	}
	return nil
}
