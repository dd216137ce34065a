package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/taskgraph/internal/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Recover interrupted executions and serve cancel requests until stopped",
	Long: `Start a long-running worker. On start it scans the store for executions whose
owner stopped heartbeating, marks them crash-interrupted and, when
controller.auto_resume is set, resumes those whose interrupted tasks are all
resumable. Executions that cannot resume automatically are marked failed.

While running, the worker keeps heartbeats of its executions fresh, applies
cancel requests recorded by other processes and keeps looking for orphaned
executions. On SIGTERM or Ctrl+C it stops without further writes; its
executions are recovered by the next worker once their heartbeat expires.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appConfig, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.controller.Init(ctx); err != nil {
		return err
	}
	logger.User.Successf("Worker %s ready, %d execution(s) running", a.controller.WorkerID(), len(a.controller.Running()))

	<-ctx.Done()
	logger.User.Infof("Stopping worker %s, %d execution(s) left for recovery", a.controller.WorkerID(), len(a.controller.Running()))
	return nil
}
