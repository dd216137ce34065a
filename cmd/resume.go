package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/taskgraph/internal/logger"
	"github.com/maxkimambo/taskgraph/internal/utils"
)

var (
	resumeForce bool
	resumeYes   bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume EXECUTION_ID",
	Short: "Resume a cancelled, failed or crash-interrupted execution",
	Long: `Resume an execution in this process. Succeeded tasks are never run again;
tasks that were running when the execution stopped are sent again from the start.

Without --force the resume is refused when one of those interrupted tasks is
not resumable. --force re-runs them anyway and asks for confirmation unless
--yes is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeForce, "force", false, "Re-run interrupted non-resumable tasks")
	resumeCmd.Flags().BoolVarP(&resumeYes, "yes", "y", false, "Skip the --force confirmation")
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id := args[0]

	a, err := newApp(ctx, appConfig, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if resumeForce {
		exec, err := a.controller.Inspect(ctx, id)
		if err != nil {
			return err
		}
		if blocked := exec.Graph().NonResumableInterrupted(); len(blocked) > 0 {
			ok, err := utils.Confirm(os.Stdin, os.Stdout, resumeYes,
				fmt.Sprintf("re-run %d non-resumable task(s) of %s", len(blocked), id), blocked)
			if err != nil {
				return err
			}
			if !ok {
				logger.User.Info("Resume aborted")
				return nil
			}
		}
	}

	if err := a.controller.Init(ctx); err != nil {
		return err
	}
	if err := a.controller.Resume(ctx, id, resumeForce); err != nil {
		return err
	}

	running := false
	for _, r := range a.controller.Running() {
		running = running || r == id
	}
	if !running {
		status, err := a.controller.GetStatus(ctx, id)
		if err != nil {
			return err
		}
		logger.User.Infof("Execution %s is already %s", id, status)
		return nil
	}

	snap, err := follow(ctx, a.controller, id)
	if err != nil {
		return err
	}
	return summarize(snap)
}
