package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/taskgraph/internal/logger"
)

var cancelKill bool

var cancelCmd = &cobra.Command{
	Use:   "cancel EXECUTION_ID",
	Short: "Cancel an execution",
	Long: `Cancel an execution wherever it runs. A graceful cancel lets running tasks
finish and starts nothing new; --kill abandons running tasks immediately (their
remote side effects may still complete out of band).

An execution owned by another live worker receives the request on its next
heartbeat. An execution whose worker died is marked cancelled directly.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	cancelCmd.Flags().BoolVar(&cancelKill, "kill", false, "Abandon running tasks instead of waiting for them")
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id := args[0]

	a, err := newApp(ctx, appConfig, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.controller.Cancel(ctx, id, cancelKill); err != nil {
		return err
	}
	status, err := a.controller.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	logger.User.Cancellingf("Execution %s is %s", id, status)
	return nil
}
