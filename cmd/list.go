package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/taskgraph/internal/dag"
	"github.com/maxkimambo/taskgraph/internal/logger"
	"github.com/maxkimambo/taskgraph/internal/utils"
)

var listStatuses []string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil,
		"Only show executions in these statuses (pending, started, cancelling, cancelled, failed, terminated)")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	statuses := make([]dag.ExecutionStatus, 0, len(listStatuses))
	for _, s := range listStatuses {
		statuses = append(statuses, dag.ExecutionStatus(s))
	}

	a, err := newApp(ctx, appConfig, false)
	if err != nil {
		return err
	}
	defer a.Close()

	snaps, err := a.controller.List(ctx, statuses...)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		logger.User.Info("No executions found")
		return nil
	}
	fmt.Print(executionTable(snaps).String())
	return nil
}

func executionTable(snaps []*dag.ExecutionSnapshot) *utils.Table {
	table := utils.NewTable("ID", "WORKFLOW", "DEPLOYMENT", "STATUS", "OWNER", "CREATED")
	for _, s := range snaps {
		status := string(s.Status)
		if s.CrashInterrupted {
			status += " (crashed)"
		}
		table.AddRow(s.ID, s.WorkflowName, s.DeploymentID, status, s.OwnerID, s.CreatedAt.Local().Format(time.DateTime))
	}
	return table
}
