package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/taskgraph/internal/dag"
	"github.com/maxkimambo/taskgraph/internal/utils"
)

var (
	statusTasks bool
	statusGraph bool
	statusDOT   bool
)

var statusCmd = &cobra.Command{
	Use:   "status EXECUTION_ID",
	Short: "Show the status of an execution",
	Long: `Show the status, owner and failures of an execution.

--tasks lists every task with its status and retry count. --graph prints the
task graph with dependency edges as JSON, --dot as Graphviz input.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusTasks, "tasks", false, "List tasks")
	statusCmd.Flags().BoolVar(&statusGraph, "graph", false, "Print the task graph as JSON")
	statusCmd.Flags().BoolVar(&statusDOT, "dot", false, "Print the task graph in DOT format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id := args[0]

	a, err := newApp(ctx, appConfig, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if statusGraph || statusDOT {
		exec, err := a.controller.Inspect(ctx, id)
		if err != nil {
			return err
		}
		viz := dag.NewGraphVisualization(exec.Graph())
		if statusDOT {
			fmt.Print(viz.GenerateDOTGraph())
			return nil
		}
		data, err := viz.ToJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	snap, err := a.controller.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Println(statusBox(snap).Render())
	if statusTasks {
		fmt.Print(taskTable(snap).String())
	}
	return nil
}

func statusBox(snap *dag.ExecutionSnapshot) *utils.Box {
	kind := utils.InfoMessage
	switch snap.Status {
	case dag.ExecutionTerminated:
		kind = utils.SuccessMessage
	case dag.ExecutionCancelled, dag.ExecutionCancelling:
		kind = utils.WarningMessage
	case dag.ExecutionFailed:
		kind = utils.ErrorMessage
	}

	box := utils.NewBox(kind, fmt.Sprintf("Execution %s: %s", snap.ID, snap.Status)).
		AddKeyValue("Workflow", snap.WorkflowName).
		AddKeyValue("Deployment", snap.DeploymentID).
		AddKeyValue("Owner", snap.OwnerID).
		AddKeyValue("Created", snap.CreatedAt.Format(time.RFC3339)).
		AddKeyValue("Heartbeat", snap.HeartbeatAt.Format(time.RFC3339))
	if snap.EndedAt != nil {
		box.AddKeyValue("Ended", snap.EndedAt.Format(time.RFC3339))
	}
	if snap.CrashInterrupted {
		box.AddLine("Interrupted by a worker crash")
	}
	if ids := snap.InterruptedTaskIDs(); len(ids) > 0 && !snap.Status.IsActive() {
		sort.Strings(ids)
		box.AddKeyValue("Interrupted tasks", fmt.Sprint(ids))
	}
	if snap.Error != "" {
		box.AddKeyValue("Error", snap.Error)
	}
	for _, f := range snap.Failures {
		box.AddBullet(fmt.Sprintf("%s: %s", f.TaskID, utils.Truncate(f.Error, 120)))
	}
	return box
}

func taskTable(snap *dag.ExecutionSnapshot) *utils.Table {
	ids := make([]string, 0, len(snap.Tasks))
	for id := range snap.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	table := utils.NewTable("TASK", "STATUS", "RETRIES", "ERROR")
	for _, id := range ids {
		t := snap.Tasks[id]
		table.AddRow(id, string(t.Status), strconv.Itoa(t.RetryCount), utils.Truncate(t.Error, 60))
	}
	return table
}
