package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
	"github.com/maxkimambo/taskgraph/internal/logger"
	"github.com/maxkimambo/taskgraph/internal/utils"
)

var (
	runDeployment string
	runParams     []string
	runParamsFile string
)

var runCmd = &cobra.Command{
	Use:   "run WORKFLOW",
	Short: "Run a workflow against a deployment and wait for it to finish",
	Long: `Build the task graph of WORKFLOW over a deployment and execute it in this process.

Press Ctrl+C once to cancel gracefully (running tasks finish, nothing new starts)
and twice to kill (running tasks are abandoned). Either way the execution can be
resumed later with 'taskgraph resume'.

WORKFLOWS:
  execute_operation   run one operation on every node that maps it
  install             create, configure and start every node in relationship order
  uninstall           stop and delete every node in reverse order

EXAMPLES:
  taskgraph run install -d webapp
  taskgraph run execute_operation -d webapp -p operation=lifecycle.configure -p run_by_dependency_order=true
  taskgraph run execute_operation -d webapp --params-file restart.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringVarP(&runDeployment, "deployment", "d", "", "Deployment ID (required)")
	runCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "Workflow parameter as key=value (repeatable)")
	runCmd.Flags().StringVar(&runParamsFile, "params-file", "", "YAML file of workflow parameters; --param values win")

	_ = runCmd.MarkFlagRequired("deployment")
}

// loadParams merges the parameters file with --param flags
func loadParams(file string, raw []string) (map[string]interface{}, error) {
	params := make(map[string]interface{})
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, engerrors.NewValidationError(engerrors.CodeValidationInput,
				"Cannot read parameters file", "Parameter validation").
				WithContext("file", file).
				WithOriginalError(err)
		}
		if err := yaml.Unmarshal(data, &params); err != nil {
			return nil, engerrors.NewValidationError(engerrors.CodeValidationInput,
				"Parameters file is not a YAML mapping", "Parameter validation").
				WithContext("file", file).
				WithOriginalError(err)
		}
		if params == nil {
			params = make(map[string]interface{})
		}
	}

	flagParams, err := utils.ParseParams(raw)
	if err != nil {
		return nil, engerrors.NewValidationError(engerrors.CodeValidationInput, err.Error(), "Parameter validation").
			WithTroubleshooting("Pass parameters as --param key=value")
	}
	for k, v := range flagParams {
		params[k] = v
	}
	return params, nil
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	workflow := args[0]

	params, err := loadParams(runParamsFile, runParams)
	if err != nil {
		return err
	}

	// this process only serves its own execution; a worker recovers the rest
	a, err := newApp(ctx, appConfig, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.controller.Init(ctx); err != nil {
		return err
	}

	id, err := a.controller.Start(ctx, workflow, runDeployment, params)
	if err != nil {
		return err
	}
	logger.User.Startingf("Execution %s: %s on %s", id, workflow, runDeployment)

	snap, err := follow(ctx, a.controller, id)
	if err != nil {
		return err
	}
	return summarize(snap)
}
