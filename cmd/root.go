package cmd

import (
	"github.com/spf13/cobra"

	"github.com/maxkimambo/taskgraph/internal/config"
	"github.com/maxkimambo/taskgraph/internal/logger"
)

var (
	cfgFile  string
	debug    bool
	verbose  bool
	jsonLogs bool
	quiet    bool
	version  = "v0.1.0"

	// appConfig is loaded before every command runs
	appConfig *config.Config

	rootCmd = &cobra.Command{
		Use:   "taskgraph",
		Short: "Run deployment workflows as resumable task graphs",
		Long: `taskgraph builds a task dependency graph for a workflow over a deployment and
executes it with bounded parallelism, retries, cancellation and resume.

Execution state is checkpointed after every transition, so executions
interrupted by a crash can be resumed by a restarted worker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				logger.Setup(verbose || debug, jsonLogs, quiet)
				return err
			}
			applyFlagOverrides(cmd, cfg)
			logger.Setup(cfg.Log.Verbose, cfg.Log.JSON, cfg.Log.Quiet)

			if err := cfg.Validate(); err != nil {
				return err
			}
			appConfig = cfg
			return nil
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = version

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Config file (default taskgraph.yaml when present)")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	flags.BoolVar(&jsonLogs, "json", false, "Output logs in JSON format")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")

	flags.String("store", "", "Store driver: memory, file or postgres")
	flags.String("store-path", "", "Directory of the file store")
	flags.String("dsn", "", "Postgres connection string")
	flags.String("deployments-dir", "", "Directory holding <deployment-id>.yaml files")
	flags.String("worker-id", "", "Owner ID recorded on executions (generated when empty)")
	flags.Int("max-parallel", 0, "Maximum tasks in flight per execution")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(dbCmd)
}

// applyFlagOverrides copies explicitly set flags over the loaded configuration
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("store") {
		cfg.Store.Driver, _ = flags.GetString("store")
	}
	if flags.Changed("store-path") {
		cfg.Store.Path, _ = flags.GetString("store-path")
	}
	if flags.Changed("dsn") {
		cfg.Store.DSN, _ = flags.GetString("dsn")
	}
	if flags.Changed("deployments-dir") {
		cfg.Deployments.Dir, _ = flags.GetString("deployments-dir")
	}
	if flags.Changed("worker-id") {
		cfg.WorkerID, _ = flags.GetString("worker-id")
	}
	if flags.Changed("max-parallel") {
		cfg.Executor.MaxParallelTasks, _ = flags.GetInt("max-parallel")
	}

	cfg.Log.Verbose = cfg.Log.Verbose || verbose || debug
	cfg.Log.JSON = cfg.Log.JSON || jsonLogs
	cfg.Log.Quiet = cfg.Log.Quiet || quiet
}
