package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/silkd/silkd/internal/daemon"
)

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false,
		"Log intended changes without touching the OS")
	rootCmd.AddCommand(runCmd)
}

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the silkd daemon",
	Long:  `Run the control loop in the foreground until SIGINT or SIGTERM.`,
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if runDryRun {
		cfg.Daemon.DryRun = true
	}
	configureLogging(cfg)

	d, err := daemon.NewWithConfig(cfg)
	if err != nil {
		return err
	}

	return d.Serve(context.Background())
}
