// Package cli implements the silkd command-line interface using Cobra.
// Each subcommand maps to one operator task (run, status, check, version).
package cli

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/silkd/silkd/internal/daemon"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "silkd",
	Short: "silkd — keep interactive work responsive under load",
	Long: `silkd watches /proc, sorts processes into application groups, and
assigns each group one of five priority classes. Classes are applied to
the OS as nice values, IO priorities, scheduler latency hints, and
cgroup v2 weights, with hysteresis so priorities never flap.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default "+daemon.DefaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// configureLogging applies the config's level, letting the --log-level
// flag win when set.
func configureLogging(cfg daemon.Config) {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithFields(log.Fields{"level": level}).Warn("unknown log level, using info")
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}
