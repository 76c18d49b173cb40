package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/silkd/silkd/internal/daemon"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the silkd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("silkd %s %s/%s\n", daemon.Version, runtime.GOOS, runtime.GOARCH)
	},
}
