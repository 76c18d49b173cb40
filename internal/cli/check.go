package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/silkd/silkd/internal/daemon"
	"github.com/silkd/silkd/internal/infra/cgroup"
	"github.com/silkd/silkd/internal/infra/osprio"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe the environment silkd will run in",
	Long: `Check config validity, /proc readability, cgroup v2 availability,
and kernel support for the scheduler latency hint. Missing capabilities
degrade actuation; they do not prevent the daemon from running.`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	failures := 0
	row := func(name, status string) {
		fmt.Printf("  %-18s %s\n", name, status)
	}

	fmt.Println("silkd environment check:")
	fmt.Println()

	if _, err := daemon.LoadConfig(configPath); err != nil {
		row("config", fmt.Sprintf("FAIL (%v)", err))
		failures++
	} else {
		row("config", "OK")
	}

	if f, err := os.Open("/proc/stat"); err != nil {
		row("/proc", fmt.Sprintf("FAIL (%v)", err))
		failures++
	} else {
		f.Close()
		row("/proc", "OK")
	}

	cgm := cgroup.New()
	if !cgm.Available() {
		row("cgroup v2", "unavailable (group actuation disabled)")
	} else {
		row("cgroup v2", "OK")
		for _, ctrl := range []string{"cpu", "memory"} {
			if cgm.ControllerAvailable(ctrl) {
				row(ctrl+" controller", "OK")
			} else {
				row(ctrl+" controller", "unavailable")
			}
		}
	}

	if osprio.New().SupportsLatencyNice() {
		row("latency hint", "OK")
	} else {
		row("latency hint", "unsupported (hints will be skipped)")
	}

	if os.Geteuid() == 0 {
		row("privileges", "OK (root)")
	} else {
		row("privileges", "unprivileged (changes limited to own processes)")
	}

	fmt.Println()
	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	fmt.Println("Ready to run.")
	return nil
}
