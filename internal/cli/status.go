package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/silkd/silkd/internal/api"
	"github.com/silkd/silkd/internal/daemon"
)

func init() {
	statusCmd.Flags().BoolVar(&statusProcesses, "processes", false,
		"List tracked processes instead of the summary")
	statusCmd.Flags().BoolVar(&statusGroups, "groups", false,
		"List tracked application groups instead of the summary")
	rootCmd.AddCommand(statusCmd)
}

var (
	statusProcesses bool
	statusGroups    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running daemon's status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return err
	}
	base := fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port)

	switch {
	case statusProcesses:
		return printProcesses(base)
	case statusGroups:
		return printGroups(base)
	default:
		return printSummary(base)
	}
}

func printSummary(base string) error {
	var st api.Stats
	if err := getJSON(base+"/api/status", &st); err != nil {
		return err
	}

	fmt.Printf("silkd %s (instance %s)\n", st.Version, st.InstanceID)
	if st.DryRun {
		fmt.Println("  Mode:        dry-run")
	}
	fmt.Printf("  Uptime:      %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
	fmt.Printf("  Load:        %.2f (%s)\n", st.LoadLevel, st.LoadCategory)
	fmt.Printf("  Iterations:  %d (%d failed)\n", st.Iterations, st.IterationErrors)
	fmt.Printf("  Adjustments: %d applied, %d debounced, %d failed\n",
		st.Applied, st.Skipped, st.ApplyErrors)
	fmt.Printf("  Tracking:    %d processes, %d groups\n",
		st.TrackedProcesses, st.TrackedGroups)
	return nil
}

func printProcesses(base string) error {
	var body struct {
		Count     int `json:"count"`
		Processes []struct {
			PID       int       `json:"pid"`
			Class     string    `json:"class"`
			ChangedAt time.Time `json:"changed_at"`
		} `json:"processes"`
	}
	if err := getJSON(base+"/api/processes", &body); err != nil {
		return err
	}
	if body.Count == 0 {
		fmt.Println("No processes tracked yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tCLASS\tCHANGED")
	for _, p := range body.Processes {
		fmt.Fprintf(w, "%d\t%s\t%s\n", p.PID, p.Class, p.ChangedAt.Format("15:04:05"))
	}
	return w.Flush()
}

func printGroups(base string) error {
	var body struct {
		Count  int `json:"count"`
		Groups []struct {
			ID        string    `json:"id"`
			Class     string    `json:"class"`
			ChangedAt time.Time `json:"changed_at"`
		} `json:"groups"`
	}
	if err := getJSON(base+"/api/groups", &body); err != nil {
		return err
	}
	if body.Count == 0 {
		fmt.Println("No groups tracked yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tCLASS\tCHANGED")
	for _, g := range body.Groups {
		fmt.Fprintf(w, "%s\t%s\t%s\n", g.ID, g.Class, g.ChangedAt.Format("15:04:05"))
	}
	return w.Flush()
}

// getJSON fetches url and decodes the JSON body into out.
func getJSON(url string, out any) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("silkd is not reachable (is it running?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
