package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/silkd/silkd/internal/domain"
	"github.com/silkd/silkd/internal/infra/sqlite"
	"github.com/silkd/silkd/internal/proc"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newFakeProc lays out a one-process procfs for loop tests.
func newFakeProc(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "stat"),
		"cpu  100 0 100 800 0 0 0 0 0 0\n")
	writeFile(t, filepath.Join(root, "meminfo"),
		"MemTotal:       16384256 kB\nMemFree:         4096000 kB\nMemAvailable:    8192128 kB\n")
	writeFile(t, filepath.Join(root, "loadavg"), "0.50 0.40 0.30 1/200 9999\n")
	writeFile(t, filepath.Join(root, "pressure", "cpu"),
		"some avg10=1.00 avg60=0.50 avg300=0.10 total=1000\n")
	writeFile(t, filepath.Join(root, "pressure", "io"),
		"some avg10=0.50 avg60=0.20 avg300=0.00 total=500\n")
	writeFile(t, filepath.Join(root, "pressure", "memory"),
		"some avg10=0.00 avg60=0.00 avg300=0.00 total=0\n")

	pid := filepath.Join(root, "4242")
	writeFile(t, filepath.Join(pid, "stat"),
		"4242 (editor) S 1 4242 4242 34816 0 0 0 0 0 0 10 5 0 0 20 5 1 0 12345 1000 500\n")
	writeFile(t, filepath.Join(pid, "status"),
		"Name:\teditor\nUid:\t1000\t1000\t1000\t1000\nVmRSS:\t   51200 kB\n")
	writeFile(t, filepath.Join(pid, "cmdline"), "/usr/bin/editor\x00")
	writeFile(t, filepath.Join(pid, "cgroup"),
		"0::/user.slice/user-1000.slice/app.slice/app-editor.scope\n")
	writeFile(t, filepath.Join(pid, "environ"), "TERM=xterm\x00DISPLAY=:0\x00")
	writeFile(t, filepath.Join(pid, "io"), "read_bytes: 0\nwrite_bytes: 0\n")
	return root
}

// newTestDaemon builds a daemon against a fake procfs, with cgroups off
// and actuation in dry-run so no OS state is touched.
func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	t.Setenv("SILKD_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Daemon.DryRun = true
	cfg.API.Enabled = false
	cfg.Cgroup.Enabled = false

	d, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	t.Cleanup(d.Close)

	d.Collector = proc.NewCollector(proc.Options{
		ProcRoot: newFakeProc(t),
		SysRoot:  t.TempDir(),
	})
	return d
}

func TestNewWithConfigWiresComponents(t *testing.T) {
	d := newTestDaemon(t)

	if d.Collector == nil || d.Classifier == nil || d.Engine == nil ||
		d.Planner == nil || d.Actuator == nil || d.Health == nil || d.Server == nil {
		t.Fatal("component left nil after NewWithConfig")
	}
	if d.DB == nil {
		t.Fatal("decision log enabled but DB is nil")
	}
	if len(d.InstanceID) != 36 {
		t.Errorf("InstanceID = %q, want a UUID", d.InstanceID)
	}

	st := d.Stats()
	if st.Version != Version {
		t.Errorf("Stats().Version = %q, want %q", st.Version, Version)
	}
	if !st.DryRun {
		t.Error("Stats().DryRun = false, want true")
	}
}

func TestNewWithConfigRejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Daemon.Interval = "sometime"

	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("NewWithConfig with bad interval = nil error, want error")
	}
}

func TestNewWithConfigDecisionLogDisabled(t *testing.T) {
	t.Setenv("SILKD_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.DecisionLog.Enabled = false
	cfg.API.Enabled = false
	cfg.Cgroup.Enabled = false

	d, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.Close()

	if d.DB != nil {
		t.Error("DB opened with decision log disabled")
	}
}

func TestIterateFullPass(t *testing.T) {
	d := newTestDaemon(t)

	sample, err := d.iterate(1, time.Now())
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if sample.Processes != 1 {
		t.Errorf("Processes = %d, want 1", sample.Processes)
	}
	if sample.Groups != 1 {
		t.Errorf("Groups = %d, want 1", sample.Groups)
	}
	// The fake process runs at nice 5; no class maps there, so the
	// planner emits a process adjustment and dry-run counts it applied.
	if sample.Applied != 1 {
		t.Errorf("Applied = %d, want 1", sample.Applied)
	}
	if sample.Skipped != 0 || sample.ApplyErrors != 0 {
		t.Errorf("Skipped/ApplyErrors = %d/%d, want 0/0",
			sample.Skipped, sample.ApplyErrors)
	}
	if sample.LoadCat == "" {
		t.Error("LoadCat empty")
	}
}

func TestIterateLogsToDecisionLog(t *testing.T) {
	d := newTestDaemon(t)

	if _, err := d.iterate(1, time.Now()); err != nil {
		t.Fatalf("iterate: %v", err)
	}

	rows, err := d.DB.RecentIterations(5)
	if err != nil {
		t.Fatalf("RecentIterations: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("iterations logged = %d, want 1", len(rows))
	}
	if rows[0].Seq != 1 || rows[0].Processes != 1 {
		t.Errorf("row = seq %d processes %d, want seq 1 processes 1",
			rows[0].Seq, rows[0].Processes)
	}
}

func TestIterateScanFailureIsReported(t *testing.T) {
	d := newTestDaemon(t)
	d.Collector = proc.NewCollector(proc.Options{
		ProcRoot: filepath.Join(t.TempDir(), "missing"),
		SysRoot:  t.TempDir(),
	})

	if _, err := d.iterate(1, time.Now()); err == nil {
		t.Error("iterate with unreadable procfs = nil error, want error")
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	d := newTestDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop on context cancel")
	}

	// The immediate first pass ran before cancellation.
	if d.Stats().Iterations < 1 {
		t.Error("no iterations recorded before shutdown")
	}
}

func TestRunStatsAccumulates(t *testing.T) {
	s := newRunStats()
	s.Record(iterationSample{Duration: 2 * time.Millisecond, Processes: 10,
		Groups: 3, Applied: 4, Skipped: 1, LoadLevel: 0.5, LoadCat: "normal"})
	s.Record(iterationSample{Duration: 4 * time.Millisecond, Processes: 12,
		Groups: 4, Applied: 2, ApplyErrors: 1, LoadLevel: 0.7, LoadCat: "medium", Failed: true})

	v := s.View()
	if v.Iterations != 2 || v.IterationErrors != 1 {
		t.Errorf("iterations = %d/%d, want 2/1", v.Iterations, v.IterationErrors)
	}
	if v.Applied != 6 || v.Skipped != 1 || v.ApplyErrors != 1 {
		t.Errorf("applied/skipped/errors = %d/%d/%d, want 6/1/1",
			v.Applied, v.Skipped, v.ApplyErrors)
	}
	if v.LastProcesses != 12 || v.LastGroups != 4 {
		t.Errorf("last counts = %d/%d, want 12/4", v.LastProcesses, v.LastGroups)
	}
	if v.LastLoadCat != "medium" {
		t.Errorf("LastLoadCat = %q, want %q", v.LastLoadCat, "medium")
	}
	if v.MaxDuration != 4*time.Millisecond {
		t.Errorf("MaxDuration = %v, want 4ms", v.MaxDuration)
	}
	if v.AvgDuration != 3*time.Millisecond {
		t.Errorf("AvgDuration = %v, want 3ms", v.AvgDuration)
	}
}

func TestBuildDecisionsAttributesOutcomes(t *testing.T) {
	applied := domain.Adjustment{
		Target: domain.ProcessTarget(100),
		Class:  domain.ClassInteractive,
		Reason: "semantic: focused GUI group",
	}
	debounced := domain.Adjustment{
		Target: domain.ProcessTarget(200),
		Class:  domain.ClassBackground,
		Reason: "default: no rules matched",
	}
	broken := domain.Adjustment{
		Target: domain.GroupTarget("app:chat"),
		Class:  domain.ClassNormal,
		Reason: "default: no rules matched",
	}

	outcome := domain.ApplyOutcome{
		Applied:        1,
		Skipped:        1,
		SkippedTargets: []domain.Target{debounced.Target},
		Failures: []domain.ApplyError{
			{Target: broken.Target, Op: "cpu.weight", Err: errors.New("permission denied")},
			{Target: broken.Target, Op: "memory.low", Err: errors.New("no such file")},
		},
	}

	decisions := buildDecisions([]domain.Adjustment{applied, debounced, broken}, outcome)
	if len(decisions) != 3 {
		t.Fatalf("decisions = %d, want 3", len(decisions))
	}

	if decisions[0].Outcome != sqlite.OutcomeApplied || decisions[0].TargetID != "100" {
		t.Errorf("applied row = %+v", decisions[0])
	}
	if decisions[0].TargetKind != "process" || decisions[0].Class != "INTERACTIVE" {
		t.Errorf("applied row kind/class = %q/%q", decisions[0].TargetKind, decisions[0].Class)
	}
	if decisions[1].Outcome != sqlite.OutcomeSkipped {
		t.Errorf("debounced row outcome = %q, want skipped", decisions[1].Outcome)
	}
	if decisions[2].Outcome != sqlite.OutcomeFailed || decisions[2].TargetID != "app:chat" {
		t.Errorf("failed row = %+v", decisions[2])
	}
	if decisions[2].Error != "cpu.weight: permission denied; memory.low: no such file" {
		t.Errorf("failed row error = %q", decisions[2].Error)
	}
}
