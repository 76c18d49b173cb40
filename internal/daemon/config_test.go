package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Daemon.Interval != "500ms" {
		t.Errorf("Daemon.Interval = %q, want %q", cfg.Daemon.Interval, "500ms")
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 9910 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 9910)
	}
	if cfg.ProcessHyst.MinInterval != "5s" {
		t.Errorf("ProcessHyst.MinInterval = %q, want %q", cfg.ProcessHyst.MinInterval, "5s")
	}
	if cfg.GroupHyst.StablePeriod != "30s" {
		t.Errorf("GroupHyst.StablePeriod = %q, want %q", cfg.GroupHyst.StablePeriod, "30s")
	}
	if cfg.Cgroup.WeightMin != 1 || cfg.Cgroup.WeightMax != 10000 {
		t.Errorf("Cgroup weight range = %d..%d, want 1..10000",
			cfg.Cgroup.WeightMin, cfg.Cgroup.WeightMax)
	}
	if cfg.MemProtect.Low != 256*datasize.MB {
		t.Errorf("MemProtect.Low = %v, want 256MB", cfg.MemProtect.Low)
	}
	if cfg.DecisionLog.RetentionDays != 7 {
		t.Errorf("DecisionLog.RetentionDays = %d, want 7", cfg.DecisionLog.RetentionDays)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v, want nil", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Daemon.Interval != "500ms" {
		t.Errorf("missing file should yield defaults, got interval %q", cfg.Daemon.Interval)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[daemon]
interval = "1s"
dry_run = true

[memory_protection]
low = "512MB"

[decision_log]
retention_days = 3
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Daemon.Interval != "1s" {
		t.Errorf("Daemon.Interval = %q, want %q", cfg.Daemon.Interval, "1s")
	}
	if !cfg.Daemon.DryRun {
		t.Error("Daemon.DryRun = false, want true")
	}
	if cfg.MemProtect.Low != 512*datasize.MB {
		t.Errorf("MemProtect.Low = %v, want 512MB", cfg.MemProtect.Low)
	}
	if cfg.DecisionLog.RetentionDays != 3 {
		t.Errorf("DecisionLog.RetentionDays = %d, want 3", cfg.DecisionLog.RetentionDays)
	}
	// Untouched sections keep defaults.
	if cfg.API.Port != 9910 {
		t.Errorf("API.Port = %d, want default 9910", cfg.API.Port)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[daemon]
interval = "not-a-duration"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig with bad interval = nil error, want error")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg := DefaultConfig()
	cfg.Daemon.DryRun = true
	cfg.Cgroup.WeightMax = 500

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !got.Daemon.DryRun {
		t.Error("DryRun lost in round trip")
	}
	if got.Cgroup.WeightMax != 500 {
		t.Errorf("Cgroup.WeightMax = %d, want 500", got.Cgroup.WeightMax)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad interval", func(c *Config) { c.Daemon.Interval = "soon" }, false},
		{"bad process interval", func(c *Config) { c.ProcessHyst.MinInterval = "5" }, false},
		{"bad stable period", func(c *Config) { c.GroupHyst.StablePeriod = "x" }, false},
		{"bad idle timeout", func(c *Config) { c.Policy.UserIdleTimeout = "later" }, false},
		{"negative distance", func(c *Config) { c.ProcessHyst.MinClassDistance = -1 }, false},
		{"weight min zero", func(c *Config) { c.Cgroup.WeightMin = 0 }, false},
		{"weight max too big", func(c *Config) { c.Cgroup.WeightMax = 20000 }, false},
		{"inverted weights", func(c *Config) { c.Cgroup.WeightMin = 100; c.Cgroup.WeightMax = 50 }, false},
		{"cpu share above one", func(c *Config) { c.Policy.NoisyNeighbourCPUShare = 1.5 }, false},
		{"retention zero", func(c *Config) { c.DecisionLog.RetentionDays = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantOK && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.wantOK && err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestDerivedValues(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.Interval(); got != 500*time.Millisecond {
		t.Errorf("Interval() = %v, want 500ms", got)
	}

	pt := cfg.ProcessTracker()
	if pt.MinInterval != 5*time.Second || pt.MinClassDistance != 1 {
		t.Errorf("ProcessTracker() = %+v, want {5s 1}", pt)
	}
	gt := cfg.GroupTracker()
	if gt.MinInterval != 30*time.Second || gt.MinClassDistance != 0 {
		t.Errorf("GroupTracker() = %+v, want {30s 0}", gt)
	}

	pp := cfg.PolicyParams()
	if pp.UserIdleTimeout != 2*time.Minute {
		t.Errorf("PolicyParams().UserIdleTimeout = %v, want 2m", pp.UserIdleTimeout)
	}
	if pp.NoisyCPUShare != 0.7 {
		t.Errorf("PolicyParams().NoisyCPUShare = %v, want 0.7", pp.NoisyCPUShare)
	}

	po := cfg.PlanOptions()
	if po.WeightMin != 1 || po.WeightMax != 10000 {
		t.Errorf("PlanOptions() weights = %d..%d, want 1..10000", po.WeightMin, po.WeightMax)
	}
	if !po.MemProtect || po.MemLowBytes != 256<<20 {
		t.Errorf("PlanOptions() mem protect = %v/%d, want true/%d", po.MemProtect, po.MemLowBytes, 256<<20)
	}

	if got := cfg.Retention(); got != 7*24*time.Hour {
		t.Errorf("Retention() = %v, want 168h", got)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"250ms", 250 * time.Millisecond},
		{"2m", 2 * time.Minute},
		{"", time.Second},      // empty falls back
		{"bogus", time.Second}, // unparsable falls back
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseDuration(tt.input, time.Second)
			if got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSilkdHomeEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SILKD_HOME", dir)

	if got := silkdHome(); got != dir {
		t.Errorf("silkdHome() = %q, want %q", got, dir)
	}
}
