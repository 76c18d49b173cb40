// Package daemon manages the silkd lifecycle: configuration, component
// wiring, and the control loop.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/c2h5oh/datasize"

	"github.com/silkd/silkd/internal/hysteresis"
	"github.com/silkd/silkd/internal/policy"
)

// Version is the daemon version reported by the CLI and the status API.
const Version = "0.1.0"

// DefaultConfigPath is where LoadConfig looks when no --config is given.
const DefaultConfigPath = "/etc/silkd/config.toml"

// Config holds all daemon configuration. Durations are TOML strings
// parsed by the accessor methods; invalid values are caught by Validate.
type Config struct {
	Daemon      DaemonConfig      `toml:"daemon" json:"daemon"`
	Logging     LoggingConfig     `toml:"logging" json:"logging"`
	API         APIConfig         `toml:"api" json:"api"`
	Metrics     MetricsConfig     `toml:"metrics" json:"metrics"`
	ProcessHyst HysteresisConfig  `toml:"process_hysteresis" json:"process_hysteresis"`
	GroupHyst   HysteresisConfig  `toml:"group_hysteresis" json:"group_hysteresis"`
	Cgroup      CgroupConfig      `toml:"cgroup" json:"cgroup"`
	MemProtect  MemProtectConfig  `toml:"memory_protection" json:"memory_protection"`
	Policy      PolicyConfig      `toml:"policy" json:"policy"`
	DecisionLog DecisionLogConfig `toml:"decision_log" json:"decision_log"`
}

// DaemonConfig controls the core loop.
type DaemonConfig struct {
	Interval    string `toml:"interval" json:"interval"`
	DryRun      bool   `toml:"dry_run" json:"dry_run"`
	PatternsDir string `toml:"patterns_dir" json:"patterns_dir"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

// APIConfig controls the local status server.
type APIConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Host    string `toml:"host" json:"host"`
	Port    int    `toml:"port" json:"port"`
}

// MetricsConfig gates the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
}

// HysteresisConfig is the debounce tuning for one tracker. Processes use
// min_interval, groups use stable_period; the unused field stays empty.
type HysteresisConfig struct {
	MinInterval      string `toml:"min_interval,omitempty" json:"min_interval,omitempty"`
	StablePeriod     string `toml:"stable_period,omitempty" json:"stable_period,omitempty"`
	MinClassDistance int    `toml:"min_class_distance" json:"min_class_distance"`
}

// CgroupConfig controls group-level actuation.
type CgroupConfig struct {
	Enabled   bool `toml:"enabled" json:"enabled"`
	WeightMin int  `toml:"weight_min" json:"weight_min"`
	WeightMax int  `toml:"weight_max" json:"weight_max"`
}

// MemProtectConfig controls memory.low management.
type MemProtectConfig struct {
	Enabled bool              `toml:"enabled" json:"enabled"`
	Low     datasize.ByteSize `toml:"low" json:"low"`
}

// PolicyConfig holds the rule thresholds.
type PolicyConfig struct {
	UserIdleTimeout        string  `toml:"user_idle_timeout" json:"user_idle_timeout"`
	NoisyNeighbourCPUShare float64 `toml:"noisy_neighbour_cpu_share" json:"noisy_neighbour_cpu_share"`
}

// DecisionLogConfig controls the SQLite decision log.
type DecisionLogConfig struct {
	Enabled       bool `toml:"enabled" json:"enabled"`
	RetentionDays int  `toml:"retention_days" json:"retention_days"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Daemon: DaemonConfig{
			Interval: "500ms",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9910,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		ProcessHyst: HysteresisConfig{
			MinInterval:      "5s",
			MinClassDistance: 1,
		},
		GroupHyst: HysteresisConfig{
			StablePeriod:     "30s",
			MinClassDistance: 0,
		},
		Cgroup: CgroupConfig{
			Enabled:   true,
			WeightMin: 1,
			WeightMax: 10000,
		},
		MemProtect: MemProtectConfig{
			Enabled: true,
			Low:     256 * datasize.MB,
		},
		Policy: PolicyConfig{
			UserIdleTimeout:        "120s",
			NoisyNeighbourCPUShare: 0.7,
		},
		DecisionLog: DecisionLogConfig{
			Enabled:       true,
			RetentionDays: 7,
		},
	}
}

// LoadConfig reads config from path, or from DefaultConfigPath when path
// is empty. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes the config to path, creating parent directories.
func SaveConfig(cfg Config, path string) error {
	if path == "" {
		path = DefaultConfigPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Validate rejects values the control loop would otherwise have to
// re-check every iteration.
func (c Config) Validate() error {
	if _, err := time.ParseDuration(c.Daemon.Interval); err != nil {
		return fmt.Errorf("daemon.interval: %w", err)
	}
	if c.ProcessHyst.MinInterval != "" {
		if _, err := time.ParseDuration(c.ProcessHyst.MinInterval); err != nil {
			return fmt.Errorf("process_hysteresis.min_interval: %w", err)
		}
	}
	if c.GroupHyst.StablePeriod != "" {
		if _, err := time.ParseDuration(c.GroupHyst.StablePeriod); err != nil {
			return fmt.Errorf("group_hysteresis.stable_period: %w", err)
		}
	}
	if c.Policy.UserIdleTimeout != "" {
		if _, err := time.ParseDuration(c.Policy.UserIdleTimeout); err != nil {
			return fmt.Errorf("policy.user_idle_timeout: %w", err)
		}
	}
	if c.ProcessHyst.MinClassDistance < 0 || c.GroupHyst.MinClassDistance < 0 {
		return fmt.Errorf("hysteresis min_class_distance must be >= 0")
	}
	if c.Cgroup.WeightMin < 1 || c.Cgroup.WeightMax > 10000 ||
		c.Cgroup.WeightMin > c.Cgroup.WeightMax {
		return fmt.Errorf("cgroup weight range %d..%d outside 1..10000",
			c.Cgroup.WeightMin, c.Cgroup.WeightMax)
	}
	if c.Policy.NoisyNeighbourCPUShare < 0 || c.Policy.NoisyNeighbourCPUShare > 1 {
		return fmt.Errorf("policy.noisy_neighbour_cpu_share %v outside 0..1",
			c.Policy.NoisyNeighbourCPUShare)
	}
	if c.DecisionLog.RetentionDays < 1 {
		return fmt.Errorf("decision_log.retention_days must be >= 1")
	}
	return nil
}

// ─── Derived Values ─────────────────────────────────────────────────────────

// Interval returns the parsed loop interval.
func (c Config) Interval() time.Duration {
	return parseDuration(c.Daemon.Interval, 500*time.Millisecond)
}

// ProcessTracker returns the process-level debounce config.
func (c Config) ProcessTracker() hysteresis.Config {
	cfg := hysteresis.DefaultProcessConfig()
	if c.ProcessHyst.MinInterval != "" {
		cfg.MinInterval = parseDuration(c.ProcessHyst.MinInterval, cfg.MinInterval)
	}
	cfg.MinClassDistance = c.ProcessHyst.MinClassDistance
	return cfg
}

// GroupTracker returns the group-level debounce config.
func (c Config) GroupTracker() hysteresis.Config {
	cfg := hysteresis.DefaultGroupConfig()
	if c.GroupHyst.StablePeriod != "" {
		cfg.MinInterval = parseDuration(c.GroupHyst.StablePeriod, cfg.MinInterval)
	}
	cfg.MinClassDistance = c.GroupHyst.MinClassDistance
	return cfg
}

// PolicyParams returns the rule engine thresholds.
func (c Config) PolicyParams() policy.Params {
	return policy.Params{
		UserIdleTimeout: parseDuration(c.Policy.UserIdleTimeout, 2*time.Minute),
		NoisyCPUShare:   c.Policy.NoisyNeighbourCPUShare,
	}
}

// PlanOptions returns the planner bounds.
func (c Config) PlanOptions() policy.PlanOptions {
	return policy.PlanOptions{
		WeightMin:   c.Cgroup.WeightMin,
		WeightMax:   c.Cgroup.WeightMax,
		MemProtect:  c.MemProtect.Enabled,
		MemLowBytes: uint64(c.MemProtect.Low),
	}
}

// Retention returns the decision log retention window.
func (c Config) Retention() time.Duration {
	return time.Duration(c.DecisionLog.RetentionDays) * 24 * time.Hour
}

// ─── Home Directory ─────────────────────────────────────────────────────────

// silkdHome returns the silkd data directory, honoring SILKD_HOME.
func silkdHome() string {
	if env := os.Getenv("SILKD_HOME"); env != "" {
		return env
	}
	return "/var/lib/silkd"
}

// parseDuration parses a duration string, falling back on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
