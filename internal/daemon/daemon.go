package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/silkd/silkd/internal/actuator"
	"github.com/silkd/silkd/internal/api"
	"github.com/silkd/silkd/internal/classify"
	"github.com/silkd/silkd/internal/health"
	"github.com/silkd/silkd/internal/hysteresis"
	"github.com/silkd/silkd/internal/infra/cgroup"
	"github.com/silkd/silkd/internal/infra/osprio"
	"github.com/silkd/silkd/internal/infra/sqlite"
	"github.com/silkd/silkd/internal/policy"
	"github.com/silkd/silkd/internal/proc"
)

// Daemon is the silkd runtime. It wires observation, policy, and actuation
// into the control loop and hosts the local status API.
type Daemon struct {
	Config     Config
	InstanceID string

	DB         *sqlite.DB // nil when the decision log is disabled
	Collector  *proc.Collector
	Classifier *classify.Classifier
	Engine     *policy.Engine
	Planner    *policy.Planner
	Actuator   *actuator.Actuator
	Cgroups    cgroup.Manager
	Prio       osprio.Controller
	Health     *health.Checker
	Server     *api.Server

	stats  *runStats
	cancel context.CancelFunc
}

// New creates a Daemon from the default config location.
func New() (*Daemon, error) {
	cfg, err := LoadConfig("")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	d := &Daemon{
		Config:     cfg,
		InstanceID: uuid.NewString(),
		stats:      newRunStats(),
	}

	// Decision log
	if cfg.DecisionLog.Enabled {
		db, err := sqlite.Open(silkdHome())
		if err != nil {
			return nil, fmt.Errorf("open decision log: %w", err)
		}
		d.DB = db

		cfgJSON, _ := json.Marshal(cfg)
		if err := db.BeginRun(d.InstanceID, time.Now(), string(cfgJSON)); err != nil {
			log.WithFields(log.Fields{"error": err}).Warn("could not record run start")
		}
	}

	// Observation
	d.Collector = proc.NewCollector(proc.Options{
		IdleTimeout: cfg.PolicyParams().UserIdleTimeout,
	})

	// Pattern database: defaults, optionally extended from disk
	patterns := classify.DefaultDatabase()
	if dir := cfg.Daemon.PatternsDir; dir != "" {
		loaded, err := classify.Load(dir)
		if err != nil {
			log.WithFields(log.Fields{"dir": dir, "error": err}).
				Warn("pattern dir unreadable, using built-in patterns")
		} else {
			patterns = classify.WithDefaults(loaded)
		}
	}
	d.Classifier = classify.New(patterns)

	// OS mutation surfaces
	d.Prio = osprio.New()
	if cfg.Cgroup.Enabled {
		d.Cgroups = cgroup.New()
	} else {
		// Empty root: Available() is false, planning degrades to
		// process-level primitives.
		d.Cgroups = cgroup.NewAt("", cgroup.DefaultParent)
	}

	// Policy
	d.Engine = policy.NewEngine(cfg.PolicyParams())
	d.Planner = policy.NewPlanner(cfg.PlanOptions(), d.Prio, d.Cgroups)

	// Actuation
	procs := hysteresis.NewTracker[int](cfg.ProcessTracker())
	groups := hysteresis.NewTracker[string](cfg.GroupTracker())
	d.Actuator = actuator.New(procs, groups, d.Prio, d.Cgroups, actuator.Options{
		DryRun:      cfg.Daemon.DryRun,
		MemLowBytes: uint64(cfg.MemProtect.Low),
	})

	// Health checker and status API
	d.Health = health.NewChecker(d.DB, d.Cgroups, "/proc")
	d.Server = api.NewServer(d, d.Health, procs, groups)
	d.Server.SetConfig(cfg)
	if cfg.Metrics.Enabled {
		d.Server.EnableMetrics()
	}

	return d, nil
}

// Stats implements api.StatsSource.
func (d *Daemon) Stats() api.Stats {
	v := d.stats.View()
	return api.Stats{
		InstanceID:      d.InstanceID,
		Version:         Version,
		StartedAt:       v.StartedAt,
		DryRun:          d.Config.Daemon.DryRun,
		Iterations:      v.Iterations,
		IterationErrors: v.IterationErrors,
		Applied:         v.Applied,
		Skipped:         v.Skipped,
		ApplyErrors:     v.ApplyErrors,
		LoadLevel:       v.LastLoadLevel,
		LoadCategory:    v.LastLoadCat,
	}
}

// Serve runs the control loop and the status API until a signal or the
// context stops it.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	// Health checker (always runs)
	go d.Health.Run(ctx)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		d.runLoop(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var httpServer *http.Server
	httpErr := make(chan error, 1)
	if d.Config.API.Enabled {
		addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
		httpServer = &http.Server{
			Addr:         addr,
			Handler:      d.Server.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  2 * time.Minute,
		}
		go func() {
			if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
				httpErr <- err
			}
		}()
		log.WithFields(log.Fields{"addr": addr}).Info("status API listening")
	}

	log.WithFields(log.Fields{
		"instance": d.InstanceID,
		"interval": d.Config.Interval(),
		"dry_run":  d.Config.Daemon.DryRun,
	}).Info("silkd started")

	var serveErr error
	select {
	case sig := <-sigCh:
		log.WithFields(log.Fields{"signal": sig}).Info("shutting down")
	case <-ctx.Done():
	case serveErr = <-httpErr:
		log.WithFields(log.Fields{"error": serveErr}).Error("status API failed")
	}
	cancel()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	// The loop finishes its current iteration before exiting, so applied
	// changes and their history stay consistent.
	<-loopDone

	if d.DB != nil {
		_ = d.DB.Close()
	}
	return serveErr
}

// Close shuts down daemon resources. Safe after Serve has returned.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
