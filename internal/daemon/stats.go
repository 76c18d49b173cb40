package daemon

import (
	"sync"
	"time"
)

// runStats accumulates control-loop counters for the status API and the
// periodic summary log. The loop writes once per iteration; API handlers
// read concurrently.
type runStats struct {
	mu sync.Mutex

	startedAt       time.Time
	iterations      uint64
	iterationErrors uint64

	applied     uint64
	skipped     uint64
	applyErrors uint64

	lastProcesses int
	lastGroups    int
	lastLoadLevel float64
	lastLoadCat   string

	maxDuration   time.Duration
	totalDuration time.Duration
}

// iterationSample is one loop pass worth of counters.
type iterationSample struct {
	Duration    time.Duration
	Processes   int
	Groups      int
	Applied     int
	Skipped     int
	ApplyErrors int
	LoadLevel   float64
	LoadCat     string
	Failed      bool
}

func newRunStats() *runStats {
	return &runStats{startedAt: time.Now()}
}

// Record folds one iteration into the totals.
func (s *runStats) Record(it iterationSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.iterations++
	if it.Failed {
		s.iterationErrors++
	}
	s.applied += uint64(it.Applied)
	s.skipped += uint64(it.Skipped)
	s.applyErrors += uint64(it.ApplyErrors)
	s.lastProcesses = it.Processes
	s.lastGroups = it.Groups
	s.lastLoadLevel = it.LoadLevel
	s.lastLoadCat = it.LoadCat
	if it.Duration > s.maxDuration {
		s.maxDuration = it.Duration
	}
	s.totalDuration += it.Duration
}

// statsView is a consistent copy of the counters.
type statsView struct {
	StartedAt       time.Time
	Iterations      uint64
	IterationErrors uint64
	Applied         uint64
	Skipped         uint64
	ApplyErrors     uint64
	LastProcesses   int
	LastGroups      int
	LastLoadLevel   float64
	LastLoadCat     string
	MaxDuration     time.Duration
	AvgDuration     time.Duration
}

// View returns a snapshot of the counters.
func (s *runStats) View() statsView {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := statsView{
		StartedAt:       s.startedAt,
		Iterations:      s.iterations,
		IterationErrors: s.iterationErrors,
		Applied:         s.applied,
		Skipped:         s.skipped,
		ApplyErrors:     s.applyErrors,
		LastProcesses:   s.lastProcesses,
		LastGroups:      s.lastGroups,
		LastLoadLevel:   s.lastLoadLevel,
		LastLoadCat:     s.lastLoadCat,
		MaxDuration:     s.maxDuration,
	}
	if s.iterations > 0 {
		v.AvgDuration = s.totalDuration / time.Duration(s.iterations)
	}
	return v
}
