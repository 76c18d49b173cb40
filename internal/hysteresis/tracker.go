// Package hysteresis implements the debounce gate that keeps priority
// changes from oscillating: a change is allowed only when it has been long
// enough since the last applied change AND the proposed class is far enough
// from the last applied one. One generic tracker serves both the
// process-level gate (keyed by PID) and the group-level gate (keyed by
// application-group ID); the two differ only in configured constants.
package hysteresis

import (
	"sync"
	"time"

	"github.com/silkd/silkd/internal/domain"
)

// Config holds the gate constants for one tracker instance.
type Config struct {
	// MinInterval is the minimum time between applied changes for one
	// target. The time gate.
	MinInterval time.Duration
	// MinClassDistance is the minimum rank distance between the last
	// applied class and a proposed one. Zero disables the magnitude gate,
	// leaving only the time gate.
	MinClassDistance int
}

// DefaultProcessConfig returns the gate constants for fine-grained
// process-level changes (nice, IO class, latency hint).
func DefaultProcessConfig() Config {
	return Config{MinInterval: 5 * time.Second, MinClassDistance: 1}
}

// DefaultGroupConfig returns the gate constants for coarse group-level
// cgroup changes, which are more expensive to thrash: a longer stable
// period, debounced on time alone.
func DefaultGroupConfig() Config {
	return Config{MinInterval: 30 * time.Second, MinClassDistance: 0}
}

// Tracker remembers, per target, the last successfully applied class and
// when it was applied, and answers whether a new proposal may act now.
//
// All methods are safe for concurrent use. The lock is scoped to single
// map operations and is never held across a syscall, so status-API reads
// are never blocked by OS mutation latency.
type Tracker[K comparable] struct {
	mu      sync.Mutex
	cfg     Config
	records map[K]domain.ChangeRecord
	now     func() time.Time // swapped out in tests
}

// NewTracker builds an empty tracker with the given gate constants.
func NewTracker[K comparable](cfg Config) *Tracker[K] {
	return &Tracker[K]{
		cfg:     cfg,
		records: make(map[K]domain.ChangeRecord),
		now:     time.Now,
	}
}

// ShouldApply reports whether a change of key to proposed may be applied
// now. Pure query: no side effects, safe to call repeatedly.
//
// First observation of a key is always allowed. Re-proposing the class
// already applied is always allowed (it results in no OS mutation).
// Anything else must pass both the time gate and the magnitude gate.
func (t *Tracker[K]) ShouldApply(key K, proposed domain.PriorityClass) bool {
	t.mu.Lock()
	rec, ok := t.records[key]
	now := t.now()
	t.mu.Unlock()

	if !ok {
		return true
	}
	if proposed == rec.Class {
		return true
	}
	if now.Sub(rec.ChangedAt) < t.cfg.MinInterval {
		return false
	}
	return proposed.Distance(rec.Class) >= t.cfg.MinClassDistance
}

// Record upserts the history for key after a confirmed successful
// application. Call only once the OS mutation has succeeded; recording
// earlier would hide real failures behind false gating next cycle.
//
// Re-recording the class already held does not reset the change
// timestamp: only rank-different applications count as changes.
func (t *Tracker[K]) Record(key K, applied domain.PriorityClass) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.records[key]; ok && rec.Class == applied {
		return
	}
	t.records[key] = domain.ChangeRecord{Class: applied, ChangedAt: t.now()}
}

// CleanupInactive drops every record whose key is not in active, bounding
// memory to the live target population. Called once per control-loop
// iteration with that iteration's observed set. Returns how many records
// were removed.
func (t *Tracker[K]) CleanupInactive(active map[K]struct{}) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key := range t.records {
		if _, ok := active[key]; !ok {
			delete(t.records, key)
			removed++
		}
	}
	return removed
}

// Snapshot returns a consistent copy of all records for status reporting.
// Records are copied under the lock, so a concurrent Record can never
// produce a torn class/timestamp pair in the result.
func (t *Tracker[K]) Snapshot() map[K]domain.ChangeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[K]domain.ChangeRecord, len(t.records))
	for key, rec := range t.records {
		out[key] = rec
	}
	return out
}

// Lookup returns the record for key, if one exists.
func (t *Tracker[K]) Lookup(key K) (domain.ChangeRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key]
	return rec, ok
}

// Len returns the number of tracked targets.
func (t *Tracker[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
