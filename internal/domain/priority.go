// Package domain holds the priority model and snapshot types shared by the
// collection, policy, and actuation stages. Domain types are pure, with
// no infrastructure dependency.
package domain

import (
	"fmt"
	"strings"
)

// PriorityClass is one of five ordered urgency levels assigned to a process
// or application group. Lower rank means more urgent.
type PriorityClass int

const (
	ClassCritInteractive PriorityClass = iota // Focused audio/game work
	ClassInteractive                          // Focused GUI, active terminal
	ClassNormal                               // Default for unmatched work
	ClassBackground                           // Updaters, indexers, noisy groups
	ClassIdle                                 // Only runs when nothing else wants to
)

// AllClasses lists every priority class from most to least urgent.
func AllClasses() []PriorityClass {
	return []PriorityClass{
		ClassCritInteractive,
		ClassInteractive,
		ClassNormal,
		ClassBackground,
		ClassIdle,
	}
}

// Rank returns the numeric urgency rank (0 = most urgent). Ranks are used
// only for distance arithmetic between classes.
func (c PriorityClass) Rank() int { return int(c) }

// Valid reports whether c is one of the five defined classes.
func (c PriorityClass) Valid() bool {
	return c >= ClassCritInteractive && c <= ClassIdle
}

// MoreUrgent reports whether c is strictly more urgent than other.
func (c PriorityClass) MoreUrgent(other PriorityClass) bool { return c < other }

// Distance returns the absolute rank distance between two classes.
func (c PriorityClass) Distance(other PriorityClass) int {
	d := c.Rank() - other.Rank()
	if d < 0 {
		d = -d
	}
	return d
}

// String returns the canonical wire/log form of the class.
func (c PriorityClass) String() string {
	switch c {
	case ClassCritInteractive:
		return "CRIT_INTERACTIVE"
	case ClassInteractive:
		return "INTERACTIVE"
	case ClassNormal:
		return "NORMAL"
	case ClassBackground:
		return "BACKGROUND"
	case ClassIdle:
		return "IDLE"
	default:
		return "UNKNOWN"
	}
}

// ParsePriorityClass parses the canonical class form, case-insensitively.
func ParsePriorityClass(s string) (PriorityClass, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRIT_INTERACTIVE":
		return ClassCritInteractive, nil
	case "INTERACTIVE":
		return ClassInteractive, nil
	case "NORMAL":
		return ClassNormal, nil
	case "BACKGROUND":
		return ClassBackground, nil
	case "IDLE":
		return ClassIdle, nil
	default:
		return ClassNormal, fmt.Errorf("%w: %q", ErrUnknownClass, s)
	}
}

// ─── IO Priority ────────────────────────────────────────────────────────────

// IOClass is the Linux IO scheduler priority class.
type IOClass int

const (
	IORealtime   IOClass = 1 // Preempts all other IO
	IOBestEffort IOClass = 2 // Default class, level 0..7
	IOIdle       IOClass = 3 // Only when the disk is otherwise idle
)

// String returns the ionice-style name of the IO class.
func (c IOClass) String() string {
	switch c {
	case IORealtime:
		return "realtime"
	case IOBestEffort:
		return "best-effort"
	case IOIdle:
		return "idle"
	default:
		return "none"
	}
}

// IOPriority is an IO scheduling class plus its level (0..7; level is
// meaningful only for best-effort and realtime).
type IOPriority struct {
	Class IOClass `json:"class"`
	Level int     `json:"level"`
}

// ─── Class → Primitive Mapping ──────────────────────────────────────────────

// ClassParams are the OS primitive values a priority class maps to. The
// mapping is monotonic: a more urgent class never gets an equal-or-worse
// value than a less urgent one for any primitive.
type ClassParams struct {
	Nice         int        `json:"nice"`          // -20..19, lower is more favorable
	LatencyNice  int        `json:"latency_nice"`  // -20..19 scheduler latency hint
	IO           IOPriority `json:"io"`            // IO class and level
	CPUWeight    int        `json:"cpu_weight"`    // cgroup v2 cpu.weight, higher is more favorable
	MemProtected bool       `json:"mem_protected"` // shield from reclaim under pressure
}

// Params returns the primitive mapping for the class. Unknown classes map
// to the Normal row.
func (c PriorityClass) Params() ClassParams {
	switch c {
	case ClassCritInteractive:
		return ClassParams{Nice: -8, LatencyNice: -15, IO: IOPriority{IOBestEffort, 0}, CPUWeight: 200, MemProtected: true}
	case ClassInteractive:
		return ClassParams{Nice: -4, LatencyNice: -10, IO: IOPriority{IOBestEffort, 2}, CPUWeight: 150, MemProtected: true}
	case ClassBackground:
		return ClassParams{Nice: 5, LatencyNice: 10, IO: IOPriority{IOBestEffort, 6}, CPUWeight: 50, MemProtected: false}
	case ClassIdle:
		return ClassParams{Nice: 10, LatencyNice: 15, IO: IOPriority{IOIdle, 0}, CPUWeight: 25, MemProtected: false}
	default:
		return ClassParams{Nice: 0, LatencyNice: 0, IO: IOPriority{IOBestEffort, 4}, CPUWeight: 100, MemProtected: true}
	}
}
