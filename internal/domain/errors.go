package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, with no infrastructure dependency.

var (
	// Priority model errors
	ErrUnknownClass = errors.New("unknown priority class")

	// Actuation errors
	ErrTargetVanished = errors.New("target no longer exists")
	ErrNotPermitted   = errors.New("operation not permitted for this target")

	// Cgroup errors
	ErrCgroupUnavailable = errors.New("cgroup v2 filesystem not available")
	ErrControllerMissing = errors.New("cgroup controller not enabled")
)
