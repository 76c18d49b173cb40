// Package cgroup manages the daemon's cgroup v2 subtree: one directory per
// application group under <root>/silkd, carrying the group's cpu.weight,
// memory.low, and membership. All writes are plain cgroupfs file writes.
package cgroup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/silkd/silkd/internal/domain"
)

// DefaultParent is the directory created directly under the cgroup root
// that holds every app-<id> group.
const DefaultParent = "silkd"

// Manager is the group-level mutation surface the actuator and planner
// drive. Implemented by FS against the real cgroupfs and by fakes in tests.
type Manager interface {
	Available() bool
	ControllerAvailable(name string) bool

	// PathFor returns the cgroup-relative path ("/silkd/app-x") a member
	// process would report in /proc/<pid>/cgroup once attached.
	PathFor(id string) string

	EnsureGroup(id string) error
	Attach(id string, pid int) error
	SetCPUWeight(id string, weight int) error
	SetMemoryLow(id string, bytes uint64) error

	// CPUWeight reports the group's current weight, false when the group
	// or the controller file does not exist.
	CPUWeight(id string) (int, bool)

	// MemoryLow reports the group's current reclaim protection in bytes,
	// false when unreadable.
	MemoryLow(id string) (uint64, bool)

	// RemoveStale removes group directories whose ID is not in active.
	// Returns how many were removed; non-empty groups are left in place.
	RemoveStale(active map[string]struct{}) int
}

// FS is the cgroupfs-backed Manager.
type FS struct {
	root   string // "" when cgroup v2 is unavailable
	parent string
}

// New discovers the cgroup v2 root and returns a manager rooted there.
// The manager is still usable when discovery fails; every mutation then
// reports ErrCgroupUnavailable, and Available() lets callers degrade to
// process-level actuation only.
func New() *FS {
	return NewAt(discoverRoot(), DefaultParent)
}

// NewAt builds a manager over an explicit root, used by tests.
func NewAt(root, parent string) *FS {
	return &FS{root: root, parent: parent}
}

// discoverRoot probes the standard mount points for a cgroup v2 hierarchy,
// recognized by its cgroup.controllers file.
func discoverRoot() string {
	for _, candidate := range []string{"/sys/fs/cgroup", "/sys/fs/cgroup/unified"} {
		if _, err := os.Stat(filepath.Join(candidate, "cgroup.controllers")); err == nil {
			return candidate
		}
	}
	return ""
}

// Available reports whether a cgroup v2 hierarchy was found.
func (f *FS) Available() bool { return f.root != "" }

// ControllerAvailable reports whether the named controller ("cpu",
// "memory", "io") is present at the root.
func (f *FS) ControllerAvailable(name string) bool {
	if f.root == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(f.root, "cgroup.controllers"))
	if err != nil {
		return false
	}
	for _, c := range strings.Fields(string(data)) {
		if c == name {
			return true
		}
	}
	return false
}

// PathFor implements Manager. A group whose ID was derived from a path
// already inside the managed subtree maps back to that same path;
// otherwise every attach would mint a fresh ID next scan and the tree
// would nest a level per iteration.
func (f *FS) PathFor(id string) string {
	if p, ok := strings.CutPrefix(id, "cg:"); ok && strings.HasPrefix(p, "/"+f.parent+"/") {
		return p
	}
	return "/" + f.parent + "/app-" + sanitizeID(id)
}

func (f *FS) groupDir(id string) string {
	return filepath.Join(f.root, f.PathFor(id))
}

// EnsureGroup creates the parent and group directories if missing and
// delegates cpu/memory control to the parent's children.
func (f *FS) EnsureGroup(id string) error {
	if f.root == "" {
		return domain.ErrCgroupUnavailable
	}
	parentDir := filepath.Join(f.root, f.parent)
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", parentDir, err)
	}
	// Best effort: already-enabled controllers make this write redundant,
	// and kernels reject it while the parent still holds processes.
	subtree := filepath.Join(parentDir, "cgroup.subtree_control")
	_ = os.WriteFile(subtree, []byte("+cpu +memory"), 0o644)

	dir := f.groupDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// Attach moves one process into the group by writing its PID to
// cgroup.procs. Each PID is its own sub-mutation so one vanished process
// does not poison the rest of the group.
func (f *FS) Attach(id string, pid int) error {
	if f.root == "" {
		return domain.ErrCgroupUnavailable
	}
	file := filepath.Join(f.groupDir(id), "cgroup.procs")
	if err := os.WriteFile(file, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("attach pid %d to %s: %w", pid, id, mapWriteErr(err))
	}
	return nil
}

// SetCPUWeight writes cpu.weight (1..10000).
func (f *FS) SetCPUWeight(id string, weight int) error {
	if f.root == "" {
		return domain.ErrCgroupUnavailable
	}
	file := filepath.Join(f.groupDir(id), "cpu.weight")
	if err := os.WriteFile(file, []byte(strconv.Itoa(weight)), 0o644); err != nil {
		if errors.Is(err, os.ErrNotExist) && !f.ControllerAvailable("cpu") {
			return fmt.Errorf("cpu.weight for %s: %w", id, domain.ErrControllerMissing)
		}
		return fmt.Errorf("cpu.weight %d for %s: %w", weight, id, mapWriteErr(err))
	}
	return nil
}

// SetMemoryLow writes memory.low; zero clears reclaim protection.
func (f *FS) SetMemoryLow(id string, bytes uint64) error {
	if f.root == "" {
		return domain.ErrCgroupUnavailable
	}
	file := filepath.Join(f.groupDir(id), "memory.low")
	if err := os.WriteFile(file, []byte(strconv.FormatUint(bytes, 10)), 0o644); err != nil {
		if errors.Is(err, os.ErrNotExist) && !f.ControllerAvailable("memory") {
			return fmt.Errorf("memory.low for %s: %w", id, domain.ErrControllerMissing)
		}
		return fmt.Errorf("memory.low %d for %s: %w", bytes, id, mapWriteErr(err))
	}
	return nil
}

// CPUWeight implements Manager.
func (f *FS) CPUWeight(id string) (int, bool) {
	if f.root == "" {
		return 0, false
	}
	data, err := os.ReadFile(filepath.Join(f.groupDir(id), "cpu.weight"))
	if err != nil {
		return 0, false
	}
	w, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return w, true
}

// MemoryLow implements Manager. The kernel prints "max" for unlimited
// protection; that reads as unknown here since the daemon never writes it.
func (f *FS) MemoryLow(id string) (uint64, bool) {
	if f.root == "" {
		return 0, false
	}
	data, err := os.ReadFile(filepath.Join(f.groupDir(id), "memory.low"))
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// RemoveStale implements Manager. A directory still holding processes
// fails rmdir with EBUSY and is skipped; it will be retried once its
// processes exit or are re-attached elsewhere.
func (f *FS) RemoveStale(active map[string]struct{}) int {
	if f.root == "" {
		return 0
	}
	parentDir := filepath.Join(f.root, f.parent)
	entries, err := os.ReadDir(parentDir)
	if err != nil {
		return 0
	}

	// Resolve active IDs to their directory names.
	keep := make(map[string]struct{}, len(active))
	for id := range active {
		keep[filepath.Base(f.PathFor(id))] = struct{}{}
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "app-") {
			continue
		}
		if _, ok := keep[e.Name()]; ok {
			continue
		}
		if err := unix.Rmdir(filepath.Join(parentDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed
}

// sanitizeID turns an arbitrary group ID into a safe directory component.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '-'
		}
	}, id)
}

// mapWriteErr folds "process already gone" into the domain sentinel.
func mapWriteErr(err error) error {
	if errors.Is(err, unix.ESRCH) {
		return domain.ErrTargetVanished
	}
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return fmt.Errorf("%w: %v", domain.ErrNotPermitted, err)
	}
	return err
}
