package cgroup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/silkd/silkd/internal/domain"
)

// newTestFS builds a fake cgroup v2 root in a temp dir.
func newTestFS(t *testing.T) *FS {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "cgroup.controllers"), []byte("cpuset cpu io memory pids"), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewAt(root, DefaultParent)
}

func TestAvailable(t *testing.T) {
	fs := newTestFS(t)
	if !fs.Available() {
		t.Error("Available() = false for a root with cgroup.controllers")
	}

	none := NewAt("", DefaultParent)
	if none.Available() {
		t.Error("Available() = true without a root")
	}
	if err := none.EnsureGroup("x"); err == nil {
		t.Error("EnsureGroup without a root did not fail")
	}
}

func TestControllerAvailable(t *testing.T) {
	fs := newTestFS(t)
	if !fs.ControllerAvailable("cpu") || !fs.ControllerAvailable("memory") {
		t.Error("cpu/memory controllers not detected")
	}
	if fs.ControllerAvailable("hugetlb") {
		t.Error("absent controller reported available")
	}
}

func TestMissingControllerSurfaced(t *testing.T) {
	// Host without the memory controller delegated to the v2 hierarchy.
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "cgroup.controllers"), []byte("cpuset cpu pids"), 0o644); err != nil {
		t.Fatal(err)
	}
	fs := NewAt(root, DefaultParent)

	if err := fs.SetMemoryLow("g", 64<<20); !errors.Is(err, domain.ErrControllerMissing) {
		t.Errorf("SetMemoryLow error = %v, want ErrControllerMissing", err)
	}
	// cpu is delegated, so its write failure stays an ordinary path error.
	if err := fs.SetCPUWeight("g", 100); errors.Is(err, domain.ErrControllerMissing) {
		t.Errorf("SetCPUWeight error = %v, want plain write error", err)
	}
}

func TestEnsureGroupAndWeight(t *testing.T) {
	fs := newTestFS(t)

	if err := fs.EnsureGroup("cg:/user.slice/app.slice"); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	dir := fs.groupDir("cg:/user.slice/app.slice")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("group dir missing: %v", err)
	}

	if err := fs.SetCPUWeight("cg:/user.slice/app.slice", 150); err != nil {
		t.Fatalf("SetCPUWeight: %v", err)
	}
	got, ok := fs.CPUWeight("cg:/user.slice/app.slice")
	if !ok || got != 150 {
		t.Errorf("CPUWeight = %d, %v; want 150, true", got, ok)
	}

	if err := fs.SetMemoryLow("cg:/user.slice/app.slice", 256<<20); err != nil {
		t.Fatalf("SetMemoryLow: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "memory.low"))
	if err != nil || string(data) != "268435456" {
		t.Errorf("memory.low = %q, %v", data, err)
	}
}

func TestPathForMatchesProcView(t *testing.T) {
	fs := newTestFS(t)
	got := fs.PathFor("cg:/user.slice")
	want := "/silkd/app-cg--user.slice"
	if got != want {
		t.Errorf("PathFor = %q, want %q", got, want)
	}
}

func TestPathForManagedGroupIsIdentity(t *testing.T) {
	fs := newTestFS(t)
	// Once members live under the managed subtree, their group must map
	// back onto the same directory rather than a nested app-app- one.
	got := fs.PathFor("cg:/silkd/app-firefox")
	if got != "/silkd/app-firefox" {
		t.Errorf("PathFor = %q, want %q", got, "/silkd/app-firefox")
	}
	// IDs merely mentioning the parent elsewhere still sanitize.
	if got := fs.PathFor("tree:42"); got != "/silkd/app-tree-42" {
		t.Errorf("PathFor(tree:42) = %q", got)
	}
}

func TestMemoryLowRoundTrip(t *testing.T) {
	fs := newTestFS(t)
	if err := fs.EnsureGroup("g"); err != nil {
		t.Fatal(err)
	}
	if _, ok := fs.MemoryLow("g"); ok {
		t.Error("MemoryLow ok = true before any write")
	}
	if err := fs.SetMemoryLow("g", 64<<20); err != nil {
		t.Fatal(err)
	}
	got, ok := fs.MemoryLow("g")
	if !ok || got != 64<<20 {
		t.Errorf("MemoryLow = %d, %v; want %d, true", got, ok, 64<<20)
	}
}

func TestSanitizeID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"firefox", "firefox"},
		{"cg:/user.slice/session-2.scope", "cg--user.slice-session-2.scope"},
		{"weird id*?", "weird-id--"},
	}
	for _, tt := range tests {
		if got := sanitizeID(tt.in); got != tt.want {
			t.Errorf("sanitizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRemoveStale(t *testing.T) {
	fs := newTestFS(t)
	for _, id := range []string{"alive", "dead-1", "dead-2"} {
		if err := fs.EnsureGroup(id); err != nil {
			t.Fatal(err)
		}
	}

	removed := fs.RemoveStale(map[string]struct{}{"alive": {}})
	if removed != 2 {
		t.Errorf("RemoveStale removed %d, want 2", removed)
	}
	if _, err := os.Stat(fs.groupDir("alive")); err != nil {
		t.Error("active group was removed")
	}
	if _, err := os.Stat(fs.groupDir("dead-1")); !os.IsNotExist(err) {
		t.Error("stale group still present")
	}
}
