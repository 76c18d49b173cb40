package proc

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/silkd/silkd/internal/domain"
)

// BuildGroups clusters processes into application groups and stamps each
// process's GroupID in place. Grouping is cgroup-first: processes sharing
// a normalized cgroup path form one group (split further if the cgroup
// holds unrelated process trees), and processes without a cgroup fall
// back to process-tree grouping.
//
// Group IDs are derived from the normalized path and the tree root, never
// from a counter, so the same application keeps the same ID across
// iterations while it lives. Debounce state and managed cgroup
// directories are keyed by these IDs.
func BuildGroups(processes []domain.Process) []domain.AppGroup {
	if len(processes) == 0 {
		return nil
	}

	byPID := make(map[int]*domain.Process, len(processes))
	for i := range processes {
		byPID[processes[i].PID] = &processes[i]
	}

	cgroupPIDs := make(map[string][]int)
	var bare []int
	for i := range processes {
		if p := &processes[i]; p.CgroupPath != "" {
			key := normalizeCgroup(p.CgroupPath)
			cgroupPIDs[key] = append(cgroupPIDs[key], p.PID)
		} else {
			bare = append(bare, p.PID)
		}
	}

	type memberSet struct {
		id   string
		root int
		pids []int
	}
	var sets []memberSet

	paths := make([]string, 0, len(cgroupPIDs))
	for p := range cgroupPIDs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, cgPath := range paths {
		trees := splitByTree(cgroupPIDs[cgPath], byPID)
		for _, t := range trees {
			id := "cg:" + cgPath
			if len(trees) > 1 {
				id = fmt.Sprintf("cg:%s#%d", cgPath, t.root)
			}
			sets = append(sets, memberSet{id: id, root: t.root, pids: t.pids})
		}
	}
	for _, t := range splitByTree(bare, byPID) {
		sets = append(sets, memberSet{id: fmt.Sprintf("tree:%d", t.root), root: t.root, pids: t.pids})
	}

	groups := make([]domain.AppGroup, 0, len(sets))
	for _, s := range sets {
		sort.Ints(s.pids)
		g := domain.AppGroup{ID: s.id, RootPID: s.root, PIDs: s.pids}

		tags := make(map[string]struct{})
		for _, pid := range s.pids {
			p := byPID[pid]
			p.GroupID = s.id
			if p.CPUShare > g.TotalCPUShare {
				g.TotalCPUShare = p.CPUShare
			}
			g.TotalIOReadBytes += p.IOReadBytes
			g.TotalIOWriteBytes += p.IOWriteBytes
			g.TotalRSSKB += p.RSSKB
			g.HasGUIWindow = g.HasGUIWindow || p.HasGUIWindow
			g.IsFocused = g.IsFocused || p.IsFocusedWindow
			for _, tag := range p.Tags {
				tags[tag] = struct{}{}
			}
		}
		if root := byPID[s.root]; root != nil {
			g.AppName = appName(root)
		}
		if len(tags) > 0 {
			g.Tags = make([]string, 0, len(tags))
			for tag := range tags {
				g.Tags = append(g.Tags, tag)
			}
			sort.Strings(g.Tags)
		}
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// normalizeCgroup trims a cgroup path at the systemd boundary that marks
// one application: the first session-*.scope, app.slice, or system.slice
// component. Everything below that belongs to the same logical app.
// Empty components collapse and the result always starts with "/".
func normalizeCgroup(cgroupPath string) string {
	var kept []string
	for _, part := range strings.Split(cgroupPath, "/") {
		if part == "" {
			continue
		}
		kept = append(kept, part)
		if strings.HasPrefix(part, "session-") && strings.HasSuffix(part, ".scope") {
			break
		}
		if part == "app.slice" || part == "system.slice" {
			break
		}
	}
	return "/" + strings.Join(kept, "/")
}

type processTree struct {
	root int
	pids []int
}

// splitByTree partitions a PID subset into parent-child trees. A tree
// root is a member whose parent is outside the subset (or is init; a
// subset containing PID 1 never folds everything into it).
func splitByTree(pids []int, byPID map[int]*domain.Process) []processTree {
	if len(pids) == 0 {
		return nil
	}
	sorted := append([]int(nil), pids...)
	sort.Ints(sorted)

	subset := make(map[int]bool, len(sorted))
	for _, pid := range sorted {
		subset[pid] = true
	}
	// Children of init stay separate trees even when PID 1 is in the
	// subset; otherwise one scan of the full table folds into one group.
	children := make(map[int][]int)
	for _, pid := range sorted {
		if parent := byPID[pid].PPID; parent != 1 && subset[parent] {
			children[parent] = append(children[parent], pid)
		}
	}

	var trees []processTree
	processed := make(map[int]bool, len(sorted))
	for _, pid := range sorted {
		if processed[pid] {
			continue
		}
		root := rootInSubset(pid, subset, byPID)

		var members []int
		stack := []int{root}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if processed[cur] || !subset[cur] {
				continue
			}
			processed[cur] = true
			members = append(members, cur)
			stack = append(stack, children[cur]...)
		}
		if len(members) > 0 {
			trees = append(trees, processTree{root: root, pids: members})
		}
	}
	return trees
}

// rootInSubset walks up the parent chain while it stays inside the
// subset. The visited guard keeps a corrupt ppid cycle from hanging the
// scan.
func rootInSubset(pid int, subset map[int]bool, byPID map[int]*domain.Process) int {
	visited := make(map[int]bool)
	cur := pid
	for {
		p, ok := byPID[cur]
		if !ok || visited[cur] {
			return cur
		}
		visited[cur] = true
		if !subset[p.PPID] || p.PPID == 1 {
			return cur
		}
		cur = p.PPID
	}
}

func appName(p *domain.Process) string {
	if p.Exe != "" {
		return path.Base(p.Exe)
	}
	return p.Comm
}
