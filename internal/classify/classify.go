// Package classify assigns process types and tags by matching observed
// processes against a pattern database. Patterns live in YAML files, one
// category per file, and are matched against the executable name, the
// desktop/systemd unit, and the cgroup path.
package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppPattern describes one application: how to recognize it and which
// tags it contributes.
type AppPattern struct {
	Name            string   `yaml:"name"`
	Label           string   `yaml:"label"`
	ExePatterns     []string `yaml:"exe_patterns"`
	DesktopPatterns []string `yaml:"desktop_patterns"`
	CgroupPatterns  []string `yaml:"cgroup_patterns"`
	Tags            []string `yaml:"tags"`
}

// PatternFile is the on-disk shape of one category's patterns.
type PatternFile struct {
	Category string       `yaml:"category"`
	Apps     []AppPattern `yaml:"apps"`
}

// Match is one pattern hit for a process.
type Match struct {
	Category string
	App      AppPattern
}

// Database holds the flattened pattern list. Order follows the sorted
// file names and in-file order, and decides which category wins when
// several patterns hit.
type Database struct {
	patterns []Match
}

// Load reads every *.yml / *.yaml file in dir into one database.
func Load(dir string) (*Database, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read patterns dir: %w", err)
	}

	db := &Database{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read pattern file %s: %w", path, err)
		}
		var pf PatternFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return nil, fmt.Errorf("parse pattern file %s: %w", path, err)
		}
		if pf.Category == "" {
			return nil, fmt.Errorf("pattern file %s: missing category", path)
		}
		db.add(pf)
	}
	return db, nil
}

func (db *Database) add(pf PatternFile) {
	for _, app := range pf.Apps {
		db.patterns = append(db.patterns, Match{Category: pf.Category, App: app})
	}
}

// Len returns the number of loaded app patterns.
func (db *Database) Len() int { return len(db.patterns) }

// Match returns every pattern hitting the given process identity, in
// database order.
func (db *Database) Match(exe, desktopID, cgroupPath string) []Match {
	var hits []Match
	for _, m := range db.patterns {
		if patternHits(m.App, exe, desktopID, cgroupPath) {
			hits = append(hits, m)
		}
	}
	return hits
}

func patternHits(app AppPattern, exe, desktopID, cgroupPath string) bool {
	if exe != "" {
		for _, pat := range app.ExePatterns {
			if matchPattern(exe, pat) {
				return true
			}
		}
	}
	if desktopID != "" {
		for _, pat := range app.DesktopPatterns {
			if matchPattern(desktopID, pat) {
				return true
			}
		}
	}
	if cgroupPath != "" {
		for _, pat := range app.CgroupPatterns {
			if matchPattern(cgroupPath, pat) {
				return true
			}
		}
	}
	return false
}

// matchPattern matches text against a glob where '*' spans any run of
// characters including path separators and '?' matches exactly one.
// Patterns without wildcards compare exactly. path.Match is the wrong
// tool here: its '*' stops at '/', which breaks cgroup-path patterns.
func matchPattern(text, pattern string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return text == pattern
	}
	return globMatch(text, pattern)
}

func globMatch(text, pattern string) bool {
	if pattern == "" {
		return text == ""
	}
	if text == "" {
		return strings.Trim(pattern, "*") == ""
	}
	switch pattern[0] {
	case '*':
		if len(pattern) == 1 {
			return true
		}
		for i := 0; i <= len(text); i++ {
			if globMatch(text[i:], pattern[1:]) {
				return true
			}
		}
		return false
	case '?':
		return globMatch(text[1:], pattern[1:])
	default:
		if text[0] != pattern[0] {
			return false
		}
		return globMatch(text[1:], pattern[1:])
	}
}
