package classify

import (
	"path"
	"sort"
	"strings"

	"github.com/silkd/silkd/internal/domain"
)

// Classifier stamps processes with a type and tags from the pattern
// database. Group-level tags come out of the grouper's union, so only
// processes are annotated here.
type Classifier struct {
	db *Database
}

// New builds a classifier over the given database.
func New(db *Database) *Classifier {
	return &Classifier{db: db}
}

// ClassifyAll annotates every process in place.
func (c *Classifier) ClassifyAll(processes []domain.Process) {
	for i := range processes {
		c.Classify(&processes[i])
	}
}

// Classify fills Type and Tags on one process. Type comes from the first
// matching pattern's category; tags are the union over all matches. A
// process nothing matches keeps empty Type and Tags.
func (c *Classifier) Classify(p *domain.Process) {
	hits := c.db.Match(exeName(p), desktopID(p.CgroupPath), p.CgroupPath)
	if len(hits) == 0 {
		return
	}

	p.Type = hits[0].Category

	tags := make(map[string]struct{})
	for _, h := range hits {
		for _, tag := range h.App.Tags {
			tags[tag] = struct{}{}
		}
	}
	p.Tags = make([]string, 0, len(tags))
	for tag := range tags {
		p.Tags = append(p.Tags, tag)
	}
	sort.Strings(p.Tags)
}

// exeName is the identity string exe patterns match against: the
// executable basename, or the kernel comm when the exe link was
// unreadable.
func exeName(p *domain.Process) string {
	if p.Exe != "" {
		return path.Base(p.Exe)
	}
	return p.Comm
}

// desktopID derives a desktop-style identity from the systemd unit leaf
// of the cgroup path: "firefox.service" yields "firefox". Non-service
// leaves yield nothing; cgroup patterns cover scopes.
func desktopID(cgroupPath string) string {
	if cgroupPath == "" {
		return ""
	}
	leaf := path.Base(cgroupPath)
	if id, ok := strings.CutSuffix(leaf, ".service"); ok {
		return id
	}
	return ""
}
