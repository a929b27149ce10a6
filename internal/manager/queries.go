package manager

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/loykin/hostpanel/internal/audit"
	"github.com/loykin/hostpanel/internal/detector"
	"github.com/loykin/hostpanel/internal/guard"
	"github.com/loykin/hostpanel/internal/job"
	"github.com/loykin/hostpanel/internal/registry"
)

// HostInfo is a host with its resolved metadata and delete status.
type HostInfo struct {
	registry.Host
	Legacy        bool     `json:"legacy"`
	HasDirectory  bool     `json:"has_directory"`
	DeleteBlocked bool     `json:"delete_blocked"`
	BlockingHosts []string `json:"blocking_hosts,omitempty"`
}

// Hosts lists every host known to a registry or present as a project
// directory, sorted by name.
func (m *Manager) Hosts() []HostInfo {
	snap := m.reg.Snapshot()
	dirs := m.projectDirs()
	names := snap.Names()
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for d := range dirs {
		if !known[d] {
			names = append(names, d)
		}
	}
	sort.Strings(names)

	out := make([]HostInfo, 0, len(names))
	for _, n := range names {
		meta := snap.Resolve(n)
		ok, blocking := guard.CanDelete(n, meta, snap.LinksByCore)
		out = append(out, HostInfo{
			Host:          meta,
			Legacy:        m.zone.IsLegacy(n),
			HasDirectory:  dirs[n],
			DeleteBlocked: !ok,
			BlockingHosts: blocking,
		})
	}
	return out
}

func (m *Manager) projectDirs() map[string]bool {
	out := map[string]bool{}
	dir := m.reg.ProjectsDir()
	if dir == "" {
		return out
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() && !strings.HasPrefix(n, ".") && reProjectName.MatchString(n) {
			out[strings.ToLower(n)] = true
		}
	}
	return out
}

// DeleteCheck evaluates the delete guard for host against a fresh
// snapshot. host should already be canonical.
func (m *Manager) DeleteCheck(host string) guard.Decision {
	return guard.Check(m.reg.Snapshot(), host)
}

// CheckDelete canonicalizes raw and evaluates the delete guard.
func (m *Manager) CheckDelete(raw string) (guard.Decision, error) {
	host, err := m.resolveExisting(raw)
	if err != nil {
		return guard.Decision{}, err
	}
	return m.DeleteCheck(host), nil
}

// JobInfo is a job descriptor with a liveness diagnostic. Alive is nil
// for finished jobs and when the probe failed.
type JobInfo struct {
	job.Descriptor
	Finished bool  `json:"finished"`
	Alive    *bool `json:"alive,omitempty"`
}

// Jobs lists background jobs, newest first. The PID probe is diagnostic
// only; completion is decided by the exit marker.
func (m *Manager) Jobs(ctx context.Context) ([]JobInfo, error) {
	ds, err := m.jobs.List()
	if err != nil {
		return nil, err
	}
	out := make([]JobInfo, 0, len(ds))
	for _, d := range ds {
		ji := JobInfo{Descriptor: d, Finished: m.jobs.IsTerminal(d.JobID)}
		if !ji.Finished && d.PID > 0 {
			det := detector.PIDDetector{PID: d.PID, StartedAfter: d.CreatedAt}
			if alive, err := det.Alive(ctx); err == nil {
				ji.Alive = &alive
			} else {
				m.logger.Debug("job liveness probe failed", "job_id", d.JobID, "detector", det.Describe(), "error", err)
			}
		}
		out = append(out, ji)
	}
	return out, nil
}

// AuditTail returns up to n recent audit records, oldest first.
func (m *Manager) AuditTail(n int) ([]audit.Record, error) {
	if m.auditLog == nil {
		return nil, nil
	}
	return m.auditLog.Tail(n)
}

// ZoneInfo describes the active domain zone.
type ZoneInfo struct {
	Suffix         string            `json:"suffix"`
	Valid          bool              `json:"valid"`
	Error          string            `json:"error,omitempty"`
	ServiceDomains map[string]string `json:"service_domains"`
}

// ZoneInfo reports the active zone.
func (m *Manager) ZoneInfo() ZoneInfo {
	zi := ZoneInfo{Suffix: m.zone.Suffix(), Valid: m.zone.Err() == nil, ServiceDomains: m.zone.ServiceDomains()}
	if err := m.zone.Err(); err != nil {
		zi.Error = err.Error()
	}
	return zi
}

// Migrate moves legacy state files into the state directory.
func (m *Manager) Migrate() []registry.MigrationResult { return m.reg.Migrate() }
