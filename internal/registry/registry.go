// Package registry reads the flat-file host, core and binding registries
// maintained by hostctl. The files are tab-separated, one record per line,
// and are never written by this package.
package registry

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Registry file names. Legacy names live in the projects directory.
const (
	HostsFile    = "hosts-registry.tsv"
	CoresFile    = "bitrix-core-registry.tsv"
	BindingsFile = "bitrix-bindings.tsv"
)

// BitrixType is the role a host plays with respect to shared cores.
type BitrixType string

const (
	TypeNone      BitrixType = ""
	TypeKernel    BitrixType = "kernel"
	TypeExtKernel BitrixType = "ext_kernel"
	TypeLink      BitrixType = "link"
)

// OwnsCore reports whether hosts of this type own a core.
func (t BitrixType) OwnsCore() bool { return t == TypeKernel || t == TypeExtKernel }

// Valid reports whether t is one of the known non-empty types.
func (t BitrixType) Valid() bool { return t.OwnsCore() || t == TypeLink }

// Host is one hosts-registry record.
type Host struct {
	Name       string     `json:"name"`
	Preset     string     `json:"preset,omitempty"`
	PHPVersion string     `json:"php_version,omitempty"`
	DBType     string     `json:"db_type,omitempty"`
	CreatedAt  string     `json:"created_at,omitempty"`
	BitrixType BitrixType `json:"bitrix_type,omitempty"`
	CoreID     string     `json:"core_id,omitempty"`
}

// Core is one core-registry record.
type Core struct {
	CoreID    string     `json:"core_id"`
	OwnerHost string     `json:"owner_host"`
	CoreType  BitrixType `json:"core_type,omitempty"`
	CreatedAt string     `json:"created_at,omitempty"`
}

// Store resolves registry paths between the state directory and the legacy
// projects-directory layout.
type Store struct {
	stateDir    string
	projectsDir string
	logger      *slog.Logger
}

// New returns a Store. Either directory may be empty.
func New(stateDir, projectsDir string) *Store {
	return &Store{stateDir: stateDir, projectsDir: projectsDir, logger: slog.Default()}
}

// SetLogger overrides the logger used for degraded reads.
func (s *Store) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// StateDir returns the configured state directory.
func (s *Store) StateDir() string { return s.stateDir }

// ProjectsDir returns the configured projects directory.
func (s *Store) ProjectsDir() string { return s.projectsDir }

// Candidates returns the lookup order for a registry file.
func (s *Store) Candidates(name string) []string {
	var out []string
	if s.stateDir != "" {
		out = append(out, filepath.Join(s.stateDir, name), filepath.Join(s.stateDir, "."+name))
	}
	if s.projectsDir != "" {
		out = append(out, filepath.Join(s.projectsDir, "."+name))
	}
	return out
}

// Resolve returns the first readable candidate for name, or "".
func (s *Store) Resolve(name string) string {
	for _, p := range s.Candidates(name) {
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		_ = f.Close()
		return p
	}
	return ""
}

// LoadHosts reads the hosts registry keyed by host name. Later lines win.
func (s *Store) LoadHosts() map[string]Host {
	out := map[string]Host{}
	s.scan(HostsFile, func(f []string) {
		name := field(f, 0)
		if name == "" {
			return
		}
		out[name] = Host{
			Name:       name,
			Preset:     field(f, 1),
			PHPVersion: field(f, 2),
			DBType:     field(f, 3),
			CreatedAt:  field(f, 4),
			BitrixType: BitrixType(field(f, 5)),
			CoreID:     field(f, 6),
		}
	})
	return out
}

// LoadCores reads the core registry indexed by core id and by owner host.
func (s *Store) LoadCores() (byID map[string]Core, byOwner map[string]Core) {
	byID, byOwner = map[string]Core{}, map[string]Core{}
	s.scan(CoresFile, func(f []string) {
		if len(f) < 3 {
			return
		}
		c := Core{CoreID: field(f, 0), OwnerHost: field(f, 1), CoreType: BitrixType(field(f, 2)), CreatedAt: field(f, 3)}
		if c.CoreID == "" || c.OwnerHost == "" {
			return
		}
		byID[c.CoreID] = c
		byOwner[c.OwnerHost] = c
	})
	return byID, byOwner
}

// LoadBindings reads the bindings registry: link host -> core id and
// core id -> linked hosts in file order.
func (s *Store) LoadBindings() (byHost map[string]string, byCore map[string][]string) {
	byHost, byCore = map[string]string{}, map[string][]string{}
	s.scan(BindingsFile, func(f []string) {
		if len(f) < 2 {
			return
		}
		host, core := field(f, 0), field(f, 1)
		if host == "" || core == "" {
			return
		}
		byHost[host] = core
		byCore[core] = append(byCore[core], host)
	})
	return byHost, byCore
}

// Snapshot loads all three registries.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{Hosts: s.LoadHosts()}
	snap.CoresByID, snap.CoresByOwner = s.LoadCores()
	snap.BindingsByHost, snap.LinksByCore = s.LoadBindings()
	return snap
}

func (s *Store) scan(name string, fn func([]string)) {
	path := s.Resolve(name)
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		s.logger.Debug("registry unreadable", "file", path, "error", err)
		return
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fn(strings.Split(line, "\t"))
	}
	if err := sc.Err(); err != nil {
		s.logger.Debug("registry read interrupted", "file", path, "error", err)
	}
}

// field returns the trimmed i-th column; "-" placeholders read as empty.
func field(f []string, i int) string {
	if i >= len(f) {
		return ""
	}
	v := strings.TrimSpace(f[i])
	if v == "-" {
		return ""
	}
	return v
}
