package registry

import "sort"

// Snapshot is a point-in-time view of every registry. It is rebuilt on
// each request; nothing is cached between requests.
type Snapshot struct {
	Hosts          map[string]Host
	CoresByID      map[string]Core
	CoresByOwner   map[string]Core
	BindingsByHost map[string]string
	LinksByCore    map[string][]string
}

// Resolve returns the effective metadata of host. Explicit registry values
// win; otherwise a binding makes the host a link and core ownership makes
// it the core's type (kernel when unspecified).
func (s Snapshot) Resolve(host string) Host {
	h, ok := s.Hosts[host]
	if !ok {
		h = Host{Name: host}
	}
	if h.BitrixType != TypeNone {
		return h
	}
	if core, ok := s.BindingsByHost[host]; ok {
		h.BitrixType = TypeLink
		h.CoreID = core
		return h
	}
	if c, ok := s.CoresByOwner[host]; ok {
		h.BitrixType = c.CoreType
		if h.BitrixType == TypeNone {
			h.BitrixType = TypeKernel
		}
		h.CoreID = c.CoreID
	}
	return h
}

// Names returns every host known to any registry, sorted.
func (s Snapshot) Names() []string {
	seen := map[string]struct{}{}
	for n := range s.Hosts {
		seen[n] = struct{}{}
	}
	for n := range s.BindingsByHost {
		seen[n] = struct{}{}
	}
	for n := range s.CoresByOwner {
		seen[n] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
