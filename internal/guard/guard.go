// Package guard decides whether a host may be deleted without orphaning
// link hosts bound to the core it owns.
package guard

import (
	"fmt"
	"strings"

	"github.com/loykin/hostpanel/internal/registry"
)

// Decision is the outcome of a delete check.
type Decision struct {
	Host     string              `json:"host"`
	Allowed  bool                `json:"allowed"`
	Type     registry.BitrixType `json:"bitrix_type,omitempty"`
	CoreID   string              `json:"core_id,omitempty"`
	Blocking []string            `json:"blocking,omitempty"`
}

// Reason renders a human-readable refusal, empty when allowed.
func (d Decision) Reason() string {
	if d.Allowed {
		return ""
	}
	return fmt.Sprintf("core %s of %s is still used by: %s. Delete the link hosts first.",
		d.CoreID, d.Host, strings.Join(d.Blocking, ", "))
}

// CanDelete reports whether host may be deleted. Only core owners with a
// core id are guarded; the blocking set is every host bound to that core
// except host itself, in registry order. Bindings to hosts that no longer
// exist still block.
func CanDelete(host string, meta registry.Host, linksByCore map[string][]string) (bool, []string) {
	if !meta.BitrixType.OwnsCore() || meta.CoreID == "" {
		return true, nil
	}
	var blocking []string
	seen := map[string]bool{host: true}
	for _, h := range linksByCore[meta.CoreID] {
		if seen[h] {
			continue
		}
		seen[h] = true
		blocking = append(blocking, h)
	}
	return len(blocking) == 0, blocking
}

// Check evaluates host against a fresh registry snapshot.
func Check(snap registry.Snapshot, host string) Decision {
	meta := snap.Resolve(host)
	ok, blocking := CanDelete(host, meta, snap.LinksByCore)
	return Decision{Host: host, Allowed: ok, Type: meta.BitrixType, CoreID: meta.CoreID, Blocking: blocking}
}
