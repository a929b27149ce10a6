// Package domain canonicalizes user-supplied host names against the active
// domain zone (the suffix every managed host lives under, e.g. "loc").
package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/loykin/hostpanel/internal/errkind"
)

// DefaultSuffix is used when no zone is configured.
const DefaultSuffix = "loc"

// Mode selects how foreign suffixes are treated.
type Mode int

const (
	// ModeExisting accepts hosts under another suffix unchanged so that
	// hosts created before a zone change stay addressable.
	ModeExisting Mode = iota
	// ModeCreate rejects hosts under another suffix.
	ModeCreate
)

func (m Mode) String() string {
	if m == ModeCreate {
		return "create"
	}
	return "existing"
}

var (
	reLabel      = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	reQualified  = regexp.MustCompile(`^([a-z0-9][a-z0-9-]{0,62})\.([a-z0-9][a-z0-9-]{0,30})$`)
	reLastLabel  = regexp.MustCompile(`\.([a-z0-9][a-z0-9-]{0,30})$`)
	serviceHosts = []string{"docker", "traefik", "adminer", "grafana"}
)

const maxLabelLen = 63

// Zone is a validated domain suffix. The zero value is not usable; build
// one with NewZone.
type Zone struct {
	suffix string
	err    error
}

// NewZone validates raw as a suffix. An empty raw value selects
// DefaultSuffix. An invalid value produces a zone whose Err is non-nil and
// which refuses every create canonicalization.
func NewZone(raw string) Zone {
	s := normalize(raw)
	if s == "" {
		s = DefaultSuffix
	}
	if len(s) > maxLabelLen || !reLabel.MatchString(s) {
		return Zone{err: errkind.New(errkind.Config, fmt.Sprintf("invalid domain suffix %q", raw))}
	}
	return Zone{suffix: s}
}

// Suffix returns the active suffix, empty when the zone is invalid.
func (z Zone) Suffix() string { return z.suffix }

// Err reports the configuration error of an invalid zone.
func (z Zone) Err() error { return z.err }

// Canonicalize normalizes raw to a fully-qualified host name under z.
func (z Zone) Canonicalize(raw string, mode Mode) (string, error) {
	if z.err != nil {
		if mode == ModeCreate {
			return "", z.err
		}
		// existing hosts stay addressable by their full name
		host := normalize(raw)
		if reQualified.MatchString(host) {
			return host, nil
		}
		return "", z.err
	}
	return Canonicalize(raw, z.suffix, mode)
}

// IsLegacy reports whether host lives under a suffix other than the zone's.
func (z Zone) IsLegacy(host string) bool { return IsLegacy(host, z.suffix) }

// ServiceDomains returns the well-known service hosts of the zone.
func (z Zone) ServiceDomains() map[string]string {
	out := make(map[string]string, len(serviceHosts))
	if z.suffix == "" {
		return out
	}
	for _, s := range serviceHosts {
		out[s] = s + "." + z.suffix
	}
	return out
}

// Canonicalize normalizes raw against suffix.
//
// A bare label becomes label.suffix. A label.sfx pair is accepted when sfx
// matches suffix; otherwise ModeCreate fails with foreign_suffix and
// ModeExisting returns it unchanged. Anything else is invalid_host.
func Canonicalize(raw, suffix string, mode Mode) (string, error) {
	host := normalize(raw)
	if host == "" {
		return "", errkind.New(errkind.InvalidHost, "host name is empty")
	}
	if len(host) <= maxLabelLen && reLabel.MatchString(host) {
		return host + "." + suffix, nil
	}
	m := reQualified.FindStringSubmatch(host)
	if m == nil {
		return "", errkind.New(errkind.InvalidHost, fmt.Sprintf("invalid host %q", host))
	}
	if m[2] == suffix {
		return host, nil
	}
	if mode == ModeCreate {
		return "", errkind.New(errkind.ForeignSuffix,
			fmt.Sprintf("host %q uses suffix %q, expected %q", host, m[2], suffix))
	}
	return host, nil
}

// IsLegacy reports whether host's last label differs from suffix. Hosts
// without a parseable last label count as legacy. It never fails.
func IsLegacy(host, suffix string) bool {
	suffix = normalize(suffix)
	if suffix == "" {
		return false
	}
	m := reLastLabel.FindStringSubmatch(strings.ToLower(strings.TrimSpace(host)))
	if m == nil {
		return true
	}
	return m[1] != suffix
}

func normalize(s string) string {
	return strings.ToLower(strings.Trim(s, " \t\r\n\"'"))
}
