package domain

import (
	"strings"
	"testing"

	"github.com/loykin/hostpanel/internal/errkind"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		raw  string
		mode Mode
		want string
		kind errkind.Kind
	}{
		{"demo", ModeCreate, "demo.loc", ""},
		{"  Demo ", ModeCreate, "demo.loc", ""},
		{`"demo"`, ModeCreate, "demo.loc", ""},
		{"demo.loc", ModeCreate, "demo.loc", ""},
		{"DEMO.LOC", ModeExisting, "demo.loc", ""},
		{"demo.dev", ModeCreate, "", errkind.ForeignSuffix},
		{"demo.dev", ModeExisting, "demo.dev", ""},
		{"", ModeCreate, "", errkind.InvalidHost},
		{"   ", ModeExisting, "", errkind.InvalidHost},
		{"a.b.c", ModeExisting, "", errkind.InvalidHost},
		{"-demo", ModeCreate, "", errkind.InvalidHost},
		{"demo-", ModeCreate, "", errkind.InvalidHost},
		{"de_mo", ModeCreate, "", errkind.InvalidHost},
		{strings.Repeat("a", 63), ModeCreate, strings.Repeat("a", 63) + ".loc", ""},
		{strings.Repeat("a", 64), ModeCreate, "", errkind.InvalidHost},
	}
	for _, tc := range cases {
		got, err := Canonicalize(tc.raw, "loc", tc.mode)
		if tc.kind != "" {
			if err == nil {
				t.Fatalf("Canonicalize(%q, %s) expected %s error, got %q", tc.raw, tc.mode, tc.kind, got)
			}
			if k := errkind.Of(err); k != tc.kind {
				t.Fatalf("Canonicalize(%q, %s) kind = %s, want %s", tc.raw, tc.mode, k, tc.kind)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Canonicalize(%q, %s) unexpected error: %v", tc.raw, tc.mode, err)
		}
		if got != tc.want {
			t.Fatalf("Canonicalize(%q, %s) = %q, want %q", tc.raw, tc.mode, got, tc.want)
		}
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	for _, raw := range []string{"demo", "shop-1", "x.loc"} {
		first, err := Canonicalize(raw, "loc", ModeCreate)
		if err != nil {
			t.Fatalf("first pass %q: %v", raw, err)
		}
		second, err := Canonicalize(first, "loc", ModeCreate)
		if err != nil || second != first {
			t.Fatalf("second pass %q -> %q, %v", first, second, err)
		}
	}
}

func TestNewZone(t *testing.T) {
	if z := NewZone(""); z.Suffix() != DefaultSuffix || z.Err() != nil {
		t.Fatalf("empty zone = %q, %v", z.Suffix(), z.Err())
	}
	if z := NewZone(" 'Test' "); z.Suffix() != "test" {
		t.Fatalf("quoted zone = %q", z.Suffix())
	}
	bad := NewZone("bad_suffix")
	if bad.Err() == nil || errkind.Of(bad.Err()) != errkind.Config {
		t.Fatalf("invalid zone should carry config error, got %v", bad.Err())
	}
	if _, err := bad.Canonicalize("demo", ModeCreate); err == nil {
		t.Fatal("invalid zone must refuse create")
	}
	if _, err := bad.Canonicalize("demo", ModeExisting); err == nil {
		t.Fatal("invalid zone cannot complete a bare label")
	}
	if h, err := bad.Canonicalize("demo.loc", ModeExisting); err != nil || h != "demo.loc" {
		t.Fatalf("invalid zone existing qualified = %q, %v", h, err)
	}
}

func TestIsLegacy(t *testing.T) {
	cases := []struct {
		host, suffix string
		want         bool
	}{
		{"demo.loc", "loc", false},
		{"demo.LOC", "loc", false},
		{"demo.dev", "loc", true},
		{"demo", "loc", true},
		{"demo.dev", "", false},
	}
	for _, tc := range cases {
		if got := IsLegacy(tc.host, tc.suffix); got != tc.want {
			t.Fatalf("IsLegacy(%q, %q) = %v, want %v", tc.host, tc.suffix, got, tc.want)
		}
	}
}

func TestServiceDomains(t *testing.T) {
	sd := NewZone("test").ServiceDomains()
	if sd["traefik"] != "traefik.test" || len(sd) != 4 {
		t.Fatalf("service domains = %v", sd)
	}
	if len(NewZone("_").ServiceDomains()) != 0 {
		t.Fatal("invalid zone has no service domains")
	}
}
