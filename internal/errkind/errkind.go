// Package errkind holds the machine-readable failure taxonomy shared by the
// canonicalizer, the service layer and the output classifiers.
package errkind

import (
	"errors"
	"strings"
)

// Kind is a stable machine-readable failure category.
type Kind string

const (
	Conflict      Kind = "conflict"
	ForeignSuffix Kind = "foreign_suffix"
	InvalidHost   Kind = "invalid_host"
	Infra         Kind = "infra"
	Generic       Kind = "generic"
	Config        Kind = "config"
	Validation    Kind = "validation"
	NotFound      Kind = "not_found"

	// delete outcomes
	AlreadyMissing Kind = "already_missing"
	DeleteGuard    Kind = "delete_guard"
)

// Error is an error tagged with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of the given kind.
func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

// Wrap tags err with kind.
func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Msg: msg, Err: err} }

// Of reports the Kind carried by err, Generic when none.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Generic
}

// Classify maps the combined output of a failed external command to a Kind.
// Matching is case-insensitive and checked in priority order; the Russian
// phrases are emitted by hostctl in localized deployments.
func Classify(output string) Kind {
	text := strings.ToLower(output)
	if strings.TrimSpace(text) == "" {
		return Generic
	}
	switch {
	case containsAny(text, "already exists", "уже существует"):
		return Conflict
	case containsAny(text, "foreign_suffix", "foreign suffix", "использует суффикс", "invalid_domain_suffix"):
		return ForeignSuffix
	case containsAny(text, "invalid_host", "invalid host"):
		return InvalidHost
	case containsAny(text, "mounts denied", "not shared from the host", "permission denied"):
		return Infra
	}
	return Generic
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
