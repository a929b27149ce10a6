// Package env composes the environment handed to hostctl invocations.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers configured variables over a base environment.
type Env struct {
	Var  Var // overrides (K->V)
	base Var
}

// New returns an Env whose base is the current process environment.
func New() *Env {
	e := &Env{Var: make(Var)}
	e.base = parse(os.Environ())
	return e
}

// FromList returns an Env with an explicit base instead of the OS one.
func FromList(base []string) *Env {
	return &Env{Var: make(Var), base: parse(base)}
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetList applies "K=V" entries as overrides. Malformed entries are skipped.
func (e *Env) SetList(kvs []string) {
	for k, v := range parse(kvs) {
		e.Set(k, v)
	}
}

// Lookup returns the effective value of k.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	v, ok := e.base[k]
	return v, ok
}

// Environ returns the merged environment as sorted "K=V" entries.
// Overrides may reference base variables as ${VAR}.
func (e *Env) Environ() []string {
	m := make(Var, len(e.base)+len(e.Var))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		m[k] = os.Expand(v, func(name string) string { return e.base[name] })
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}
