// Package audit records panel actions as an append-only JSON-lines log and
// optionally mirrors every record to external history sinks.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one audit entry.
type Record struct {
	TS      time.Time      `json:"ts"`
	Action  string         `json:"action"`
	Status  string         `json:"status"`
	Context map[string]any `json:"context"`
}

// ContextJSON returns the context encoded as a JSON object.
func (r Record) ContextJSON() string {
	if r.Context == nil {
		return "{}"
	}
	b, err := json.Marshal(r.Context)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Sink is a destination for audit records.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, r Record) error
}

// Auditor is what components use to record actions. Recording is best
// effort and never fails the caller.
type Auditor interface {
	Record(ctx context.Context, action, status string, fields map[string]any)
}
