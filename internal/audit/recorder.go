package audit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const sinkTimeout = 5 * time.Second

// Recorder fans a record out to every sink. Failures are logged and
// swallowed.
type Recorder struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder returns a Recorder writing to sinks in order.
func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, logger: slog.Default(), now: time.Now}
}

// SetLogger overrides the logger used for sink failures.
func (r *Recorder) SetLogger(l *slog.Logger) {
	if l != nil {
		r.logger = l
	}
}

// AddSink appends another destination.
func (r *Recorder) AddSink(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

// Record implements Auditor.
func (r *Recorder) Record(ctx context.Context, action, status string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	rec := Record{TS: r.now().UTC().Truncate(time.Second), Action: action, Status: status, Context: fields}
	r.mu.RLock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.RUnlock()
	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		if err := s.Send(sctx, rec); err != nil {
			r.logger.Warn("audit sink failed", "action", action, "status", status, "sink", sinkName(s), "error", err)
		}
		cancel()
	}
}

// Close closes every sink that supports it.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func sinkName(s Sink) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "sink"
}

// Memory keeps records in memory. Useful for embedding and tests.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Send(_ context.Context, r Record) error {
	m.mu.Lock()
	m.records = append(m.records, r)
	m.mu.Unlock()
	return nil
}

// Records returns a copy of everything received.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Filter returns records matching action and, when non-empty, status.
func (m *Memory) Filter(action, status string) []Record {
	var out []Record
	for _, r := range m.Records() {
		if r.Action == action && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	return out
}

func (m *Memory) Name() string { return "memory" }
