package detector

import (
	"context"
	"fmt"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Detector is a strategy that determines if a process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive(ctx context.Context) (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// startSlack tolerates clock granularity between recording a job's
// creation time and the kernel's process start time.
const startSlack = 2 * time.Second

// PIDDetector detects a process by PID. When StartedAfter is set, a process
// that started earlier is treated as an unrelated process that reused the
// PID.
type PIDDetector struct {
	PID          int
	StartedAfter time.Time
}

func (d PIDDetector) Alive(ctx context.Context) (bool, error) {
	if d.PID <= 0 {
		return false, nil
	}
	ok, err := gopsproc.PidExistsWithContext(ctx, int32(d.PID))
	if err != nil || !ok {
		return false, err
	}
	if d.StartedAfter.IsZero() {
		return true, nil
	}
	start := procStart(ctx, d.PID)
	if start.IsZero() {
		return true, nil
	}
	return !start.Before(d.StartedAfter.Add(-startSlack)), nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }

// procStart returns the process creation time, zero when unavailable.
func procStart(ctx context.Context, pid int) time.Time {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return time.Time{}
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
