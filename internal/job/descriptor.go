// Package job persists asynchronous jobs as a set of sibling files in the
// jobs directory:
//
//	<id>.sh      wrapper script
//	<id>.log     combined stdout/stderr of the command
//	<id>.exit    exit code, written only when the command has finished
//	<id>.json    descriptor
//	<id>.logged  result-recorded sentinel
//
// The presence of the exit marker is the sole completion signal.
package job

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Status of a job. Transitions are running -> success | error only.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusError }

// ActionCreate is the only action executed asynchronously today.
const ActionCreate = "create"

// Descriptor is the JSON metadata stored next to the job artifacts.
type Descriptor struct {
	JobID        string     `json:"job_id"`
	Action       string     `json:"action"`
	Project      string     `json:"project"`
	Preset       string     `json:"preset"`
	BitrixType   string     `json:"bitrix_type,omitempty"`
	CoreID       string     `json:"core_id,omitempty"`
	Command      string     `json:"command"`
	CreatedAt    time.Time  `json:"created_at"`
	Status       Status     `json:"status"`
	PID          int        `json:"pid,omitempty"`
	ResultLogged bool       `json:"result_logged"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

var (
	// ErrNotFound is returned for ids with no descriptor.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidID is returned for ids outside the accepted alphabet.
	ErrInvalidID = errors.New("invalid job id")

	reID = regexp.MustCompile(`^create_[A-Za-z0-9_.-]+$`)
)

// ValidID reports whether id is safe to use as a file name stem.
func ValidID(id string) bool {
	return reID.MatchString(id) && !strings.Contains(id, "..")
}
