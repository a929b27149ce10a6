package client

import (
	"fmt"
	"time"
)

// CreateRequest is the body of a create call. Empty fields take the server
// defaults (php 8.2, mysql, preset php).
type CreateRequest struct {
	Name       string `json:"name"`
	PHPVersion string `json:"php_version,omitempty"`
	DBType     string `json:"db_type,omitempty"`
	Preset     string `json:"preset,omitempty"`
	BitrixType string `json:"bitrix_type,omitempty"`
	CoreID     string `json:"core_id,omitempty"`
	Sync       bool   `json:"sync,omitempty"`
}

// ActionResult is the outcome of create, delete and lifecycle calls.
// Type is success, warning, error or pending.
type ActionResult struct {
	Type          string   `json:"type"`
	Status        string   `json:"status,omitempty"`
	Message       string   `json:"message"`
	Project       string   `json:"project,omitempty"`
	ErrorKind     string   `json:"error_kind,omitempty"`
	JobID         string   `json:"job_id,omitempty"`
	Offset        *int64   `json:"offset,omitempty"`
	Command       string   `json:"command,omitempty"`
	Output        string   `json:"output,omitempty"`
	OutputLines   []string `json:"output_lines,omitempty"`
	ExecutionTime float64  `json:"execution_time,omitempty"`
	ExitCode      *int     `json:"exit_code,omitempty"`
	BlockingHosts []string `json:"blocking_hosts,omitempty"`
}

// JobStatus is one poll response.
type JobStatus struct {
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	JobID     string  `json:"job_id"`
	Offset    int64   `json:"offset"`
	Chunk     string  `json:"chunk"`
	ExitCode  *int    `json:"exit_code"`
	ErrorKind *string `json:"error_kind"`
}

// Done reports whether the job reached a terminal state.
func (s JobStatus) Done() bool { return s.Status == "done" }

// Host is one entry of the hosts listing.
type Host struct {
	Name          string   `json:"name"`
	Preset        string   `json:"preset,omitempty"`
	PHPVersion    string   `json:"php_version,omitempty"`
	DBType        string   `json:"db_type,omitempty"`
	CreatedAt     string   `json:"created_at,omitempty"`
	BitrixType    string   `json:"bitrix_type,omitempty"`
	CoreID        string   `json:"core_id,omitempty"`
	Legacy        bool     `json:"legacy"`
	HasDirectory  bool     `json:"has_directory"`
	DeleteBlocked bool     `json:"delete_blocked"`
	BlockingHosts []string `json:"blocking_hosts,omitempty"`
}

// DeleteDecision is the delete guard verdict for a host.
type DeleteDecision struct {
	Host       string   `json:"host"`
	Allowed    bool     `json:"allowed"`
	BitrixType string   `json:"bitrix_type,omitempty"`
	CoreID     string   `json:"core_id,omitempty"`
	Blocking   []string `json:"blocking,omitempty"`
}

// Job is one entry of the jobs listing.
type Job struct {
	JobID        string     `json:"job_id"`
	Action       string     `json:"action"`
	Project      string     `json:"project"`
	Preset       string     `json:"preset"`
	Command      string     `json:"command"`
	CreatedAt    time.Time  `json:"created_at"`
	Status       string     `json:"status"`
	PID          int        `json:"pid,omitempty"`
	ResultLogged bool       `json:"result_logged"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Finished     bool       `json:"finished"`
	Alive        *bool      `json:"alive,omitempty"`
}

// AuditRecord is one audit log entry.
type AuditRecord struct {
	TS      time.Time      `json:"ts"`
	Action  string         `json:"action"`
	Status  string         `json:"status"`
	Context map[string]any `json:"context"`
}

// Zone describes the server's active domain zone.
type Zone struct {
	Suffix         string            `json:"suffix"`
	Valid          bool              `json:"valid"`
	Error          string            `json:"error,omitempty"`
	ServiceDomains map[string]string `json:"service_domains"`
}

// APIError is returned for requests the server rejected.
type APIError struct {
	StatusCode int    `json:"-"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	ErrorKind  string `json:"error_kind"`
}

func (e *APIError) Error() string {
	if e.ErrorKind != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.ErrorKind, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}
