// Package poller reports the progress of background jobs to repeated
// client polls and records each job's outcome exactly once.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/hostpanel/internal/audit"
	"github.com/loykin/hostpanel/internal/errkind"
	"github.com/loykin/hostpanel/internal/job"
	"github.com/loykin/hostpanel/internal/metrics"
)

// DefaultHeadLines is how many log lines the completion record carries.
const DefaultHeadLines = 25

const (
	StatusRunning = "running"
	StatusDone    = "done"

	TypePending = "pending"
	TypeSuccess = "success"
	TypeError   = "error"
)

// Response is the answer to one poll.
type Response struct {
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	JobID     string  `json:"job_id"`
	Offset    int64   `json:"offset"`
	Chunk     string  `json:"chunk"`
	ExitCode  *int    `json:"exit_code"`
	ErrorKind *string `json:"error_kind"`
}

// Done reports whether the job has reached a terminal state.
func (r Response) Done() bool { return r.Status == StatusDone }

// Poller reads job state from a job.Store. It keeps no state between calls.
type Poller struct {
	store     *job.Store
	auditor   audit.Auditor
	suffix    string
	HeadLines int

	logger *slog.Logger
	now    func() time.Time
}

// NewPoller returns a Poller. suffix is the active zone, used in messages.
func NewPoller(store *job.Store, auditor audit.Auditor, suffix string) *Poller {
	return &Poller{
		store:     store,
		auditor:   auditor,
		suffix:    suffix,
		HeadLines: DefaultHeadLines,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// SetLogger overrides the logger.
func (p *Poller) SetLogger(l *slog.Logger) {
	if l != nil {
		p.logger = l
	}
}

func failed(id, msg string) Response {
	return Response{Type: TypeError, Status: StatusDone, Message: msg, JobID: id}
}

// Poll returns the log bytes written since offset together with the job
// status. The returned offset is never below the requested one unless the
// request was negative or past the end of the log.
func (p *Poller) Poll(ctx context.Context, id string, offset int64) Response {
	if !job.ValidID(id) {
		metrics.IncPoll(StatusDone)
		return failed(id, "Invalid job id")
	}
	if fi, err := os.Stat(p.store.Dir()); err != nil || !fi.IsDir() {
		metrics.IncPoll(StatusDone)
		return failed(id, "Job directory is unavailable")
	}
	d, err := p.store.Load(id)
	if err != nil {
		metrics.IncPoll(StatusDone)
		if errors.Is(err, job.ErrNotFound) {
			return failed(id, "Job not found or already removed")
		}
		p.logger.Warn("load job descriptor failed", "job_id", id, "error", err)
		return failed(id, "Job descriptor is unreadable")
	}

	// The exit marker is written after the command exits, so a tail read
	// after a positive check holds the whole log.
	terminal := p.store.IsTerminal(id)
	chunk, next, err := p.store.ReadTail(id, offset)
	if err != nil {
		p.logger.Warn("read job log failed", "job_id", id, "error", err)
	}
	resp := Response{
		Type:    TypePending,
		Status:  StatusRunning,
		Message: "Creating project...",
		JobID:   id,
		Offset:  next,
		Chunk:   string(chunk),
	}
	if !terminal {
		metrics.IncPoll(StatusRunning)
		return resp
	}

	code := p.store.ReadExitCode(id)
	kind := errkind.Generic
	resp.Status = StatusDone
	resp.ExitCode = &code
	if code == 0 {
		resp.Type = TypeSuccess
		resp.Message = "Project created"
	} else {
		resp.Type = TypeError
		kind = errkind.Classify(p.store.ReadLog(id))
		resp.Message = p.failureMessage(kind, d.Project)
	}
	k := string(kind)
	resp.ErrorKind = &k
	metrics.IncPoll(StatusDone)

	if !d.ResultLogged {
		p.finish(ctx, d, code, kind)
	}
	return resp
}

// finish writes the completion record once per job. The sentinel claim
// decides the single writer when polls race.
func (p *Poller) finish(ctx context.Context, d job.Descriptor, code int, kind errkind.Kind) {
	claimed, err := p.store.ClaimResult(d.JobID)
	if err != nil {
		p.logger.Warn("claim job result failed", "job_id", d.JobID, "error", err)
		return
	}
	finished := p.now().UTC()
	status := string(job.StatusSuccess)
	if code != 0 {
		status = string(job.StatusError)
	}
	if claimed {
		metrics.IncJobFinished(status, string(kind))
		if p.auditor != nil {
			p.auditor.Record(ctx, d.Action, status, map[string]any{
				"project":     d.Project,
				"job_id":      d.JobID,
				"command":     d.Command,
				"output_head": errkind.Head(p.store.ReadLog(d.JobID), p.HeadLines),
				"exit_code":   code,
				"finished_at": finished.Format(time.RFC3339),
			})
		}
		p.logger.Info("job finished", "job_id", d.JobID, "project", d.Project, "status", status, "exit_code", code)
	}
	// a lost claim with an unflagged descriptor means the winner has not
	// saved yet or crashed before saving; rewriting the same values is harmless
	if _, err := p.store.MarkResultLogged(d.JobID, code, finished); err != nil {
		p.logger.Warn("mark job result failed", "job_id", d.JobID, "error", err)
	}
}

func (p *Poller) failureMessage(kind errkind.Kind, project string) string {
	switch kind {
	case errkind.Conflict:
		if project != "" {
			return "Host " + project + " already exists. Choose another name or delete the existing host."
		}
		return "A host with this name already exists. Choose another name or delete the existing host."
	case errkind.ForeignSuffix:
		return "The host uses a suffix other than the active zone. Enter a short name or a domain like <name>." + p.suffix
	case errkind.InvalidHost:
		return "Invalid host name. Use a short name or a full domain like <name>." + p.suffix
	case errkind.Infra:
		return "Docker infrastructure error while creating the host. Check Docker access and shared paths."
	default:
		return "Project creation failed"
	}
}
