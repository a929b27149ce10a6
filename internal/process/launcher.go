// Package process starts asynchronous jobs as detached wrapper scripts.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/loykin/hostpanel/internal/audit"
	"github.com/loykin/hostpanel/internal/env"
	"github.com/loykin/hostpanel/internal/hostctl"
	"github.com/loykin/hostpanel/internal/job"
	"github.com/loykin/hostpanel/internal/metrics"
)

// LaunchError reports that a job could not be started. The command itself
// never ran, so no job exists.
type LaunchError struct {
	Op  string
	Err error
}

func (e *LaunchError) Error() string { return "launch job: " + e.Op + ": " + e.Err.Error() }
func (e *LaunchError) Unwrap() error { return e.Err }

// Launcher writes the wrapper script for a job and starts it detached.
type Launcher struct {
	store   *job.Store
	shell   string
	env     *env.Env
	auditor audit.Auditor
	logger  *slog.Logger
}

// NewLauncher returns a Launcher. shell defaults to bash.
func NewLauncher(store *job.Store, shell string, e *env.Env, auditor audit.Auditor) *Launcher {
	if shell == "" {
		shell = "bash"
	}
	return &Launcher{store: store, shell: shell, env: e, auditor: auditor, logger: slog.Default()}
}

// SetLogger overrides the logger.
func (l *Launcher) SetLogger(lg *slog.Logger) {
	if lg != nil {
		l.logger = lg
	}
}

// Script renders the wrapper that runs argv with all output captured in
// the log file and records the exit status in the exit marker. The marker
// is written through a rename so readers never see it half written.
func Script(argv []string, p job.Paths) []byte {
	var b strings.Builder
	b.WriteString("#!/usr/bin/env bash\n")
	b.WriteString("set -u\n")
	fmt.Fprintf(&b, "rm -f %s\n", shellquote.Join(p.Exit))
	fmt.Fprintf(&b, "%s > %s 2>&1\n", hostctl.CommandLine(argv), shellquote.Join(p.Log))
	fmt.Fprintf(&b, "echo $? > %s\n", shellquote.Join(p.Exit+".tmp"))
	fmt.Fprintf(&b, "mv -f %s %s\n", shellquote.Join(p.Exit+".tmp"), shellquote.Join(p.Exit))
	return []byte(b.String())
}

// Launch registers a job described by d and starts argv in the background.
// It returns once the process has been spawned; the returned descriptor
// carries the job id and PID.
func (l *Launcher) Launch(ctx context.Context, d job.Descriptor, argv []string) (job.Descriptor, error) {
	if len(argv) == 0 {
		return job.Descriptor{}, &LaunchError{Op: "prepare", Err: fmt.Errorf("empty command")}
	}
	d.Command = hostctl.CommandLine(argv)
	action := d.Action
	if action == "" {
		action = job.ActionCreate
	}
	d, err := l.store.Create(d)
	if err != nil {
		metrics.IncJobLaunchFailure(action)
		return job.Descriptor{}, &LaunchError{Op: "register", Err: err}
	}
	paths := l.store.Paths(d.JobID)
	if err := l.store.WriteScript(d.JobID, Script(argv, paths)); err != nil {
		l.store.Discard(d.JobID)
		metrics.IncJobLaunchFailure(d.Action)
		return job.Descriptor{}, &LaunchError{Op: "script", Err: err}
	}

	// #nosec G204
	cmd := exec.Command(l.shell, paths.Script)
	cmd.Dir = l.store.Dir()
	if l.env != nil {
		cmd.Env = l.env.Environ()
	}
	detach(cmd)
	if err := cmd.Start(); err != nil {
		l.store.Discard(d.JobID)
		metrics.IncJobLaunchFailure(d.Action)
		return job.Descriptor{}, &LaunchError{Op: "spawn", Err: err}
	}
	pid := cmd.Process.Pid
	// reap the wrapper; completion is observed through the exit marker
	go func() { _ = cmd.Wait() }()

	d.PID = pid
	if err := l.store.Save(d); err != nil {
		// the job runs regardless; only the diagnostic PID is lost
		l.logger.Warn("persist job pid failed", "job_id", d.JobID, "pid", pid, "error", err)
	}
	metrics.IncJobLaunch(d.Action)
	l.logger.Info("job started", "job_id", d.JobID, "project", d.Project, "pid", pid)
	if l.auditor != nil {
		l.auditor.Record(ctx, d.Action, "pending", map[string]any{
			"project": d.Project,
			"job_id":  d.JobID,
			"pid":     pid,
			"command": d.Command,
		})
	}
	return d, nil
}
