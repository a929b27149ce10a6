// Package manager implements the panel actions on top of the registry,
// job and hostctl layers.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/loykin/hostpanel/internal/audit"
	"github.com/loykin/hostpanel/internal/domain"
	"github.com/loykin/hostpanel/internal/errkind"
	"github.com/loykin/hostpanel/internal/hostctl"
	"github.com/loykin/hostpanel/internal/job"
	"github.com/loykin/hostpanel/internal/metrics"
	"github.com/loykin/hostpanel/internal/poller"
	"github.com/loykin/hostpanel/internal/process"
	"github.com/loykin/hostpanel/internal/registry"
)

// Output heads kept in audit records of synchronous commands.
const syncHeadLines = 15

// Create defaults.
const (
	DefaultPHPVersion = "8.2"
	DefaultDBType     = "mysql"
	DefaultPreset     = "php"
	PresetBitrix      = "bitrix"
)

var (
	reProjectName = regexp.MustCompile(`(?i)^[a-z0-9.-]+$`)
	reCoreID      = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)
)

// Options wires a Manager. Registry, Jobs and Hostctl are required.
type Options struct {
	Zone     domain.Zone
	Registry *registry.Store
	Jobs     *job.Store
	Hostctl  *hostctl.Client
	Auditor  audit.Auditor
	// AuditLog backs the audit listing; nil disables it.
	AuditLog *audit.FileLog
	Logger   *slog.Logger

	// HeadLines bounds output_head in job result records; 0 keeps the default.
	HeadLines int
	// CommandTimeout bounds synchronous hostctl runs; 0 means no bound.
	CommandTimeout time.Duration
}

// Manager runs panel actions.
type Manager struct {
	zone     domain.Zone
	reg      *registry.Store
	jobs     *job.Store
	hc       *hostctl.Client
	launcher *process.Launcher
	poller   *poller.Poller
	auditor  audit.Auditor
	auditLog *audit.FileLog
	logger   *slog.Logger

	cmdTimeout time.Duration
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, string, string, map[string]any) {}

// New builds a Manager from o.
func New(o Options) *Manager {
	lg := o.Logger
	if lg == nil {
		lg = slog.Default()
	}
	var aud audit.Auditor = nopAuditor{}
	if o.Auditor != nil {
		aud = o.Auditor
	}
	l := process.NewLauncher(o.Jobs, o.Hostctl.Shell, o.Hostctl.Env, aud)
	l.SetLogger(lg)
	p := poller.NewPoller(o.Jobs, aud, o.Zone.Suffix())
	p.SetLogger(lg)
	if o.HeadLines > 0 {
		p.HeadLines = o.HeadLines
	}
	o.Registry.SetLogger(lg)
	return &Manager{
		zone:     o.Zone,
		reg:      o.Registry,
		jobs:     o.Jobs,
		hc:       o.Hostctl,
		launcher: l,
		poller:   p,
		auditor:  aud,
		auditLog: o.AuditLog,
		logger:   lg,

		cmdTimeout: o.CommandTimeout,
	}
}

// commandContext detaches a synchronous hostctl run from caller
// cancellation. Only CommandTimeout bounds it.
func (m *Manager) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if m.cmdTimeout > 0 {
		return context.WithTimeout(ctx, m.cmdTimeout)
	}
	return ctx, func() {}
}

// Result is the outcome of an action. Type is success, warning, error or
// pending; pending results carry a job id to poll.
type Result struct {
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
	Blocking      []string `json:"blocking_hosts,omitempty"`
}

// CreateRequest holds the create parameters as submitted.
type CreateRequest struct {
	Name       string `json:"name"`
	PHPVersion string `json:"php_version,omitempty"`
	DBType     string `json:"db_type,omitempty"`
	Preset     string `json:"preset,omitempty"`
	BitrixType string `json:"bitrix_type,omitempty"`
	CoreID     string `json:"core_id,omitempty"`
	// Sync runs hostctl within the call instead of as a background job.
	Sync bool `json:"sync,omitempty"`
}

// Zone returns the active zone.
func (m *Manager) Zone() domain.Zone { return m.zone }

// Registry returns the registry store.
func (m *Manager) Registry() *registry.Store { return m.reg }

// createArgs validates r and applies defaults. name is already canonical.
func createArgs(name string, r CreateRequest) (hostctl.CreateArgs, error) {
	a := hostctl.CreateArgs{
		Name:       name,
		PHPVersion: valOr(r.PHPVersion, DefaultPHPVersion),
		DBType:     valOr(r.DBType, DefaultDBType),
		Preset:     valOr(r.Preset, DefaultPreset),
	}
	if a.Preset != PresetBitrix {
		return a, nil
	}
	bt := registry.BitrixType(valOr(r.BitrixType, string(registry.TypeKernel)))
	if !bt.Valid() {
		return a, errkind.New(errkind.Validation, "invalid bitrix type, use kernel, ext_kernel or link")
	}
	core := strings.TrimSpace(r.CoreID)
	if core != "" && !reCoreID.MatchString(core) {
		return a, errkind.New(errkind.Validation, "invalid core id: a-z, 0-9 and dashes, 2 to 63 characters")
	}
	if bt == registry.TypeLink && core == "" {
		return a, errkind.New(errkind.Validation, "a link host requires a core id")
	}
	a.BitrixType = string(bt)
	a.CoreID = core
	return a, nil
}

// Create canonicalizes the requested name and starts hostctl create, in
// the background unless r.Sync is set. Errors are *errkind.Error values
// for requests that never reached hostctl.
func (m *Manager) Create(ctx context.Context, r CreateRequest) (Result, error) {
	name, err := m.zone.Canonicalize(r.Name, domain.ModeCreate)
	if err != nil {
		return Result{}, err
	}
	args, err := createArgs(name, r)
	if err != nil {
		return Result{}, err
	}
	if err := m.requireHostctl(ctx, "create", name); err != nil {
		return Result{}, err
	}
	if r.Sync {
		return m.createSync(ctx, args), nil
	}

	d := job.Descriptor{
		Action:     job.ActionCreate,
		Project:    name,
		Preset:     args.Preset,
		BitrixType: args.BitrixType,
		CoreID:     args.CoreID,
	}
	d, err = m.launcher.Launch(ctx, d, m.hc.Argv(hostctl.Create(args)...))
	if err != nil {
		m.logger.Error("start create job failed", "project", name, "error", err)
		return Result{}, errkind.Wrap(errkind.Infra, "could not start the background create job", err)
	}
	var zero int64
	return Result{
		Type:    "pending",
		Status:  poller.StatusRunning,
		Message: fmt.Sprintf("Creating project %s started", name),
		Project: name,
		JobID:   d.JobID,
		Offset:  &zero,
	}, nil
}

func (m *Manager) createSync(ctx context.Context, a hostctl.CreateArgs) Result {
	ctx, cancel := m.commandContext(ctx)
	defer cancel()
	res, err := m.hc.Run(ctx, hostctl.Create(a)...)
	if err != nil {
		res.ExitCode = 1
		res.Output = err.Error()
	}
	secs := roundSeconds(res.Duration)
	lines := strings.Split(strings.TrimRight(res.Output, "\n"), "\n")
	out := Result{
		Project:       a.Name,
		Command:       res.Command,
		Output:        res.Output,
		OutputLines:   lines,
		ExecutionTime: secs,
		ExitCode:      &res.ExitCode,
	}
	status := "success"
	if res.ExitCode == 0 {
		out.Type = "success"
		out.Message = fmt.Sprintf("Project %s created", a.Name)
	} else {
		status = "error"
		out.Type = "error"
		out.ErrorKind = string(errkind.Classify(res.Output))
		out.Message = "Project creation failed"
		if s := errkind.Summarize(res.Output); s != "" {
			out.Message = "Error: " + s
		}
	}
	metrics.ObserveCommand("create", status, res.Duration.Seconds())
	m.auditor.Record(ctx, "create", status, map[string]any{
		"project":        a.Name,
		"preset":         a.Preset,
		"bitrix_type":    nilIfEmpty(a.BitrixType),
		"core_id":        nilIfEmpty(a.CoreID),
		"command":        res.Command,
		"output_head":    errkind.Head(res.Output, syncHeadLines),
		"execution_time": secs,
	})
	return out
}

// Poll reports the progress of a background job.
func (m *Manager) Poll(ctx context.Context, id string, offset int64) poller.Response {
	return m.poller.Poll(ctx, strings.TrimSpace(id), offset)
}

// resolveExisting turns a user-supplied name into the registry key.
func (m *Manager) resolveExisting(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" || !reProjectName.MatchString(name) {
		return "", errkind.New(errkind.Validation, "invalid project name: latin letters, digits, dashes and dots only")
	}
	if host, err := m.zone.Canonicalize(name, domain.ModeExisting); err == nil {
		return host, nil
	}
	// deeper names predate the zone grammar and are addressed verbatim
	return strings.ToLower(name), nil
}

// Delete removes a host. Core owners with bound link hosts are refused
// before hostctl runs; hostctl applies the same guard itself.
func (m *Manager) Delete(ctx context.Context, raw string) (Result, error) {
	host, err := m.resolveExisting(raw)
	if err != nil {
		return Result{}, err
	}
	if err := m.requireHostctl(ctx, "delete", host); err != nil {
		return Result{}, err
	}

	dec := m.DeleteCheck(host)
	if !dec.Allowed {
		metrics.IncDeleteBlocked()
		m.auditor.Record(ctx, "delete", "warning", map[string]any{
			"project":        host,
			"reason":         string(errkind.DeleteGuard),
			"core_id":        dec.CoreID,
			"blocking_hosts": dec.Blocking,
		})
		m.logger.Info("delete blocked", "project", host, "core_id", dec.CoreID, "blocking", dec.Blocking)
		return Result{
			Type:      "warning",
			Message:   dec.Reason(),
			Project:   host,
			ErrorKind: string(errkind.DeleteGuard),
			Blocking:  dec.Blocking,
		}, nil
	}

	ctx, cancel := m.commandContext(ctx)
	defer cancel()
	res, err := m.hc.Run(ctx, hostctl.Delete(host)...)
	if err != nil {
		m.auditor.Record(ctx, "delete", "error", map[string]any{"project": host, "command": res.Command, "error": err.Error()})
		return Result{}, errkind.Wrap(errkind.Infra, "could not run hostctl delete", err)
	}
	oc := errkind.ClassifyDelete(res.ExitCode, res.Output)
	metrics.ObserveCommand("delete", oc.Status, res.Duration.Seconds())

	fields := map[string]any{
		"project":     host,
		"command":     res.Command,
		"output_head": errkind.Head(res.Output, syncHeadLines),
	}
	out := Result{Type: oc.Status, Message: oc.Message, Project: host, ErrorKind: string(oc.Kind), Command: res.Command, ExitCode: &res.ExitCode}
	switch {
	case oc.Status == "success":
		out.Message = fmt.Sprintf("Project %s deleted", host)
	case oc.Kind == errkind.AlreadyMissing:
		out.Message = fmt.Sprintf("Project %s is already missing, nothing to delete", host)
		fields["reason"] = string(oc.Kind)
	case oc.Kind == errkind.DeleteGuard:
		metrics.IncDeleteBlocked()
		fields["reason"] = string(oc.Kind)
	default:
		out.Message = "Error: " + oc.Message
	}
	m.auditor.Record(ctx, "delete", oc.Status, fields)
	return out, nil
}

// Lifecycle runs start, stop or restart for a host.
func (m *Manager) Lifecycle(ctx context.Context, action, raw string) (Result, error) {
	switch action {
	case hostctl.ActionStart, hostctl.ActionStop, hostctl.ActionRestart:
	default:
		return Result{}, errkind.New(errkind.Validation, fmt.Sprintf("unknown action %q", action))
	}
	host, err := m.resolveExisting(raw)
	if err != nil {
		return Result{}, err
	}
	if err := m.requireHostctl(ctx, action, host); err != nil {
		return Result{}, err
	}
	ctx, cancel := m.commandContext(ctx)
	defer cancel()
	res, err := m.hc.Lifecycle(ctx, action, host)
	if err != nil {
		m.auditor.Record(ctx, action, "error", map[string]any{"project": host, "command": res.Command, "error": err.Error()})
		return Result{}, errkind.Wrap(errkind.Infra, "could not run hostctl "+action, err)
	}
	head := errkind.Head(res.Output, syncHeadLines)
	out := Result{Project: host, Command: res.Command, ExitCode: &res.ExitCode}
	if res.ExitCode != 0 {
		metrics.ObserveCommand(action, "error", res.Duration.Seconds())
		out.Type = "error"
		out.ErrorKind = string(errkind.Classify(res.Output))
		out.Message = "Command failed: " + strings.Join(head, "\n")
		m.auditor.Record(ctx, action, "error", map[string]any{"project": host, "command": res.Command, "output_head": head})
		return out, nil
	}
	metrics.ObserveCommand(action, "success", res.Duration.Seconds())
	out.Type = "success"
	out.Message = fmt.Sprintf("%s %s: done", action, host)
	m.auditor.Record(ctx, action, "success", map[string]any{"project": host, "command": res.Command})
	return out, nil
}

// requireHostctl fails with a config error, audited, when the script is
// missing.
func (m *Manager) requireHostctl(ctx context.Context, action, project string) error {
	err := m.hc.Available()
	if err == nil {
		return nil
	}
	if errors.Is(err, hostctl.ErrNotFound) {
		m.auditor.Record(ctx, action, "error", map[string]any{"project": project, "reason": "hostctl_not_found"})
	}
	m.logger.Error("hostctl unavailable", "script", m.hc.Script, "error", err)
	return errkind.Wrap(errkind.Config, "hostctl not found at "+m.hc.Script, err)
}

func valOr(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Round(10*time.Millisecond)) / float64(time.Second)
}
