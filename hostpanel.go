// Package hostpanel wires the panel's components into an embeddable App:
// registry and job stores, the hostctl adapter, the audit log with its
// history sinks, the action manager and the HTTP API.
package hostpanel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/hostpanel/internal/audit"
	"github.com/loykin/hostpanel/internal/audit/factory"
	"github.com/loykin/hostpanel/internal/config"
	"github.com/loykin/hostpanel/internal/domain"
	"github.com/loykin/hostpanel/internal/hostctl"
	"github.com/loykin/hostpanel/internal/job"
	"github.com/loykin/hostpanel/internal/logger"
	"github.com/loykin/hostpanel/internal/manager"
	"github.com/loykin/hostpanel/internal/metrics"
	"github.com/loykin/hostpanel/internal/registry"
	"github.com/loykin/hostpanel/internal/server"
	hptls "github.com/loykin/hostpanel/internal/tls"
)

// Re-exported for embedders.

type Config = config.Config

type Manager = manager.Manager

type CreateRequest = manager.CreateRequest

type Result = manager.Result

type MigrationResult = registry.MigrationResult

const shutdownTimeout = 5 * time.Second

// LoadConfig reads a TOML config file; an empty path yields the defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config { return config.Default() }

// App is a fully wired panel.
type App struct {
	cfg      *Config
	logger   *slog.Logger
	closers  []io.Closer
	recorder *audit.Recorder
	mgr      *manager.Manager
	router   *server.Router
	tls      *tls.Config
}

// New builds an App from cfg. Legacy state found in the projects directory
// is migrated before New returns.
func New(cfg *Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lg, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &App{cfg: cfg, logger: lg, closers: []io.Closer{logCloser}}

	hostEnv, err := cfg.HostEnv()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	zone := domain.NewZone(cfg.DomainSuffix)
	if zone.Err() != nil {
		lg.Error("invalid domain suffix, creates will be refused", "suffix", cfg.DomainSuffix, "error", zone.Err())
	}

	if a.tls, err = hptls.Setup(cfg.Server.TLS, zone.Suffix()); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("tls: %w", err)
	}

	reg := registry.New(cfg.StateDir, cfg.ProjectsDir)
	reg.SetLogger(lg)
	// the audit log may itself be a legacy artifact, so migrate before opening it
	reg.Migrate()

	auditLog, err := audit.OpenFileLog(cfg.AuditFile(), cfg.Audit.Rotation)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("audit log: %w", err)
	}
	a.recorder = audit.NewRecorder(auditLog)
	a.recorder.SetLogger(lg)
	a.closers = append([]io.Closer{a.recorder}, a.closers...)
	for _, dsn := range cfg.Audit.Sinks {
		sink, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("audit sink %q: %w", dsn, err)
		}
		a.recorder.AddSink(sink)
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			lg.Warn("metrics registration failed", "error", err)
		}
	}

	a.mgr = manager.New(manager.Options{
		Zone:      zone,
		Registry:  reg,
		Jobs:      job.NewStore(cfg.JobsDir()),
		Hostctl:   hostctl.New(cfg.Hostctl, cfg.Shell, hostEnv),
		Auditor:   a.recorder,
		AuditLog:  auditLog,
		Logger:    lg,
		HeadLines: cfg.Jobs.HeadLines,

		CommandTimeout: cfg.CommandTimeout,
	})

	a.router = server.NewRouter(a.mgr, cfg.Server.BasePath)
	a.router.SetLogger(lg)
	a.router.SetWriteTimeout(cfg.Server.WriteTimeout)
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		a.router.MountMetrics(metrics.Handler())
	}

	lg.Info("hostpanel ready",
		"zone", zone.Suffix(),
		"state_dir", cfg.StateDir,
		"projects_dir", cfg.ProjectsDir,
		"hostctl", cfg.Hostctl,
		"audit_sinks", len(cfg.Audit.Sinks),
		"tls", a.tls != nil,
	)
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() *Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Manager exposes the action layer for in-process use.
func (a *App) Manager() *Manager { return a.mgr }

// Handler returns the HTTP API, mountable under any server or mux.
func (a *App) Handler() http.Handler { return a.router.Handler() }

// Migrate re-runs the legacy state migration and reports per artifact.
func (a *App) Migrate() []MigrationResult { return a.mgr.Migrate() }

// Serve runs the API (and the metrics listener when configured) until ctx
// is canceled, then shuts both down gracefully.
func (a *App) Serve(ctx context.Context) error {
	api := a.router.Server(a.cfg.Server.Listen)
	api.TLSConfig = a.tls
	servers := []*http.Server{api}
	if a.cfg.Metrics.Enabled && a.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		servers = append(servers, &http.Server{
			Addr:              a.cfg.Metrics.Listen,
			Handler:           mux,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		a.logger.Info("listening", "addr", srv.Addr)
		go func(s *http.Server) {
			var err error
			if s.TLSConfig != nil {
				err = s.ListenAndServeTLS("", "")
			} else {
				err = s.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", s.Addr, err)
				return
			}
			errCh <- nil
		}(srv)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(sctx); err != nil && serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// Close releases the audit sinks and the log file.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
