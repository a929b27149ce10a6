package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/hostpanel"
	"github.com/loykin/hostpanel/internal/registry"
	"github.com/loykin/hostpanel/pkg/client"
)

type command struct {
	flags *GlobalFlags
	out   io.Writer
}

// backend picks the in-process App when a config is given and no API URL
// overrides it.
func (c *command) backend() (backend, error) {
	if c.flags.ConfigPath != "" && c.flags.APIUrl == "" {
		return newLocal(c.flags.ConfigPath)
	}
	return newRemote(c.flags), nil
}

func (c *command) stdout() io.Writer {
	if c.out == nil {
		return os.Stdout
	}
	return c.out
}

// Create submits a create and optionally follows its job.
func (c *command) Create(ctx context.Context, name string, f CreateFlags) error {
	b, err := c.backend()
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	res, err := b.Create(ctx, client.CreateRequest{
		Name:       name,
		PHPVersion: f.PHPVersion,
		DBType:     f.DBType,
		Preset:     f.Preset,
		BitrixType: f.BitrixType,
		CoreID:     f.CoreID,
		Sync:       f.Sync,
	})
	if err != nil {
		return err
	}
	if res.JobID == "" || !f.Wait {
		printJSON(c.stdout(), res)
		return resultErr(res.Type, res.Message)
	}
	_, _ = fmt.Fprintf(c.stdout(), "%s (job %s)\n", res.Message, res.JobID)
	return c.follow(ctx, b, res.JobID, f.WaitFor)
}

// JobStatus polls a job once.
func (c *command) JobStatus(ctx context.Context, id string, offset int64) error {
	b, err := c.backend()
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	st, err := b.Poll(ctx, id, offset)
	if err != nil {
		return err
	}
	printJSON(c.stdout(), st)
	return nil
}

// JobWait follows a job log until the job finishes.
func (c *command) JobWait(ctx context.Context, id string, timeout time.Duration) error {
	b, err := c.backend()
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	return c.follow(ctx, b, id, timeout)
}

func (c *command) follow(ctx context.Context, b backend, id string, timeout time.Duration) error {
	w := c.stdout()
	st, err := b.Wait(ctx, id, client.WaitOptions{
		Timeout: timeout,
		OnChunk: func(s string) { _, _ = io.WriteString(w, s) },
	})
	if err != nil {
		if errors.Is(err, client.ErrWaitTimeout) {
			return fmt.Errorf("job %s still running: %w", id, err)
		}
		return err
	}
	_, _ = fmt.Fprintln(w, st.Message)
	return resultErr(st.Type, st.Message)
}

func (c *command) JobList(ctx context.Context) error {
	b, err := c.backend()
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	return c.print(b.Jobs(ctx))
}

func (c *command) Delete(ctx context.Context, name string) error {
	b, err := c.backend()
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	res, err := b.Delete(ctx, name)
	if err != nil {
		return err
	}
	printJSON(c.stdout(), res)
	return resultErr(res.Type, res.Message)
}

func (c *command) Lifecycle(ctx context.Context, action, name string) error {
	b, err := c.backend()
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	res, err := b.Lifecycle(ctx, action, name)
	if err != nil {
		return err
	}
	printJSON(c.stdout(), res)
	return resultErr(res.Type, res.Message)
}

func (c *command) Hosts(ctx context.Context) error {
	b, err := c.backend()
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	return c.print(b.Hosts(ctx))
}

func (c *command) DeleteCheck(ctx context.Context, name string) error {
	b, err := c.backend()
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	return c.print(b.DeleteCheck(ctx, name))
}

func (c *command) Audit(ctx context.Context, limit int) error {
	b, err := c.backend()
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	return c.print(b.Audit(ctx, limit))
}

func (c *command) Zone(ctx context.Context) error {
	b, err := c.backend()
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	return c.print(b.Zone(ctx))
}

func (c *command) print(v any, err error) error {
	if err != nil {
		return err
	}
	printJSON(c.stdout(), v)
	return nil
}

// resultErr turns an executed action that reported an error into a
// non-zero exit. Warnings exit cleanly.
func resultErr(typ, msg string) error {
	if typ == "error" {
		return errors.New(msg)
	}
	return nil
}

func runServe(ctx context.Context, configPath string) error {
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=config.toml or provide as argument")
	}
	cfg, err := hostpanel.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	app, err := hostpanel.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	app.Logger().Info("starting hostpanel server", "listen", cfg.Server.Listen, "base_path", cfg.Server.BasePath)
	err = app.Serve(ctx)
	app.Logger().Info("shutting down")
	return err
}

// runMigrateState runs the legacy state migration without starting the
// panel, so the per-artifact report is not consumed by startup.
func runMigrateState(w io.Writer, configPath string) error {
	if configPath == "" {
		return fmt.Errorf("config file required for migrate-state. Use --config=config.toml or provide as argument")
	}
	cfg, err := hostpanel.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	results := registry.New(cfg.StateDir, cfg.ProjectsDir).Migrate()
	printJSON(w, results)
	for _, r := range results {
		if r.Action == "failed" {
			return fmt.Errorf("migration of %s failed: %s", r.Legacy, r.Error)
		}
	}
	return nil
}
