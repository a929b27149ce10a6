// Package hostctl invokes the external host management script. The script
// is opaque: only its argv contract, exit code and combined output matter.
package hostctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/loykin/hostpanel/internal/env"
)

// ErrNotFound is returned when the script is missing.
var ErrNotFound = errors.New("hostctl not found")

// Lifecycle actions.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// CreateArgs are the parameters of `hostctl create`.
type CreateArgs struct {
	Name       string
	PHPVersion string
	DBType     string
	Preset     string
	BitrixType string
	CoreID     string
}

// Result of a synchronous invocation.
type Result struct {
	Command  string
	Output   string
	ExitCode int
	Duration time.Duration
}

// Client builds and runs hostctl command lines.
type Client struct {
	Script  string
	Shell   string
	WorkDir string
	Env     *env.Env
}

// New returns a Client for script run through shell (bash when empty).
func New(script, shell string, e *env.Env) *Client {
	if shell == "" {
		shell = "bash"
	}
	return &Client{Script: script, Shell: shell, Env: e}
}

// Available reports whether the script exists.
func (c *Client) Available() error {
	fi, err := os.Stat(c.Script)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, c.Script)
	}
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrNotFound, c.Script)
	}
	return nil
}

// Argv returns the full argv for a hostctl subcommand.
func (c *Client) Argv(args ...string) []string {
	return append([]string{c.Shell, c.Script}, args...)
}

// CommandLine renders argv as a shell-safe command line.
func CommandLine(argv []string) string { return shellquote.Join(argv...) }

// Create returns the subcommand args for creating a host. Link hosts
// reference an existing core with --core; core owners name theirs with
// --core-id.
func Create(a CreateArgs) []string {
	args := []string{"create", a.Name, "--php", a.PHPVersion, "--db", a.DBType, "--preset", a.Preset, "--no-interactive"}
	if a.BitrixType != "" {
		args = append(args, "--bitrix-type", a.BitrixType)
	}
	if a.CoreID != "" {
		if a.BitrixType == "link" {
			args = append(args, "--core", a.CoreID)
		} else {
			args = append(args, "--core-id", a.CoreID)
		}
	}
	return args
}

// Delete returns the subcommand args for deleting a host.
func Delete(name string) []string { return []string{"delete", name, "--yes"} }

// Run executes a subcommand and captures combined output. A non-zero exit
// is reported through Result.ExitCode, not as an error; errors mean the
// command could not be run at all.
func (c *Client) Run(ctx context.Context, args ...string) (Result, error) {
	argv := c.Argv(args...)
	res := Result{Command: CommandLine(argv)}
	// #nosec G204
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.WorkDir
	if c.Env != nil {
		cmd.Env = c.Env.Environ()
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = buf.String()
	if err == nil {
		return res, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		res.ExitCode = ee.ExitCode()
		if res.ExitCode < 0 {
			// killed by signal or context
			res.ExitCode = 1
		}
		return res, nil
	}
	return res, fmt.Errorf("run %s: %w", res.Command, err)
}

// Lifecycle runs start, stop or restart. Restart is stop followed by start
// only when stop succeeded.
func (c *Client) Lifecycle(ctx context.Context, action, name string) (Result, error) {
	switch action {
	case ActionStart, ActionStop:
		return c.Run(ctx, action, name)
	case ActionRestart:
		stop, err := c.Run(ctx, ActionStop, name)
		if err != nil || stop.ExitCode != 0 {
			return stop, err
		}
		start, err := c.Run(ctx, ActionStart, name)
		start.Output = stop.Output + start.Output
		start.Duration += stop.Duration
		start.Command = stop.Command + " && " + start.Command
		return start, err
	}
	return Result{}, fmt.Errorf("unknown action %q", action)
}
