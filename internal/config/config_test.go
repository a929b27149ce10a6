package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTOML(t *testing.T, dir, data string) string {
	t.Helper()
	p := filepath.Join(dir, "hostpanel.toml")
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DOMAIN_SUFFIX", "")
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.DomainSuffix != "loc" || c.StateDir != DefaultStateDir || c.Hostctl != DefaultHostctl || c.Shell != "bash" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Server.Listen != ":8080" || c.Server.BasePath != "/api" {
		t.Fatalf("unexpected server defaults: %+v", c.Server)
	}
	if c.Jobs.HeadLines != 25 || !c.UseOSEnv {
		t.Fatalf("unexpected jobs defaults: %+v", c.Jobs)
	}
	if c.CommandTimeout != DefaultCommandTimeout || c.Server.WriteTimeout <= c.CommandTimeout {
		t.Fatalf("write timeout %s must exceed command timeout %s", c.Server.WriteTimeout, c.CommandTimeout)
	}
	if got := c.JobsDir(); got != "/state/devpanel-jobs" {
		t.Fatalf("jobs dir: %s", got)
	}
	if got := c.AuditFile(); got != "/state/devpanel-actions.log" {
		t.Fatalf("audit file: %s", got)
	}
}

func TestLoadFull(t *testing.T) {
	t.Setenv("DOMAIN_SUFFIX", "")
	dir := t.TempDir()
	p := writeTOML(t, dir, `
domain_suffix = "test"
state_dir = "/srv/state"
projects_dir = "/srv/projects"
hostctl = "/opt/hostctl.sh"
shell = "/bin/bash"
env = ["A=1"]
command_timeout = "5m"

[server]
listen = "127.0.0.1:9000"
base_path = "/panel"
write_timeout = "6m"

[jobs]
dir = "/tmp/jobs"
head_lines = 40

[audit]
file = "/var/log/actions.log"
max_size_mb = 5
compress = true
sinks = ["sqlite:///tmp/a.db", "opensearch://localhost:9200/actions"]

[log]
level = "debug"
format = "json"
max_backups = 9

[metrics]
enabled = true
listen = ":9100"
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.DomainSuffix != "test" || c.Shell != "/bin/bash" || c.ProjectsDir != "/srv/projects" {
		t.Fatalf("unexpected top level: %+v", c)
	}
	if c.Server.Listen != "127.0.0.1:9000" || c.Server.BasePath != "/panel" || c.Server.WriteTimeout != 6*time.Minute {
		t.Fatalf("server: %+v", c.Server)
	}
	if c.CommandTimeout != 5*time.Minute {
		t.Fatalf("command timeout: %s", c.CommandTimeout)
	}
	if c.JobsDir() != "/tmp/jobs" || c.Jobs.HeadLines != 40 {
		t.Fatalf("jobs: %+v", c.Jobs)
	}
	if c.AuditFile() != "/var/log/actions.log" || c.Audit.Rotation.MaxSizeMB != 5 || !c.Audit.Rotation.Compress {
		t.Fatalf("audit: %+v", c.Audit)
	}
	if len(c.Audit.Sinks) != 2 {
		t.Fatalf("sinks: %v", c.Audit.Sinks)
	}
	if c.Log.Level != "debug" || c.Log.Format != "json" || c.Log.Rotation.MaxBackups != 9 {
		t.Fatalf("log: %+v", c.Log)
	}
	if !c.Metrics.Enabled || c.Metrics.Listen != ":9100" {
		t.Fatalf("metrics: %+v", c.Metrics)
	}
}

func TestDomainSuffixFromEnv(t *testing.T) {
	t.Setenv("DOMAIN_SUFFIX", "dev")
	p := writeTOML(t, t.TempDir(), `domain_suffix = "test"`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.DomainSuffix != "dev" {
		t.Fatalf("env override not applied: %q", c.DomainSuffix)
	}
}

func TestRelativePathsResolved(t *testing.T) {
	dir := t.TempDir()
	p := writeTOML(t, dir, `
state_dir = "state"
hostctl = "scripts/hostctl.sh"
env_files = ["global.env"]
[log]
file = "logs/panel.log"
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for name, got := range map[string]string{
		"state_dir": c.StateDir,
		"hostctl":   c.Hostctl,
		"env_files": c.EnvFiles[0],
		"log.file":  c.Log.File,
	} {
		if !strings.HasPrefix(got, dir) {
			t.Fatalf("%s not resolved against %s: %s", name, dir, got)
		}
	}
	if c.JobsDir() != filepath.Join(dir, "state", "devpanel-jobs") {
		t.Fatalf("jobs dir: %s", c.JobsDir())
	}
}

func TestTLSPathsResolved(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(writeTOML(t, dir, "[server.tls]\nenabled = true\ndir = \"certs\"\nauto_generate = true\nhosts = [\"panel.loc\"]\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tc := c.Server.TLS
	if !tc.Enabled || !tc.AutoGenerate || tc.Dir != filepath.Join(dir, "certs") || len(tc.Hosts) != 1 {
		t.Fatalf("unexpected tls config: %+v", tc)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	for name, data := range map[string]string{
		"syntax":     "state_dir = [",
		"head lines": "[jobs]\nhead_lines = -1",
		"base path":  "[server]\nbase_path = \"api\"",
		"level":      "[log]\nlevel = \"loud\"",
		"state dir":  "state_dir = \"\"",
		"tls":        "[server.tls]\nenabled = true\ncert_file = \"a.crt\"",
		"timeout":    "command_timeout = \"-1s\"",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeTOML(t, t.TempDir(), data)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestHostEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "global.env")
	data := "# comment\nexport A=file\nB=\"quoted\"\nDOMAIN_SUFFIX=fromfile\n\nbroken\n"
	if err := os.WriteFile(envFile, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	c := Default()
	c.UseOSEnv = false
	c.EnvFiles = []string{envFile}
	c.Env = []string{"A=list"}
	e, err := c.HostEnv()
	if err != nil {
		t.Fatalf("host env: %v", err)
	}
	got := strings.Join(e.Environ(), ",")
	want := "A=list,B=quoted,DOMAIN_SUFFIX=fromfile"
	if got != want {
		t.Fatalf("environ = %q, want %q", got, want)
	}

	c.EnvFiles = nil
	c.Env = nil
	c.DomainSuffix = "loc"
	e, err = c.HostEnv()
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := e.Lookup("DOMAIN_SUFFIX"); v != "loc" {
		t.Fatalf("DOMAIN_SUFFIX = %q", v)
	}

	c.EnvFiles = []string{filepath.Join(dir, "absent.env")}
	if _, err := c.HostEnv(); err == nil {
		t.Fatal("expected error for missing env file")
	}
}
