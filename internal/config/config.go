package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/hostpanel/internal/env"
	"github.com/loykin/hostpanel/internal/logger"
	"github.com/loykin/hostpanel/internal/poller"
	"github.com/loykin/hostpanel/internal/registry"
)

// Defaults.
const (
	DefaultStateDir    = "/state"
	DefaultProjectsDir = "/projects"
	DefaultHostctl     = "/scripts/hostctl.sh"
	DefaultShell       = "bash"
	DefaultListen      = ":8080"
	DefaultBasePath    = "/api"

	DefaultCommandTimeout = 15 * time.Minute

	// DefaultWriteTimeout leaves room for a synchronous command to answer.
	DefaultWriteTimeout = DefaultCommandTimeout + time.Minute
)

// Config is the top-level TOML structure.
type Config struct {
	DomainSuffix string   `toml:"domain_suffix" mapstructure:"domain_suffix"`
	StateDir     string   `toml:"state_dir" mapstructure:"state_dir"`
	ProjectsDir  string   `toml:"projects_dir" mapstructure:"projects_dir"`
	Hostctl      string   `toml:"hostctl" mapstructure:"hostctl"`
	Shell        string   `toml:"shell" mapstructure:"shell"`
	Env          []string `toml:"env" mapstructure:"env"`
	EnvFiles     []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv     bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	// CommandTimeout bounds synchronous hostctl runs; 0 disables the bound.
	CommandTimeout time.Duration `toml:"command_timeout" mapstructure:"command_timeout"`

	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Jobs    JobsConfig    `toml:"jobs" mapstructure:"jobs"`
	Audit   AuditConfig   `toml:"audit" mapstructure:"audit"`
	Log     logger.Config `toml:"log" mapstructure:"log"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

type ServerConfig struct {
	Listen   string    `toml:"listen" mapstructure:"listen"`
	BasePath string    `toml:"base_path" mapstructure:"base_path"`
	TLS      TLSConfig `toml:"tls" mapstructure:"tls"`

	// WriteTimeout must cover the slowest synchronous action.
	WriteTimeout time.Duration `toml:"write_timeout" mapstructure:"write_timeout"`
}

// TLSConfig serves the API over HTTPS. Either CertFile and KeyFile or Dir
// must be set; with AutoGenerate a self-signed pair is written to Dir when
// missing.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	Hosts        []string `toml:"hosts" mapstructure:"hosts"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	MaxVersion   string   `toml:"max_version" mapstructure:"max_version"`
}

type JobsConfig struct {
	// Dir defaults to <state_dir>/devpanel-jobs.
	Dir       string `toml:"dir" mapstructure:"dir"`
	HeadLines int    `toml:"head_lines" mapstructure:"head_lines"`
}

type AuditConfig struct {
	// File defaults to <state_dir>/devpanel-actions.log.
	File     string          `toml:"file" mapstructure:"file"`
	Rotation logger.Rotation `mapstructure:",squash"`
	// Sinks are DSNs of history sinks that mirror every record.
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	// Listen serves /metrics on a separate address; empty mounts it on the
	// API router.
	Listen string `toml:"listen" mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("domain_suffix", "loc")
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("projects_dir", DefaultProjectsDir)
	v.SetDefault("hostctl", DefaultHostctl)
	v.SetDefault("shell", DefaultShell)
	v.SetDefault("use_os_env", true)
	v.SetDefault("command_timeout", DefaultCommandTimeout)
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.base_path", DefaultBasePath)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
	v.SetDefault("jobs.head_lines", poller.DefaultHeadLines)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c, err := Load("")
	if err != nil {
		// defaults alone always decode
		panic(err)
	}
	return c
}

// Load reads the TOML file at path; an empty path yields the defaults.
// DOMAIN_SUFFIX in the environment overrides domain_suffix. Relative
// paths are resolved against the directory of the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := v.BindEnv("domain_suffix", "DOMAIN_SUFFIX"); err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if path != "" {
		c.resolve(filepath.Dir(path))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) resolve(base string) {
	abs := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	abs(&c.StateDir)
	abs(&c.ProjectsDir)
	abs(&c.Hostctl)
	abs(&c.Jobs.Dir)
	abs(&c.Audit.File)
	abs(&c.Log.File)
	abs(&c.Server.TLS.CertFile)
	abs(&c.Server.TLS.KeyFile)
	abs(&c.Server.TLS.Dir)
	for i := range c.EnvFiles {
		abs(&c.EnvFiles[i])
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StateDir) == "" {
		return errors.New("state_dir is required")
	}
	if strings.TrimSpace(c.Hostctl) == "" {
		return errors.New("hostctl is required")
	}
	if c.Shell == "" {
		c.Shell = DefaultShell
	}
	if c.Jobs.HeadLines <= 0 {
		return fmt.Errorf("jobs.head_lines must be positive, got %d", c.Jobs.HeadLines)
	}
	if c.CommandTimeout < 0 {
		return fmt.Errorf("command_timeout must not be negative, got %s", c.CommandTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server.write_timeout must not be negative, got %s", c.Server.WriteTimeout)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with /: %q", c.Server.BasePath)
	}
	if t := c.Server.TLS; t.Enabled && (t.CertFile == "" || t.KeyFile == "") && t.Dir == "" {
		return errors.New("server.tls needs cert_file and key_file, or dir")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// JobsDir returns the directory holding job artifacts.
func (c *Config) JobsDir() string {
	if c.Jobs.Dir != "" {
		return c.Jobs.Dir
	}
	return filepath.Join(c.StateDir, registry.JobsDir)
}

// AuditFile returns the path of the JSON-lines audit log.
func (c *Config) AuditFile() string {
	if c.Audit.File != "" {
		return c.Audit.File
	}
	return filepath.Join(c.StateDir, registry.ActionsLogFile)
}

// HostEnv builds the environment for hostctl. Precedence: OS env (when
// use_os_env is set) provides the base; then env_files in order; then the
// env list overrides last.
func (c *Config) HostEnv() (*env.Env, error) {
	var e *env.Env
	if c.UseOSEnv {
		e = env.New()
	} else {
		e = env.FromList(nil)
	}
	for _, p := range c.EnvFiles {
		kvs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		e.SetList(kvs)
	}
	e.SetList(c.Env)
	if c.DomainSuffix != "" {
		// hostctl reads the zone from its environment too
		if _, ok := e.Lookup("DOMAIN_SUFFIX"); !ok {
			e.Set("DOMAIN_SUFFIX", c.DomainSuffix)
		}
	}
	return e, nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in
// file order. Blank lines and lines starting with # are ignored; an export
// prefix and surrounding quotes are stripped.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		if k == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	return out, nil
}
