package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string // run in-process against this config instead of the API
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
	CACert     string
}

// CreateFlags holds flags for the create command
type CreateFlags struct {
	PHPVersion string
	DBType     string
	Preset     string
	BitrixType string
	CoreID     string
	Sync       bool
	Wait       bool
	WaitFor    time.Duration
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	createFlags := &CreateFlags{}
	hpCommand := &command{flags: globalFlags}

	root := createRootCommand(globalFlags, hpCommand)
	root.AddCommand(
		createServeCommand(globalFlags),
		createCreateCommand(hpCommand, createFlags),
		createJobCommand(hpCommand),
		createDeleteCommand(hpCommand),
		createLifecycleCommand(hpCommand, "start", "Start a host's containers"),
		createLifecycleCommand(hpCommand, "stop", "Stop a host's containers"),
		createLifecycleCommand(hpCommand, "restart", "Restart a host's containers (stop, then start)"),
		createHostsCommand(hpCommand),
		createDeleteCheckCommand(hpCommand),
		createAuditCommand(hpCommand),
		createZoneCommand(hpCommand),
		createMigrateStateCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags, hpCommand *command) *cobra.Command {
	root := &cobra.Command{
		Use:   "hostpanel",
		Short: "Local development host panel",
		Long: `Hostpanel creates, deletes and controls local development hosts through
hostctl, runs long creates as background jobs and keeps an audit trail.

Commands talk to a running panel over HTTP unless --config is given, in which
case they run in-process against that configuration.

Examples:
  hostpanel serve config.toml
  hostpanel create shop --preset=bitrix --bitrix-type=kernel --wait
  hostpanel job wait 20260301-120000-abcdef12
  hostpanel delete-check shop.loc
  hostpanel --config=config.toml hosts`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			hpCommand.out = cmd.OutOrStdout()
		},
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file; runs in-process")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "panel API URL (default http://localhost:8080/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 15*time.Minute, "request timeout")
	root.PersistentFlags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS verification")
	root.PersistentFlags().StringVar(&flags.CACert, "ca-cert", "", "CA certificate for an HTTPS panel (e.g. <state>/tls/tls_ca.crt)")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the panel API server",
		Long: `Start the panel HTTP API. Legacy state in the projects directory is migrated
into the state directory on startup.

Examples:
  hostpanel serve config.toml
  hostpanel serve --config=config.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServe(cmd.Context(), configPath)
		},
	}
}

// createCreateCommand creates the create subcommand
func createCreateCommand(hpCommand *command, f *CreateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a host",
		Long: `Create a host. The name is canonicalized into the panel's zone, so "shop"
becomes "shop.loc". Creates run as background jobs unless --sync is given.

Examples:
  hostpanel create shop
  hostpanel create shop --php=8.3 --db=postgres --wait
  hostpanel create shop2 --preset=bitrix --bitrix-type=link --core=core-main`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return hpCommand.Create(cmd.Context(), args[0], *f)
		},
	}
	cmd.Flags().StringVar(&f.PHPVersion, "php", "", "PHP version (default 8.2)")
	cmd.Flags().StringVar(&f.DBType, "db", "", "database type (default mysql)")
	cmd.Flags().StringVar(&f.Preset, "preset", "", "project preset (default php)")
	cmd.Flags().StringVar(&f.BitrixType, "bitrix-type", "", "bitrix layout: kernel, ext_kernel or link")
	cmd.Flags().StringVar(&f.CoreID, "core", "", "bitrix core id")
	cmd.Flags().BoolVar(&f.Sync, "sync", false, "run hostctl within the request")
	cmd.Flags().BoolVar(&f.Wait, "wait", false, "follow the job log until it finishes")
	cmd.Flags().DurationVar(&f.WaitFor, "wait-timeout", 0, "give up waiting after this long (default 12m)")
	return cmd
}

// createJobCommand creates the job command group
func createJobCommand(hpCommand *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect background jobs",
	}

	var offset int64
	status := &cobra.Command{
		Use:   "status ID",
		Short: "Poll a job once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return hpCommand.JobStatus(cmd.Context(), args[0], offset)
		},
	}
	status.Flags().Int64Var(&offset, "offset", 0, "log byte offset to read from")

	var timeout time.Duration
	wait := &cobra.Command{
		Use:   "wait ID",
		Short: "Follow a job log until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return hpCommand.JobWait(cmd.Context(), args[0], timeout)
		},
	}
	wait.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (default 12m)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return hpCommand.JobList(cmd.Context())
		},
	}

	cmd.AddCommand(status, wait, list)
	return cmd
}

// createDeleteCommand creates the delete subcommand
func createDeleteCommand(hpCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a host",
		Long: `Delete a host. Bitrix core owners with linked hosts are refused until the
links are removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return hpCommand.Delete(cmd.Context(), args[0])
		},
	}
}

// createLifecycleCommand creates start, stop and restart
func createLifecycleCommand(hpCommand *command, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return hpCommand.Lifecycle(cmd.Context(), action, args[0])
		},
	}
}

func createHostsCommand(hpCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return hpCommand.Hosts(cmd.Context())
		},
	}
}

func createDeleteCheckCommand(hpCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-check NAME",
		Short: "Show whether a host may be deleted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return hpCommand.DeleteCheck(cmd.Context(), args[0])
		},
	}
}

func createAuditCommand(hpCommand *command) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return hpCommand.Audit(cmd.Context(), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of records")
	return cmd
}

func createZoneCommand(hpCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "zone",
		Short: "Show the active domain zone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return hpCommand.Zone(cmd.Context())
		},
	}
}

// createMigrateStateCommand creates the migrate-state subcommand
func createMigrateStateCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-state [config.toml]",
		Short: "Move legacy state files into the state directory",
		Long: `Move dot-prefixed registry files, the audit log and the jobs directory
from the projects directory into the state directory. Existing targets are
never overwritten. Runs in-process and needs a config file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runMigrateState(cmd.OutOrStdout(), configPath)
		},
	}
}
