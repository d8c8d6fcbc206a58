package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := buildRoot()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
}

// ProcessFlags holds flags for spawn, kill and status
type ProcessFlags struct {
	Name    string
	Dir     string
	WorkDir string
	Env     []string
}

// buildRoot assembles the command tree
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	c := &command{flags: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createDownloadCommand(c),
		createSpawnCommand(c, &ProcessFlags{}),
		createKillCommand(c, &ProcessFlags{}),
		createStatusCommand(c, &ProcessFlags{}),
		createYAMLCommand(c),
		createRequireEnvCommand(c),
		createUpCommand(c),
		createDownCommand(c),
		createServeCommand(c),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "harness",
		Short: "End-to-end test fixtures and detached processes",
		Long: `Harness prepares the world an end-to-end test runs in: it downloads
fixtures, launches detached processes tracked by PID files, edits YAML
config and checks required environment variables.

Examples:
  harness download http://host/data.zip ./data.zip
  harness spawn --name api -- ./api --port 4000
  harness kill --name api
  harness up --config harness.yaml`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to harness.yaml (optional)")
	return root
}

func createDownloadCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "download URL DEST",
		Short: "Download URL into DEST",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Download(cmd, args[0], args[1])
		},
	}
}

func createSpawnCommand(c *command, f *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spawn --name NAME [--dir DIR] -- COMMAND [ARGS...]",
		Short: "Start a detached process tracked by NAME.pid",
		Long: `Start COMMAND in its own session with stdout and stderr redirected to
NAME-out.log and NAME-err.log, and record its PID in NAME.pid. The command
is not waited on.

Examples:
  harness spawn --name api -- ./api --port 4000
  harness spawn --name db --dir ./run -- "postgres -D ./data"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Spawn(cmd, *f, args)
		},
	}
	addProcessFlags(cmd, f)
	cmd.Flags().StringVar(&f.WorkDir, "work-dir", "", "working directory of the child")
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "extra KEY=VALUE for the child (repeatable)")
	return cmd
}

func createKillCommand(c *command, f *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill --name NAME [--dir DIR]",
		Short: "Signal the PID in NAME.pid and remove the file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Kill(cmd, *f)
		},
	}
	addProcessFlags(cmd, f)
	return cmd
}

func createStatusCommand(c *command, f *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status --name NAME [--dir DIR]",
		Short: "Show the PID in NAME.pid and whether it is alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd, *f)
		},
	}
	addProcessFlags(cmd, f)
	return cmd
}

func addProcessFlags(cmd *cobra.Command, f *ProcessFlags) {
	cmd.Flags().StringVar(&f.Name, "name", "", "process name (required)")
	cmd.Flags().StringVar(&f.Dir, "dir", "", "directory of the pid and log files (default: config dir)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
}

func createYAMLCommand(c *command) *cobra.Command {
	yamlCmd := &cobra.Command{
		Use:   "yaml",
		Short: "Read or edit YAML files",
	}
	yamlCmd.AddCommand(
		&cobra.Command{
			Use:   "get FILE [KEY]",
			Short: "Print FILE, or the value at a dotted KEY",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				key := ""
				if len(args) == 2 {
					key = args[1]
				}
				return c.YAMLGet(cmd, args[0], key)
			},
		},
		&cobra.Command{
			Use:   "set FILE KEY=VALUE...",
			Short: "Set dotted keys in FILE, creating it when missing",
			Long: `Set dotted keys in FILE. Values are parsed as YAML scalars, so
port=8080 stores an integer and debug=true a boolean.

Examples:
  harness yaml set config.yaml server.port=8080 server.debug=true`,
			Args: cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.YAMLSet(cmd, args[0], args[1:])
			},
		},
	)
	return yamlCmd
}

func createRequireEnvCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "require-env NAME...",
		Short: "Fail unless every NAME is set and non-empty",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.RequireEnv(cmd, args)
		},
	}
}

func createUpCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Check env, fetch downloads and launch the configured processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Up(cmd)
		},
	}
}

func createDownCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Terminate every configured process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Down(cmd)
		},
	}
}

func createServeCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve fixture files, process status and metrics over HTTP",
		Long: `Serve the configured server.root under /files, process status for the
configured dir under /processes/NAME, and Prometheus metrics under /metrics
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Serve(cmd)
		},
	}
}
