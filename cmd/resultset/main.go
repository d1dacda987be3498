package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(newCommand())
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot(rsCommand command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createSweepCommand(rsCommand, globalFlags),
		createListCommand(rsCommand, globalFlags),
		createCheckConfigCommand(rsCommand, globalFlags),
		createInitCommand(rsCommand),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "resultset",
		Short: "Replayable paged query server",
		Long: `Resultset registers the first query of a paged request under a result set id.
Page queries carry only the id and a new window; the original request is
replayed against the upstream query service. Idle ids expire after the TTL.

Examples:
  resultset init --store=sqlite --dir=/etc/resultset
  resultset serve --config=/etc/resultset/resultset.toml
  resultset ls --api-url=http://localhost:8080/api
  resultset sweep --config=/etc/resultset/resultset.toml`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadEnvFiles()
		},
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML server config file")
	return root
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [resultset.toml]",
		Short: "Start the resultset server",
		Long: `Start the HTTP server. The registry properties, sweep schedule, history
sinks and upstream are read from the TOML config.

Examples:
  resultset serve --config=resultset.toml
  resultset serve resultset.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, &ServeFlags{ConfigPath: globalFlags.ConfigPath}, args)
		},
	}
}

func createSweepCommand(rsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &SweepFlags{}
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evict expired result sets once",
		Long: `Run one eviction pass. Without --api-url the registry from --config is
opened directly; with it the running server sweeps.

Examples:
  resultset sweep --config=resultset.toml
  resultset sweep --api-url=http://localhost:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = globalFlags.ConfigPath
			return rsCommand.Sweep(*f)
		},
	}
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "remote server URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.APICAFile, "api-ca-file", "", "PEM bundle trusted for an https --api-url")
	cmd.Flags().BoolVar(&f.APIInsecure, "api-insecure", false, "skip TLS verification for an https --api-url")
	return cmd
}

func createListCommand(rsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ListFlags{}
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List live result sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = globalFlags.ConfigPath
			return rsCommand.List(*f)
		},
	}
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "remote server URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.APICAFile, "api-ca-file", "", "PEM bundle trusted for an https --api-url")
	cmd.Flags().BoolVar(&f.APIInsecure, "api-insecure", false, "skip TLS verification for an https --api-url")
	return cmd
}

func createCheckConfigCommand(rsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &CheckConfigFlags{}
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the server config and registry properties",
		Long: `Parse the server config and the properties file it points at, or a
properties file given directly, and print the result with credentials redacted.

Examples:
  resultset check-config --config=resultset.toml
  resultset check-config --properties=registry.properties --data-root=/var/lib/resultset --connect`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = globalFlags.ConfigPath
			return rsCommand.CheckConfig(*f)
		},
	}
	cmd.Flags().StringVar(&f.Properties, "properties", "", "properties file to check instead of the one named in --config")
	cmd.Flags().StringVar(&f.DataRoot, "data-root", "", "value substituted for ${DATA_ROOT}")
	cmd.Flags().BoolVar(&f.Connect, "connect", false, "open the store and storage root")
	return cmd
}

func createInitCommand(rsCommand command) *cobra.Command {
	f := &InitFlags{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample properties file and server config",
		Long: `Write registry.properties and resultset.toml for the chosen store.

Examples:
  resultset init --store=sqlite
  resultset init --store=postgres --dir=/etc/resultset --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rsCommand.Init(*f)
		},
	}
	cmd.Flags().StringVar(&f.StoreType, "store", "sqlite", "store type (sqlite, postgres, mysql, memory)")
	cmd.Flags().StringVar(&f.Dir, "dir", ".", "output directory")
	cmd.Flags().BoolVar(&f.Force, "force", false, "overwrite existing files")
	return cmd
}
