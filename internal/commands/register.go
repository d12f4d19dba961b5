// Package commands contains all CLI command definitions.
package commands

import (
	"github.com/spf13/cobra"

	"microdata/internal/session"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	session.Options
}

// NewRootCmd creates and returns the root command for the CLI.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "microdata",
		Short:         "Collect the World Bank and UNHCR microdata catalogs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "microdata.yaml", "Path to the config file")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.AddCommand(
		newInitCmd(opts),
		newSourcesCmd(opts),
		newListCmd(opts),
		newFetchCmd(opts),
		newRunCmd(opts),
		newScheduleCmd(opts),
		newWatchCmd(opts),
		newHistoryCmd(opts),
		newDescribeCmd(opts),
		newSchemaCmd(opts),
		newMirrorsCmd(opts),
		newSecretCmd(),
		newMCPCmd(opts, version),
	)

	return rootCmd
}

// withSession opens a session for the duration of run.
func withSession(opts *rootOptions, run func(cmd *cobra.Command, sc *session.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		sc, err := session.Open(cmd.Context(), opts.Options)
		if err != nil {
			return err
		}
		defer func() { _ = sc.Close() }()
		return run(cmd, sc, args)
	}
}
