package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"microdata/internal/config"
)

type initOptions struct {
	force bool
}

func newInitCmd(root *rootOptions) *cobra.Command {
	opts := &initOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long:  `Write a config file with the default storage, fetch, and logging settings to the --config path.`,
		Example: `  # Create microdata.yaml in the current directory
  microdata init

  # Overwrite an existing file
  microdata init --force -c /etc/microdata.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, root.ConfigPath, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, path string, opts *initOptions) error {
	if _, err := os.Stat(path); err == nil && !opts.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := config.Default().Save(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
