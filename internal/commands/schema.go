package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"microdata/internal/schemas"
	"microdata/internal/session"
)

func newSchemaCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and check datasets schemas",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the built-in schemas",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				for _, name := range schemas.Embedded() {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <source>",
			Short: "Print the active schema of a source as YAML",
			Long:  `Print the schema a source is normalized to, including any schema_file override from the config.`,
			Args:  cobra.ExactArgs(1),
			RunE: withSession(root, func(cmd *cobra.Command, sc *session.Context, args []string) error {
				def, err := sc.Collector.Definition(args[0])
				if err != nil {
					return err
				}
				data, err := schemas.Marshal(def)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}),
		},
		&cobra.Command{
			Use:   "check <source> <file>",
			Short: "Validate a schema override file",
			Example: `  # Check a custom World Bank schema before pointing the config at it
  microdata schema check worldbank ./worldbank.yaml`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := os.ReadFile(args[1])
				if err != nil {
					return err
				}
				def, err := schemas.Parse(args[0], data)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (version %d, %d columns, %d prefix rules)\n",
					args[1], def.Version, len(def.Columns), len(def.Prefixes))
				return nil
			},
		},
	)

	return cmd
}
