package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"microdata/internal/session"
)

type sourcesOptions struct {
	output string
}

func newSourcesCmd(root *rootOptions) *cobra.Command {
	opts := &sourcesOptions{}

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List the configured catalogs",
		Example: `  # List sources in table format
  microdata sources

  # List sources as JSON
  microdata sources -o json`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validOutput(opts.output)
		},
		RunE: withSession(root, func(cmd *cobra.Command, sc *session.Context, _ []string) error {
			return runSources(cmd, sc, opts)
		}),
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", outputTable, "Output format (table, json, yaml)")

	return cmd
}

func runSources(cmd *cobra.Command, sc *session.Context, opts *sourcesOptions) error {
	infos := sc.Collector.Sources()
	out := cmd.OutOrStdout()
	if done, err := printStructured(out, opts.output, infos); done {
		return err
	}

	w := newTable(out)
	_, _ = fmt.Fprintln(w, "NAME\tLABEL\tENABLED\tSCHEMA\tCOLUMNS\tLIST URL")
	for _, s := range infos {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\tv%d\t%d\t%s\n", s.Name, s.Label, s.Enabled, s.SchemaVersion, s.Columns, s.ListURL)
	}
	return w.Flush()
}
