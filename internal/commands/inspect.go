package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"microdata/internal/domain"
	"microdata/internal/session"
)

// ── history ────────────────────────────────────────────────

type historyOptions struct {
	source string
	limit  int
	output string
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	opts := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent collector runs",
		Example: `  # Last 20 runs of every source
  microdata history

  # Last 5 UNHCR runs as YAML
  microdata history --source unhcr --limit 5 -o yaml`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validOutput(opts.output)
		},
		RunE: withSession(root, func(cmd *cobra.Command, sc *session.Context, _ []string) error {
			runs, err := sc.Collector.History(opts.source, opts.limit)
			if err != nil {
				return err
			}
			return printRuns(cmd, runs, opts.output)
		}),
	}

	cmd.Flags().StringVar(&opts.source, "source", "", "Only show runs of this source")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "Maximum runs to show")
	cmd.Flags().StringVarP(&opts.output, "output", "o", outputTable, "Output format (table, json, yaml)")

	return cmd
}

func printRuns(cmd *cobra.Command, runs []domain.RunRecord, format string) error {
	out := cmd.OutOrStdout()
	if done, err := printStructured(out, format, runs); done {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := newTable(out)
	_, _ = fmt.Fprintln(w, "STARTED\tSOURCE\tSTAGE\tSTATUS\tNEW\tFETCHED\tFAILED\tROWS\tDURATION\tERROR")
	for _, r := range runs {
		took := "-"
		if !r.FinishedAt.IsZero() {
			took = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Source, r.Stage, r.Status,
			r.NewIDs, r.Fetched, r.Failed, r.Rows, took, dash(truncate(r.Error, 40)))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// ── describe ───────────────────────────────────────────────

type describeOptions struct {
	output string
}

func newDescribeCmd(root *rootOptions) *cobra.Command {
	opts := &describeOptions{}

	cmd := &cobra.Command{
		Use:   "describe <source>",
		Short: "Summarize a source's stored datasets table",
		Long:  `Show the row count, id range, and filled cells per column of a source's datasets table.`,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validOutput(opts.output)
		},
		RunE: withSession(root, func(cmd *cobra.Command, sc *session.Context, args []string) error {
			sum, err := sc.Collector.Describe(cmd.Context(), args[0])
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%s has no datasets table yet (run \"microdata run %s\")", args[0], args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if done, err := printStructured(out, opts.output, sum); done {
				return err
			}
			_, _ = fmt.Fprintf(out, "Source:   %s\nLocation: %s\nRows:     %d\nIDs:      %d..%d\n\n",
				sum.Source, sum.Location, sum.Rows, sum.FirstID, sum.LastID)
			w := newTable(out)
			_, _ = fmt.Fprintln(w, "COLUMN\tFILLED")
			for i, col := range sum.Columns {
				_, _ = fmt.Fprintf(w, "%s\t%d\n", col, sum.Filled[i])
			}
			return w.Flush()
		}),
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", outputTable, "Output format (table, json, yaml)")

	return cmd
}
