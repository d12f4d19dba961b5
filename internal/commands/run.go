package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"microdata/internal/config"
	"microdata/internal/etl"
	"microdata/internal/session"
)

// targets returns args, or every enabled source when args is empty.
func targets(sc *session.Context, args []string) []string {
	if len(args) > 0 {
		return args
	}
	var out []string
	for _, s := range sc.Collector.Sources() {
		if s.Enabled {
			out = append(out, s.Name)
		}
	}
	return out
}

// ── list ───────────────────────────────────────────────────

func newListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [source...]",
		Short: "Refresh the catalog listing of each source",
		Long:  `Fetch the catalog listing of each source and store it, sorted by id, as the source's metadata table. Dataset details are not fetched.`,
		Example: `  # Refresh every enabled source
  microdata list

  # Refresh one source
  microdata list unhcr`,
		RunE: withSession(root, func(cmd *cobra.Command, sc *session.Context, args []string) error {
			var errs []error
			for _, name := range targets(sc, args) {
				res, err := sc.Collector.List(cmd.Context(), name)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s list: %w", name, err))
					continue
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d listed -> %s\n", name, res.Rows, res.Location)
			}
			return errors.Join(errs...)
		}),
	}
}

// ── fetch ──────────────────────────────────────────────────

func newFetchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [source...]",
		Short: "Fetch and merge datasets not yet stored",
		Long: `Fetch the detail document of every listed id missing from the source's
datasets table, normalize the new rows to the source schema, and merge them
into the stored table. Run "microdata list" first.`,
		Example: `  # Fetch new datasets of every enabled source
  microdata fetch

  # Fetch with debug logging
  microdata fetch worldbank --log-level debug`,
		RunE: withSession(root, func(cmd *cobra.Command, sc *session.Context, args []string) error {
			var errs []error
			for _, name := range targets(sc, args) {
				res, err := sc.Collector.Fetch(cmd.Context(), name)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s fetch: %w", name, err))
					continue
				}
				printFetch(cmd.OutOrStdout(), res)
			}
			return errors.Join(errs...)
		}),
	}
}

func printFetch(w io.Writer, res *etl.Result) {
	state := "unchanged"
	if res.Persisted {
		state = "saved"
	}
	_, _ = fmt.Fprintf(w, "%s: %d listed, %d new, %d fetched, %d failed, %d rows (%s)\n",
		res.Source, res.Inventory, len(res.NewIDs), res.Fetched, len(res.Failures), res.Table.Len(), state)
}

// ── run ────────────────────────────────────────────────────

func newRunCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run [source...]",
		Short: "List then fetch each source",
		Long:  `Refresh each source end to end. A failing source does not stop the others.`,
		Example: `  # Refresh every enabled source
  microdata run`,
		RunE: withSession(root, func(cmd *cobra.Command, sc *session.Context, args []string) error {
			names := targets(sc, args)
			err := sc.Collector.RunAll(cmd.Context(), names...)
			if err != nil {
				sc.Logger.Error("collector: run finished with errors", zap.Error(err))
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %d source(s)\n", len(names))
			return nil
		}),
	}
}

// ── schedule ───────────────────────────────────────────────

type scheduleOptions struct {
	cron string
	now  bool
}

func newScheduleCmd(root *rootOptions) *cobra.Command {
	opts := &scheduleOptions{}

	cmd := &cobra.Command{
		Use:   "schedule [source...]",
		Short: "Run sources on a cron schedule until interrupted",
		Example: `  # Refresh every night at 03:00
  microdata schedule --cron "0 3 * * *"

  # Use the schedule from the config file and run once right away
  microdata schedule --now`,
		RunE: withSession(root, func(cmd *cobra.Command, sc *session.Context, args []string) error {
			expr := opts.cron
			if expr == "" {
				expr = sc.Config.Schedule
			}
			if expr == "" {
				return errors.New("no schedule: pass --cron or set schedule in the config file")
			}
			if opts.now {
				if err := sc.Collector.RunAll(cmd.Context(), args...); err != nil {
					sc.Logger.Error("collector: initial run failed", zap.Error(err))
				}
			}
			return sc.Collector.Schedule(cmd.Context(), expr, args...)
		}),
	}

	cmd.Flags().StringVar(&opts.cron, "cron", "", "Cron expression (defaults to the config schedule)")
	cmd.Flags().BoolVar(&opts.now, "now", false, "Run once before waiting for the first tick")

	return cmd
}

// ── watch ──────────────────────────────────────────────────

func newWatchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [source...]",
		Short: "Re-fetch a source whenever its metadata file changes",
		Long:  `Watch the metadata CSV of each source and run the fetch step after it changes. Requires the csv storage backend.`,
		RunE: withSession(root, func(cmd *cobra.Command, sc *session.Context, args []string) error {
			if sc.Config.Storage.Backend != config.BackendCSV {
				return fmt.Errorf("watch requires the csv storage backend, not %q", sc.Config.Storage.Backend)
			}
			return sc.Collector.Watch(cmd.Context(), args...)
		}),
	}
}
