package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"microdata/internal/config"
	"microdata/internal/dbclient"
	mcpserver "microdata/internal/mcp"
	"microdata/internal/secret"
	"microdata/internal/session"
)

// ── mirrors ────────────────────────────────────────────────

func newMirrorsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirrors",
		Short: "Manage the database mirrors of the datasets tables",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Check every configured mirror is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.ConfigPath)
			if err != nil {
				return err
			}
			secrets := secret.NewResolver()
			for i := range cfg.Mirrors {
				if cfg.Mirrors[i].DSN, err = secrets.Resolve(cfg.Mirrors[i].DSN); err != nil {
					return err
				}
			}
			return testMirrors(cmd, cfg.Mirrors)
		},
	})

	return cmd
}

func testMirrors(cmd *cobra.Command, mirrors []dbclient.MirrorConfig) error {
	out := cmd.OutOrStdout()
	if len(mirrors) == 0 {
		_, _ = fmt.Fprintln(out, "No mirrors configured.")
		return nil
	}

	var errs []error
	w := newTable(out)
	_, _ = fmt.Fprintln(w, "NAME\tDRIVER\tSTATUS")
	for _, mc := range mirrors {
		status := "ok"
		if err := testMirror(cmd.Context(), mc); err != nil {
			status = "error: " + err.Error()
			errs = append(errs, err)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", dash(mc.Name), mc.Driver, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func testMirror(ctx context.Context, mc dbclient.MirrorConfig) error {
	m, err := dbclient.NewMirror(mc, nil)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.TestConnection(ctx)
}

// ── mcp ────────────────────────────────────────────────────

func newMCPCmd(root *rootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the collector over MCP on stdin/stdout",
		Long:  `Run a Model Context Protocol server so agents can list sources, refresh catalogs, and inspect stored datasets.`,
		Args:  cobra.NoArgs,
		RunE: withSession(root, func(cmd *cobra.Command, sc *session.Context, _ []string) error {
			srv := mcpserver.New(mcpserver.Deps{
				Collector: sc.Collector,
				Logger:    sc.Logger.Named("mcp"),
				Version:   version,
			})
			if err := srv.ServeStdio(); err != nil {
				sc.Logger.Error("mcp: server stopped", zap.Error(err))
				return err
			}
			return nil
		}),
	}
}
