package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/paperfs/internal/auth"
	"github.com/tonimelisma/paperfs/internal/config"
	"github.com/tonimelisma/paperfs/internal/metrics"
	"github.com/tonimelisma/paperfs/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebDAV server",
		Long: "Run the WebDAV server. Until someone signs in at the login URL the\n" +
			"WebDAV mount answers 503; afterwards tokens refresh in the background.",
		RunE: runServe,
	}

	cmd.Flags().String("bind", "", "listen address (overrides server.bind_addr)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg

	if err := config.ValidateResolved(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	logger := buildLogger()
	m := metrics.New()

	session := server.NewSession(cfg, logger, m)
	srv := server.New(cfg, session, logger, m)

	ctx := shutdownContext(cmdContext(cmd), logger)

	logger.Info("paperfs starting",
		slog.String("version", version),
		slog.String("state_file", cfg.Auth.StateFile),
		slog.String("onedrive_root", cfg.OneDrive.Root),
	)

	statusf("Sign in at %s%s/login\n", strings.TrimSuffix(cfg.Server.ExposedURL, "/"), auth.Prefix)

	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("paperfs stopped")

	return nil
}

// cmdContext returns cmd's context, or Background when run outside Execute.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}
