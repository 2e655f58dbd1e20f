package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/paperfs/internal/auth"
	"github.com/tonimelisma/paperfs/internal/config"
	"github.com/tonimelisma/paperfs/internal/graph"
	"github.com/tonimelisma/paperfs/internal/server"
	"github.com/tonimelisma/paperfs/internal/tokenfile"
)

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the persisted credential",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Refresh the persisted credential and display the signed-in user",
		Long: `Use the persisted refresh token to obtain an access token and print the
Microsoft account it belongs to. The rotated refresh token is saved back.
Fails while a server holds the state file; query its /api/v1/onedrive/me instead.`,
		RunE: runWhoami,
	}
}

// errServerRunning explains a held state file lock.
var errServerRunning = errors.New("a paperfs server is using the state file; stop it first")

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	path := resolvedCfg.Auth.StateFile

	unlock, err := tokenfile.Lock(path)
	if errors.Is(err, tokenfile.ErrLocked) {
		return errServerRunning
	}

	if err != nil {
		return err
	}
	defer unlock() //nolint:errcheck // best-effort release on exit

	if err := tokenfile.Remove(path); err != nil {
		return err
	}

	logger.Info("credential removed", "state_file", path)
	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmdContext(cmd)
	cfg := resolvedCfg

	if err := config.ValidateResolved(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	unlock, err := tokenfile.Lock(cfg.Auth.StateFile)
	if errors.Is(err, tokenfile.ErrLocked) {
		return errServerRunning
	}

	if err != nil {
		return err
	}
	defer unlock() //nolint:errcheck // best-effort release on exit

	session := server.NewSession(cfg, logger, nil)
	if err := session.Load(); err != nil {
		return err
	}

	if err := session.Refresh(ctx); err != nil {
		if errors.Is(err, auth.ErrNoCredential) || errors.Is(err, auth.ErrNoRefreshToken) {
			return errors.New("not signed in; start 'paperfs serve' and open the login URL")
		}

		return fmt.Errorf("refreshing credential: %w", err)
	}

	token, _ := session.AccessToken()
	client := graph.NewClient(graph.DefaultBaseURL, server.NewGraphHTTPClient(&cfg.Network), graph.StaticToken(token), logger)

	user, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("fetching user profile: %w", err)
	}

	out := whoamiOutput{ID: user.ID, DisplayName: user.DisplayName, Email: user.Email}

	return printWhoami(cmd.OutOrStdout(), out)
}

func printWhoami(w io.Writer, out whoamiOutput) error {
	if flagJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	_, err := fmt.Fprintf(w, "User: %s (%s)\nID:   %s\n", out.DisplayName, out.Email, out.ID)

	return err
}
