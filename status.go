package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/paperfs/internal/tokenfile"
)

// Credential state constants for status reporting.
const (
	credStateMissing = "missing"
	credStateExpired = "expired"
	credStateValid   = "valid"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted credential",
		Long: `Show whether a refresh token is persisted and when the last access
token expires. Reads the state file only; it never contacts Microsoft.`,
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	StateFile       string     `json:"state_file"`
	State           string     `json:"state"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	DAVURL          string     `json:"dav_url"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg

	st, err := tokenfile.Load(cfg.Auth.StateFile)
	if err != nil {
		return err
	}

	out := statusOutput{
		StateFile: cfg.Auth.StateFile,
		State:     credentialState(st, time.Now()),
		DAVURL:    davURL(cfg.Server.ExposedURL, cfg.Server.DAVPrefix),
	}

	if st != nil {
		out.HasRefreshToken = st.RefreshToken != ""

		if !st.ExpiresAt.IsZero() {
			exp := st.ExpiresAt
			out.ExpiresAt = &exp
		}
	}

	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	printStatusText(cmd.OutOrStdout(), out, time.Now())

	return nil
}

// credentialState classifies the persisted credential. A credential whose
// access token has expired is still usable while the refresh token lasts.
func credentialState(st *tokenfile.State, now time.Time) string {
	switch {
	case st == nil || st.RefreshToken == "":
		return credStateMissing
	case !st.ExpiresAt.IsZero() && now.After(st.ExpiresAt):
		return credStateExpired
	default:
		return credStateValid
	}
}

func printStatusText(w io.Writer, out statusOutput, now time.Time) {
	fmt.Fprintf(w, "State file: %s\n", out.StateFile)
	fmt.Fprintf(w, "Credential: %s\n", out.State)

	if out.ExpiresAt != nil {
		fmt.Fprintf(w, "Expires:    %s (%s)\n", formatTime(*out.ExpiresAt, now), formatUntil(*out.ExpiresAt, now))
	}

	fmt.Fprintf(w, "WebDAV URL: %s\n", out.DAVURL)

	if out.State == credStateMissing {
		fmt.Fprintln(w, "\nNot signed in. Start 'paperfs serve' and open the login URL.")
	}
}
