package main

import (
	"fmt"
	"io"
	"time"

	"creator-payments/internal/auth"
	"creator-payments/internal/config"
	"creator-payments/internal/rbac"

	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue access tokens for operators and integration tests",
	}

	var userID, role string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Print a signed access and refresh token pair",
		Long: `Issue a token pair signed with JWT_SECRET.

Examples:
  ledgerctl token issue --user seller-1 --role seller
  ledgerctl token issue --user ops-1 --role admin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return issueToken(cmd.OutOrStdout(), cfg.Auth, userID, role, time.Now())
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "user id to embed in the token (required)")
	issue.Flags().StringVar(&role, "role", rbac.RoleSeller, "role to embed in the token")
	_ = issue.MarkFlagRequired("user")

	cmd.AddCommand(issue)
	return cmd
}

func issueToken(w io.Writer, cfg config.AuthConfig, userID, role string, now time.Time) error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	if !rbac.Known(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	m, err := auth.NewManager(cfg)
	if err != nil {
		return err
	}
	pair, err := m.IssuePair(now, userID, role)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "access_token=%s\nrefresh_token=%s\n", pair.AccessToken, pair.RefreshToken)
	return nil
}
