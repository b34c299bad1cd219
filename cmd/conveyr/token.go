package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/conveyr/adapters/auth"
	"github.com/artpar/conveyr/config"
)

var (
	tokenSubject string
	tokenActions []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP channel",
	Long: `Mint a bearer token signed with server.auth_secret.

Tokens limited with --actions may only invoke those actions; every token
may read stores.

Example:
  conveyr token --subject deploy-bot --actions increment,reset --ttl 1h`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "token subject")
	tokenCmd.Flags().StringSliceVar(&tokenActions, "actions", nil, "actions the token may invoke (default: all)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: server.token_ttl)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Server.AuthSecret == "" {
		return errors.New("server.auth_secret is not set")
	}

	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.Server.TokenTTL
	}

	token, expiresAt, err := auth.NewTokenService(cfg.Server.AuthSecret, ttl).GenerateToken(tokenSubject, tokenActions)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
