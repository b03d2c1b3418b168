package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/promptvault/internal/auth"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for a user",
	Long: `Mint an HS256 bearer token signed with JWT_SECRET.

Examples:
  promptctl token --user 6f1c...            # token with the configured TTL
  promptctl token --user 6f1c... --ttl 1h   # short-lived token
  promptctl token --new-user                # token for a fresh user id`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("JWT_SECRET is required")
		}

		userID, err := resolveTokenUser(cmd)
		if err != nil {
			return err
		}
		ttl := cfg.Auth.TokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}

		token, err := auth.GenerateToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, userID, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id to put in the token subject")
	tokenCmd.Flags().Bool("new-user", false, "generate a random user id")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: JWT_TOKEN_TTL)")
	tokenCmd.MarkFlagsMutuallyExclusive("user", "new-user")
	tokenCmd.MarkFlagsOneRequired("user", "new-user")
}

func resolveTokenUser(cmd *cobra.Command) (uuid.UUID, error) {
	if fresh, _ := cmd.Flags().GetBool("new-user"); fresh {
		id := uuid.New()
		fmt.Fprintf(cmd.ErrOrStderr(), "user: %s\n", id)
		return id, nil
	}
	id, err := uuid.Parse(tokenUser)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --user: %w", err)
	}
	return id, nil
}
