package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/robot-control/rcp/internal/auth"
)

var (
	tokenSecret string
	tokenUser   string
	tokenLevel  int
	tokenRoles  []string
	tokenScopes []string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an HS256 bearer token for development",
	RunE: func(cmd *cobra.Command, _ []string) error {
		secret := tokenSecret
		if secret == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			secret = cfg.Auth.SecretKey
		}
		if tokenUser == "" {
			return fmt.Errorf("--user is required")
		}

		signed, err := auth.IssueHS256(secret, auth.Claims{
			Subject:     tokenUser,
			Roles:       tokenRoles,
			Scopes:      tokenScopes,
			AccessLevel: tokenLevel,
		}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signed)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "HS256 secret (default: auth.secretKey from config or $RCP_AUTH_SECRET)")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "Token subject")
	tokenCmd.Flags().IntVar(&tokenLevel, "level", 2, "Access level")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "roles", []string{auth.RoleOperator}, "Roles (viewer, operator, admin)")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scopes",
		[]string{auth.ScopeRead, auth.ScopeControl, auth.ScopeTelemetry}, "Scopes")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "Token lifetime, 0 for no expiry")
}
