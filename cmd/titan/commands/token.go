package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/titanworks/titan/pkg/api"
)

func newTokenCommand() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an approver token for the HTTP API",
		Long: `Issue an HS256 bearer token signed with the configured api.jwt_secret.

The subject is recorded as the approver of every decision made with the
token. The role defaults to api.approver_role.`,
		Example: `  # Token for alice, valid for 8 hours
  TITAN_JWT_SECRET=... titan token --sub alice --ttl 8h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.API.JWTSecret == "" {
				return errors.New("no JWT secret configured (api.jwt_secret or TITAN_JWT_SECRET)")
			}
			if role == "" {
				role = cfg.API.ApproverRole
			}

			now := time.Now()
			claims := api.Claims{
				Role: role,
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   subject,
					Issuer:    "titan",
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				},
			}
			token, err := api.IssueToken([]byte(cfg.API.JWTSecret), claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "sub", "", "approver name (token subject)")
	cmd.Flags().StringVar(&role, "role", "", "role claim (default: api.approver_role)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")

	return cmd
}
