package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/repository"
	"github.com/noah-isme/trn-registry-api/internal/service"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage one-time TRN tokens",
}

var tokenTrn, tokenEmail string

var tokensIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a TRN token; the value is printed once and only its digest is stored",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens := service.NewTrnTokenService(
			repository.NewTrnTokenRepository(db),
			db,
			cfg.TrnTokens.DigestKey,
			cfg.TrnTokens.TTL,
			repository.NewAuditRepository(db),
			logr.Named("tokens"),
		)
		value, token, err := tokens.Issue(cmd.Context(), tokenTrn, tokenEmail, actor)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "token:   %s\nexpires: %s\n", value, token.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Issue API credentials",
}

var (
	authSubject string
	authRole    string
	authEmail   string
)

var authTokenCmd = &cobra.Command{
	Use:         "token",
	Short:       "Mint a bearer token for a staff member or API caller",
	Annotations: map[string]string{"offline": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		auth := service.NewAuthService(logr.Named("auth"), service.AuthConfig{
			AccessTokenSecret: cfg.JWT.Secret,
			AccessTokenExpiry: cfg.JWT.Expiration,
			Issuer:            "trn-registry",
			Audience:          []string{"trn-registry-api"},
		})
		token, expires, err := auth.IssueToken(authSubject, models.UserRole(authRole), authEmail)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires %s\n", token, expires.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokensIssueCmd.Flags().StringVar(&tokenTrn, "trn", "", "TRN the token resolves to")
	tokensIssueCmd.Flags().StringVar(&tokenEmail, "email", "", "address the token was sent to")
	_ = tokensIssueCmd.MarkFlagRequired("trn")
	tokensCmd.AddCommand(tokensIssueCmd)

	authTokenCmd.Flags().StringVar(&authSubject, "subject", "", "user or caller id")
	authTokenCmd.Flags().StringVar(&authRole, "role", string(models.RoleSupportOfficer), "SUPPORT_OFFICER, ADMIN or API_CLIENT")
	authTokenCmd.Flags().StringVar(&authEmail, "email", "", "optional email claim")
	_ = authTokenCmd.MarkFlagRequired("subject")
	authCmd.AddCommand(authTokenCmd)
}
