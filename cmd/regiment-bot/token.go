package main

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/regiment/internal/auth"
	"github.com/MarcoPoloResearchLab/regiment/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newIssueTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print an operator token for the operations API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			authConfig, err := config.LoadAuth(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(authConfig.SigningSecret),
				Issuer:        authConfig.Issuer,
				Audience:      authConfig.Audience,
				TokenTTL:      authConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Operator name recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime; defaults to auth.token_ttl")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
