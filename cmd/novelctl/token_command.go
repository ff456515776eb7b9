package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	sharedMiddleware "novel-workflow/shared/middleware"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var validity time.Duration
	cmd := &cobra.Command{
		Use:   "token <userId>",
		Short: "Sign a development JWT for calling the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.config.RequireJWT(); err != nil {
				return err
			}
			token, err := sharedMiddleware.GenerateTestJWT(args[0], ctx.config.JWTSecret, validity)
			if err != nil {
				return err
			}
			if ctx.config.JWTIssuer != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: token has no iss claim, JWT_ISSUER=%q will reject it\n", ctx.config.JWTIssuer)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&validity, "ttl", time.Hour, "Token lifetime")
	return cmd
}
