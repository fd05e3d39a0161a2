package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"spacehub/internal/auth"
)

func createTokenCmd() *cobra.Command {
	var (
		id     auth.Identity
		secret string
		expiry time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a client token for local testing",
		Long: `Print a signed token for the given identity. The secret defaults to
JWT_SECRET from the environment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = env.ToMap(os.Environ())["JWT_SECRET"]
			}
			tok, err := auth.CreateToken(id, auth.TokenConfig{Secret: secret, Expiry: expiry, Issuer: "spacehub"})
			if err != nil {
				color.Red("❌ %v", err)
				return err
			}
			color.Green("✅ token for user %d (%s) in world %q", id.UserID, id.Name, id.World)
			if id.IsAdmin() {
				color.Yellow("   carries the admin tag")
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().Int64Var(&id.UserID, "uid", 0, "User id")
	cmd.Flags().StringVar(&id.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&id.World, "world", "", "World the user belongs to")
	cmd.Flags().StringSliceVar(&id.Tags, "tag", nil, "Tag to grant (repeatable)")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to JWT_SECRET)")
	cmd.Flags().DurationVar(&expiry, "expiry", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("uid")
	_ = cmd.MarkFlagRequired("world")

	return cmd
}
