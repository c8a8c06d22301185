package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/torosent/leash/internal/settings"
)

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the token kept in the settings file",
	}
	cmd.AddCommand(newTokenSetCmd(a))
	return cmd
}

func newTokenSetCmd(a *app) *cobra.Command {
	var accessor string
	cmd := &cobra.Command{
		Use:   "set SECRET",
		Short: "Store SECRET in the file named by --token-file",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = a.runE(func(cmd *cobra.Command, args []string) error {
		return a.saveToken(cmd.Context(), settings.Token{
			AccessorID: strings.TrimSpace(accessor),
			SecretID:   strings.TrimSpace(args[0]),
		})
	})
	cmd.Flags().StringVar(&accessor, "accessor", "", "Accessor ID stored alongside the secret")
	return cmd
}

func (a *app) saveToken(ctx context.Context, token settings.Token) error {
	if a.cfg.TokenFile == "" {
		return errors.New("token set: --token-file is required")
	}
	if token.SecretID == "" {
		return errors.New("token set: secret cannot be empty")
	}
	if err := settings.NewFileStore(a.cfg.TokenFile).Save(ctx, token); err != nil {
		return err
	}
	a.logger.Debug("token saved", "path", a.cfg.TokenFile)
	fmt.Fprintf(a.stdout, "token saved to %s\n", a.cfg.TokenFile)
	return nil
}
