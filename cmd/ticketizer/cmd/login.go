package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ticketizer/auth"
)

// credentials asks for whatever the flags and config do not supply.
func (a *app) credentials(c *console, username string) (*auth.Credentials, error) {
	username = firstNonEmpty(username, a.cfg.Account.Username)
	if username == "" {
		var err error
		if username, err = c.ask("Enter your username", ""); err != nil {
			return nil, err
		}
	}
	password, err := c.password("Enter your password")
	if err != nil {
		return nil, err
	}
	return auth.NewCredentials(username, password)
}

func newLoginCmd(a *app) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check that an account can log in",
		Long: `Log in with the given account, confirm the session with the backend and
log out again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newConsole(cmd.InOrStdin(), cmd.OutOrStdout())
			creds, err := a.credentials(c, username)
			if err != nil {
				return err
			}
			defer creds.Destroy()

			m := auth.New(a.newClient(), auth.WithLogger(a.logger))
			solver := c.captchaSolver(a.cfg.Purchase.CaptchaDir)
			return auth.WithSession(cmd.Context(), m, creds, solver, a.cfg.Purchase.CaptchaRetries, func(ctx context.Context) error {
				if err := m.Refresh(ctx); err != nil {
					return err
				}
				if !m.LoggedIn() {
					return fmt.Errorf("the backend dropped the session right after login")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in with username: %s\n", m.Username())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Account name (default from config)")
	return cmd
}
