package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulse-agent/internal/session"
)

var (
	authEmail    string
	authPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		pair, err := a.client.Login(cmd.Context(), authEmail, authPassword)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		creds := session.Credentials{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}
		if err := a.sessions.SetCredentials(cmd.Context(), creds); err != nil {
			return err
		}

		cmd.Printf("Logged in as %s\n", authEmail)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		pair, err := a.client.Register(cmd.Context(), authEmail, authPassword)
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		creds := session.Credentials{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}
		if err := a.sessions.SetCredentials(cmd.Context(), creds); err != nil {
			return err
		}

		cmd.Printf("Registered and logged in as %s\n", authEmail)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored session tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.sessions.Clear(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the account the stored session belongs to",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.requireLogin(); err != nil {
			return err
		}

		user, err := a.client.Me(cmd.Context())
		if err != nil {
			return err
		}

		cmd.Printf("%s (id %d)\n", user.Email, user.ID)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{loginCmd, registerCmd} {
		cmd.Flags().StringVarP(&authEmail, "email", "e", "", "account email")
		cmd.Flags().StringVarP(&authPassword, "password", "p", "", "account password")
		_ = cmd.MarkFlagRequired("email")
		_ = cmd.MarkFlagRequired("password")
	}

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd)
}
