package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/app"
)

func loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the relay and refresh the local token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return fmt.Errorf("username and password required")
			}
			resp, err := wire.Relay.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if err := app.SaveProfile(home, app.Profile{
				ServerURL: relayURL,
				UserID:    resp.User.ID,
				Username:  resp.User.Username,
				Token:     resp.Token,
			}); err != nil {
				return err
			}
			fmt.Printf("Logged in as %s.\n", resp.User.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}
