package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/app"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/crypto"
)

func registerCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account, generate identity keys and store them securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if username == "" || password == "" {
				return fmt.Errorf("username and password required")
			}

			id, err := crypto.GenerateIdentity()
			if err != nil {
				return err
			}
			pub, err := id.ExportPublicBase64()
			if err != nil {
				return err
			}
			resp, err := wire.Relay.Register(cmd.Context(), username, password, pub)
			if err != nil {
				return err
			}
			if err := wire.Keys.StoreIdentityPrivate(resp.User.ID, id, passphrase); err != nil {
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

			der, err := id.ExportPublic()
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s (%s).\nIdentity fingerprint: %s\n",
				resp.User.Username, resp.User.ID, crypto.Fingerprint(der))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}
