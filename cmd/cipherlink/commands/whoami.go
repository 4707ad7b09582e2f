package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/app"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/crypto"
)

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the local account and identity fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := app.LoadProfile(home)
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s) @ %s\n", profile.Username, profile.UserID, profile.ServerURL)

			if passphrase != "" {
				id, err := wire.Keys.LoadIdentityPrivate(profile.UserID, passphrase)
				if err != nil {
					return err
				}
				der, err := id.ExportPublic()
				if err != nil {
					return err
				}
				fmt.Printf("Identity fingerprint: %s\n", crypto.Fingerprint(der))
			}
			return nil
		},
	}
}
