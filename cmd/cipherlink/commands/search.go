package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/app"
)

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find users by username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := app.LoadProfile(home)
			if err != nil {
				return err
			}
			wire.Relay.Token = profile.Token
			users, err := wire.Relay.SearchUsers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Println("No users found.")
				return nil
			}
			for _, u := range users {
				fmt.Printf("%s\t%s\n", u.ID, u.Username)
			}
			return nil
		},
	}
}
