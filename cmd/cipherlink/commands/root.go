// Package commands implements the cipherlink CLI.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/app"
)

var (
	home       string
	passphrase string
	relayURL   string

	wire *app.Wire
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "cipherlink",
		Short:         "End-to-end encrypted chat and file transfer CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".cipherlink")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}
			log := logrus.New()
			log.SetLevel(logrus.WarnLevel)
			wire = app.NewWire(app.Config{Home: home, RelayURL: relayURL, Logger: log})
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.cipherlink)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting local keys")
	root.PersistentFlags().StringVar(&relayURL, "relay", "http://127.0.0.1:8080", "relay base URL")

	root.AddCommand(
		registerCmd(),
		loginCmd(),
		whoamiCmd(),
		searchCmd(),
		sendCmd(),
		recvCmd(),
		sendFileCmd(),
		getFileCmd(),
	)
	return root.Execute()
}

func requirePassphrase() error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required (-p)")
	}
	return nil
}
