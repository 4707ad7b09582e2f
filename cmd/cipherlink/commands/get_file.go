package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/app"
)

func getFileCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get-file <id>",
		Short: "Download and decrypt a file by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			profile, err := app.LoadProfile(home)
			if err != nil {
				return err
			}
			wire.Relay.Token = profile.Token

			env, err := wire.Relay.GetFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			peerID := env.SenderID
			if peerID == profile.UserID {
				peerID = env.RecipientID
			}
			sess, err := openSession(cmd.Context(), profile.UserID, peerID)
			if err != nil {
				return err
			}
			if sess == nil {
				return fmt.Errorf("no session with %s yet", peerID)
			}

			data, err := wire.Codec.DecryptFile(sess.Key, env)
			if err != nil {
				return err
			}
			if out == "" {
				out = env.FileName
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d bytes, %s).\n", out, len(data), env.MimeType)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default: original file name)")
	return cmd
}
