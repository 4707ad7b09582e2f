package commands

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/app"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

func sendFileCmd() *cobra.Command {
	var peer string
	cmd := &cobra.Command{
		Use:   "send-file <path>",
		Short: "Encrypt a file in chunks and upload it for a peer",
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
			peerID := domain.UserID(peer)

			sess, err := openSession(cmd.Context(), profile.UserID, peerID)
			if err != nil {
				return err
			}
			if sess == nil {
				fmt.Println("Key exchange started; run the command again once the peer has come online.")
				return nil
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			name := filepath.Base(args[0])
			mimeType := mime.TypeByExtension(filepath.Ext(name))
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}
			env, err := wire.Codec.EncryptFile(sess.Key, peerID, name, mimeType, data)
			if err != nil {
				return err
			}
			id, err := wire.Relay.UploadFile(cmd.Context(), env)
			if err != nil {
				return err
			}
			fmt.Printf("Uploaded %s (%d bytes, %d chunks) as %s.\n", name, len(data), env.TotalChunks, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "recipient user id")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}
