package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/app"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

func recvCmd() *cobra.Command {
	var peer string
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt the conversation with a peer",
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

			records, err := wire.Relay.Conversation(cmd.Context(), peerID)
			if err != nil {
				return err
			}
			for _, rec := range records {
				when := time.UnixMilli(rec.Timestamp).Format(time.RFC3339)
				who := "them"
				if rec.SenderID == profile.UserID {
					who = "me"
				}
				plaintext, err := wire.Codec.DecryptMessage(sess.Key, rec)
				if err != nil {
					// Competing handshakes can leave a short interval of
					// records under a key we no longer hold.
					fmt.Printf("%s %s: [undecipherable]\n", when, who)
					continue
				}
				fmt.Printf("%s %s: %s\n", when, who, plaintext)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "peer user id")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}
