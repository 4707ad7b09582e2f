package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/app"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/protocol/handshake"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/protocol/sessionkey"
)

func sendCmd() *cobra.Command {
	var peer string
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send an encrypted message to a peer",
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

			rec, err := wire.Codec.EncryptMessage(sess.Key, domain.Conversation(profile.UserID, peerID), args[0])
			if err != nil {
				return err
			}
			rec.RecipientID = peerID
			if err := wire.Relay.SendMessage(cmd.Context(), rec); err != nil {
				// Rejection reasons stay in the logs; the user never sees
				// which gate layer fired.
				wire.Log.WithField("code", domain.CodeOf(err)).Debug("send rejected")
				return fmt.Errorf("message could not be sent")
			}
			fmt.Printf("Sent (sequence %d).\n", rec.SequenceNumber)
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "recipient user id")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}

// openSession resolves a session with the peer, returning nil when the
// handshake is parked awaiting the peer's response.
func openSession(ctx context.Context, self, peer domain.UserID) (*sessionkey.Session, error) {
	engine := wire.Engine(self, passphrase)
	state, err := engine.Open(ctx, peer)
	if err != nil {
		wire.Log.WithField("code", domain.CodeOf(err)).Debug("handshake failed")
		return nil, fmt.Errorf("secure session could not be established")
	}
	switch state {
	case handshake.StateEstablished:
		sess, ok := engine.SessionFor(peer)
		if !ok {
			return nil, fmt.Errorf("secure session could not be established")
		}
		return &sess, nil
	case handshake.StateAwaitingResponse:
		return nil, nil
	default:
		return nil, fmt.Errorf("secure session could not be established")
	}
}
