package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/samber/oops"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

// SigningBytes builds the canonical byte sequence handshake signatures
// cover: a JSON object with exactly the fields type, fromUserId, toUserId,
// publicKey, timestamp in that order, with a single space after each colon
// and comma. Both peers must produce and verify the identical bytes, so
// the layout is fixed here rather than left to a marshaller.
func SigningBytes(typ domain.HandshakeType, from, to domain.UserID, publicKey string, timestamp int64) []byte {
	return []byte(fmt.Sprintf(
		`{"type": %s, "fromUserId": %s, "toUserId": %s, "publicKey": %s, "timestamp": %d}`,
		jsonString(string(typ)),
		jsonString(string(from)),
		jsonString(string(to)),
		jsonString(publicKey),
		timestamp,
	))
}

// SignHandshake fills in the detached signature for a handshake flight.
func SignHandshake(id *Identity, msg *domain.HandshakeMessage) error {
	sig, err := id.Sign(SigningBytes(msg.Type, msg.FromUserID, msg.ToUserID, msg.PublicKey, msg.Timestamp))
	if err != nil {
		return err
	}
	msg.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// VerifyHandshake checks a flight's detached signature against the
// claimed sender's registered identity public key.
func VerifyHandshake(publicKeyBase64 string, msg *domain.HandshakeMessage) error {
	pub, err := ImportPublicBase64(publicKeyBase64)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil {
		return oops.Code(domain.CodeBadSignature).Wrapf(err, "decode signature")
	}
	return VerifySignature(pub, SigningBytes(msg.Type, msg.FromUserID, msg.ToUserID, msg.PublicKey, msg.Timestamp), sig)
}

// ConfirmationHash is the value a CONFIRM flight carries: SHA-256 over the
// fixed confirmation transcript for the given direction and instant.
func ConfirmationHash(from, to domain.UserID, timestamp int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("KEY-CONFIRMED:%s:%s:%d", from, to, timestamp)))
	return hex.EncodeToString(sum[:])
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
