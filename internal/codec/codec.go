// Package codec produces and consumes the encrypted records Cipherlink
// ships through the relay: single messages and chunked files.
//
// All encryption is AES-256-GCM with a fresh random 12-byte IV and a
// 16-byte tag per operation. Alongside each message the codec emits the
// replay-protection triple (nonce, timestamp, sequence number) that the
// relay's gate consumes. The nonce is a random 16-byte token and is not
// the AEAD IV.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/protocol/sessionkey"
)

const (
	ivBytes    = 12
	tagBytes   = 16
	nonceBytes = 16

	// ChunkSize is the plaintext size of one file chunk.
	ChunkSize = 1 << 20

	// staleAfter is the age past which DecryptMessage logs a diagnostic
	// warning. Freshness enforcement itself is the relay gate's job.
	staleAfter = 10 * time.Minute
)

// Codec encrypts and decrypts conversation payloads. Sequence numbers come
// from the ring so that every send on a conversation is strictly ordered.
type Codec struct {
	ring *sessionkey.Ring
	log  *logrus.Logger
	now  func() time.Time
}

// New returns a Codec drawing sequence numbers from ring. The logger only
// ever receives redacted diagnostics, never plaintext or key material.
func New(ring *sessionkey.Ring, log *logrus.Logger) *Codec {
	if log == nil {
		log = logrus.New()
	}
	return &Codec{ring: ring, log: log, now: time.Now}
}

// EncryptMessage seals plaintext under the session key and emits the
// replay triple for the given conversation.
func (c *Codec) EncryptMessage(key []byte, conv domain.ConversationID, plaintext string) (domain.CipherRecord, error) {
	aead, err := newGCM(key)
	if err != nil {
		return domain.CipherRecord{}, err
	}
	iv := make([]byte, ivBytes)
	if _, err := rand.Read(iv); err != nil {
		return domain.CipherRecord{}, oops.Code(domain.CodeInternal).Wrap(err)
	}
	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)

	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return domain.CipherRecord{}, oops.Code(domain.CodeInternal).Wrap(err)
	}

	return domain.CipherRecord{
		Ciphertext:     sealed[:len(sealed)-tagBytes],
		IV:             iv,
		Tag:            sealed[len(sealed)-tagBytes:],
		Timestamp:      c.now().UnixMilli(),
		SequenceNumber: c.ring.NextSequence(conv),
		Nonce:          base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// DecryptMessage validates the record's structure and opens it. It does
// not enforce freshness or sequence order; the relay gate already has.
func (c *Codec) DecryptMessage(key []byte, rec domain.CipherRecord) (string, error) {
	if rec.Nonce == "" || rec.Timestamp == 0 || rec.SequenceNumber == 0 {
		return "", oops.Code(domain.CodeMissingReplayFields).Errorf("record lacks replay fields")
	}
	if err := checkNonceSyntax(rec.Nonce); err != nil {
		return "", err
	}
	if age := c.now().Sub(time.UnixMilli(rec.Timestamp)); age > staleAfter {
		c.log.WithFields(logrus.Fields{
			"age_ms":   age.Milliseconds(),
			"sequence": rec.SequenceNumber,
		}).Warn("decrypting record older than ten minutes")
	}

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(rec.IV) != ivBytes || len(rec.Tag) != tagBytes {
		return "", oops.Code(domain.CodeUndecipherable).Errorf("record rejected")
	}
	plaintext, err := aead.Open(nil, rec.IV, append(append([]byte{}, rec.Ciphertext...), rec.Tag...), nil)
	if err != nil {
		// Key and ciphertext faults are deliberately indistinguishable.
		return "", oops.Code(domain.CodeUndecipherable).Errorf("record rejected")
	}
	return string(plaintext), nil
}

// checkNonceSyntax enforces base64 syntax and a minimum of 16 encoded
// characters.
func checkNonceSyntax(nonce string) error {
	if len(nonce) < 16 {
		return oops.Code(domain.CodeBadNonce).Errorf("nonce too short")
	}
	if _, err := base64.StdEncoding.DecodeString(nonce); err != nil {
		return oops.Code(domain.CodeBadNonce).Errorf("nonce is not base64")
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, oops.Code(domain.CodeInternal).Wrap(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, oops.Code(domain.CodeInternal).Wrap(err)
	}
	return aead, nil
}
