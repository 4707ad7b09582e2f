package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/samber/oops"
	"golang.org/x/crypto/pbkdf2"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/util/memzero"
)

const (
	saltBytes = 16
	ivBytes   = 12
	keyBytes  = 32
	kdfRounds = 100_000
)

// envelope is the on-disk form of one wrapped secret.
type envelope struct {
	Salt string `json:"salt"`
	Blob string `json:"blob"` // base64(iv ‖ ciphertext ‖ tag)
}

// wrap seals plaintext under a key derived from the password and a fresh salt.
func wrap(password string, plaintext []byte) (envelope, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return envelope{}, oops.Code(domain.CodeInternal).Wrap(err)
	}
	key := pbkdf2.Key([]byte(password), salt, kdfRounds, keyBytes, sha256.New)
	defer memzero.Zero(key)

	aead, err := newGCM(key)
	if err != nil {
		return envelope{}, err
	}
	iv := make([]byte, ivBytes)
	if _, err := rand.Read(iv); err != nil {
		return envelope{}, oops.Code(domain.CodeInternal).Wrap(err)
	}
	sealed := aead.Seal(nil, iv, plaintext, nil)
	return envelope{
		Salt: base64.StdEncoding.EncodeToString(salt),
		Blob: base64.StdEncoding.EncodeToString(append(iv, sealed...)),
	}, nil
}

// unwrap opens an envelope. A tag mismatch is indistinguishable from
// tampering and surfaces the single wrong-password-or-corrupt code.
func unwrap(password string, env envelope) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil || len(salt) != saltBytes {
		return nil, oops.Code(domain.CodeWrongPasswordOrCorrupt).Errorf("malformed salt")
	}
	raw, err := base64.StdEncoding.DecodeString(env.Blob)
	if err != nil || len(raw) < ivBytes {
		return nil, oops.Code(domain.CodeWrongPasswordOrCorrupt).Errorf("malformed blob")
	}
	key := pbkdf2.Key([]byte(password), salt, kdfRounds, keyBytes, sha256.New)
	defer memzero.Zero(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, raw[:ivBytes], raw[ivBytes:], nil)
	if err != nil {
		return nil, oops.Code(domain.CodeWrongPasswordOrCorrupt).Errorf("unwrap failed")
	}
	return plaintext, nil
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
