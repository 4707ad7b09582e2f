package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

// ExchangeTTL is how long an ephemeral pair stays usable before the
// keystore treats it as absent.
const ExchangeTTL = 10 * time.Minute

// ExchangePair is a short-lived P-256 key pair, one per handshake role.
type ExchangePair struct {
	ID        string
	Private   *ecdh.PrivateKey
	CreatedAt time.Time
}

// GenerateExchangePair returns a fresh ephemeral P-256 pair.
func GenerateExchangePair() (*ExchangePair, error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, oops.Code(domain.CodeInternal).Wrapf(err, "generate exchange pair")
	}
	return &ExchangePair{
		ID:        uuid.NewString(),
		Private:   key,
		CreatedAt: time.Now(),
	}, nil
}

// Expired reports whether the pair is past its lifetime at the given instant.
func (p *ExchangePair) Expired(now time.Time) bool {
	return now.Sub(p.CreatedAt) > ExchangeTTL
}

// PublicBase64 serializes the public half as base64 SubjectPublicKeyInfo,
// the form carried in handshake flights.
func (p *ExchangePair) PublicBase64() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(p.Private.PublicKey())
	if err != nil {
		return "", oops.Code(domain.CodeInternal).Wrap(err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ExportExchangePrivate serializes the private half as PKCS#8.
func ExportExchangePrivate(p *ExchangePair) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(p.Private)
	if err != nil {
		return nil, oops.Code(domain.CodeInternal).Wrap(err)
	}
	return der, nil
}

// ImportExchangePrivate reverses ExportExchangePrivate.
func ImportExchangePrivate(id string, der []byte, createdAt time.Time) (*ExchangePair, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, oops.Code(domain.CodeWrongPasswordOrCorrupt).Wrapf(err, "parse exchange private key")
	}
	var priv *ecdh.PrivateKey
	switch k := key.(type) {
	case *ecdh.PrivateKey:
		priv = k
	case *ecdsa.PrivateKey:
		priv, err = k.ECDH()
		if err != nil {
			return nil, oops.Code(domain.CodeInternal).Wrap(err)
		}
	default:
		return nil, oops.Code(domain.CodeLegacyFormat).
			Errorf("exchange blob holds a %T, not a P-256 key", key)
	}
	return &ExchangePair{ID: id, Private: priv, CreatedAt: createdAt}, nil
}

// ImportExchangePublicBase64 parses a peer's base64 SubjectPublicKeyInfo
// ephemeral public key.
func ImportExchangePublicBase64(s string) (*ecdh.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, oops.Code(domain.CodeBadSignature).Wrapf(err, "decode exchange public key")
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, oops.Code(domain.CodeBadSignature).Wrapf(err, "parse exchange public key")
	}
	switch k := key.(type) {
	case *ecdh.PublicKey:
		return k, nil
	case *ecdsa.PublicKey:
		pub, err := k.ECDH()
		if err != nil {
			return nil, oops.Code(domain.CodeBadSignature).Wrap(err)
		}
		return pub, nil
	default:
		return nil, oops.Code(domain.CodeBadSignature).
			Errorf("exchange public key is a %T, not a P-256 key", key)
	}
}

// SharedSecret computes the raw ECDH shared secret between our private and
// the peer's public half.
func SharedSecret(p *ExchangePair, peer *ecdh.PublicKey) ([]byte, error) {
	z, err := p.Private.ECDH(peer)
	if err != nil {
		return nil, oops.Code(domain.CodeBadSignature).Wrapf(err, "compute shared secret")
	}
	return z, nil
}
