package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"

	"github.com/samber/oops"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

const (
	identityBits = 2048
	pssSaltLen   = 32
)

// Identity is a long-term signing key pair. The algorithm tag is fixed at
// creation and travels with the persisted private blob; import and signing
// check it and never fall back to another algorithm. VerifySignature takes
// no tag and always verifies PSS/SHA-256.
type Identity struct {
	Algorithm domain.SigningAlgorithm
	Private   *rsa.PrivateKey
}

// GenerateIdentity returns a fresh 2048-bit RSA identity intended for
// PSS/SHA-256 signatures with salt length 32.
func GenerateIdentity() (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, identityBits)
	if err != nil {
		return nil, oops.Code(domain.CodeInternal).Wrapf(err, "generate identity key")
	}
	return &Identity{Algorithm: domain.AlgRSAPSS2048, Private: key}, nil
}

// Sign signs msg with PSS/SHA-256, salt length 32.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	if id.Algorithm != domain.AlgRSAPSS2048 {
		return nil, oops.Code(domain.CodeLegacyFormat).
			Errorf("identity key has retired purpose %q", id.Algorithm)
	}
	digest := sha256.Sum256(msg)
	return rsa.SignPSS(rand.Reader, id.Private, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: pssSaltLen,
		Hash:       crypto.SHA256,
	})
}

// ExportPublic serializes the public half as SubjectPublicKeyInfo.
func (id *Identity) ExportPublic() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&id.Private.PublicKey)
	if err != nil {
		return nil, oops.Code(domain.CodeInternal).Wrap(err)
	}
	return der, nil
}

// ExportPublicBase64 is ExportPublic in the form the relay stores.
func (id *Identity) ExportPublicBase64() (string, error) {
	der, err := id.ExportPublic()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ExportPrivate serializes the private half as PKCS#8.
func (id *Identity) ExportPrivate() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(id.Private)
	if err != nil {
		return nil, oops.Code(domain.CodeInternal).Wrap(err)
	}
	return der, nil
}

// ImportPrivate reconstructs an identity from a PKCS#8 blob and its
// persisted algorithm tag. A tag naming a retired purpose, or a blob that
// decodes to a non-RSA key, surfaces legacy-format.
func ImportPrivate(alg domain.SigningAlgorithm, der []byte) (*Identity, error) {
	if alg != domain.AlgRSAPSS2048 {
		return nil, oops.Code(domain.CodeLegacyFormat).
			Errorf("identity blob tagged with retired purpose %q", alg)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, oops.Code(domain.CodeWrongPasswordOrCorrupt).Wrapf(err, "parse identity private key")
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, oops.Code(domain.CodeLegacyFormat).
			Errorf("identity blob holds a %T, not an RSA key", key)
	}
	return &Identity{Algorithm: alg, Private: rsaKey}, nil
}

// ImportPublic parses a SubjectPublicKeyInfo identity public key.
func ImportPublic(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, oops.Code(domain.CodeBadSignature).Wrapf(err, "parse identity public key")
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, oops.Code(domain.CodeLegacyFormat).
			Errorf("identity public key is a %T, not RSA", key)
	}
	return pub, nil
}

// ImportPublicBase64 parses the relay's base64 SubjectPublicKeyInfo form.
func ImportPublicBase64(s string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, oops.Code(domain.CodeBadSignature).Wrapf(err, "decode identity public key")
	}
	return ImportPublic(der)
}

// VerifySignature checks a PSS/SHA-256 signature over msg.
func VerifySignature(pub *rsa.PublicKey, msg, sig []byte) error {
	digest := sha256.Sum256(msg)
	err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: pssSaltLen,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return oops.Code(domain.CodeBadSignature).Wrapf(err, "verify signature")
	}
	return nil
}
