// Package crypto exposes the primitives used by Cipherlink.
//
// Contents
//
//   - Long-term identity key generation, PSS signing and verification
//     (GenerateIdentity, Identity.Sign, VerifySignature)
//   - Ephemeral P-256 exchange pairs and shared-secret computation
//     (GenerateExchangePair, SharedSecret)
//   - The canonical byte form handshake signatures cover (SigningBytes)
//   - The key-confirmation hash (ConfirmationHash)
//
// # Notes
//
// Serialized key forms are platform-portable ASN.1: SubjectPublicKeyInfo
// for public halves, PKCS#8 for private halves. Callers should treat
// returned private material as sensitive and rely on memzero.Zero when
// practical to reduce its lifetime in memory.
package crypto
