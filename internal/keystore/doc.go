// Package keystore persists the client's private material under a
// password-derived key: the long-term identity private half, active
// ephemeral exchange privates, and cached session keys.
//
// Every stored blob carries its own 16-byte salt and 12-byte IV. The
// encoded layout is base64(iv ‖ AES-256-GCM(wrapping-key, iv, plaintext))
// with the salt as a separate base64 field; the wrapping key is
// PBKDF2-SHA256 over the password with 100 000 iterations.
//
// Exchange privates older than ten minutes and session keys older than an
// hour are treated as absent on load and removed opportunistically.
package keystore
