package domain

import (
	"sort"
	"time"
)

// UserID identifies a relay-registered account.
type UserID string

// String returns the string form of the user id.
func (u UserID) String() string { return string(u) }

// ConversationID identifies the unordered pair of users in a conversation.
type ConversationID string

// String returns the string form of the conversation identifier.
func (id ConversationID) String() string { return string(id) }

// Conversation returns the canonical identifier for the unordered pair
// {a, b}. Both peers and the relay derive the same value regardless of
// direction.
func Conversation(a, b UserID) ConversationID {
	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	return ConversationID(ids[0] + ":" + ids[1])
}

// User is the public face of an account as the relay reports it.
type User struct {
	ID        UserID `json:"id"`
	Username  string `json:"username"`
	PublicKey string `json:"publicKey,omitempty"`
}

// SigningAlgorithm tags the identity key purpose. It is fixed at identity
// creation, persisted with the private blob, and checked on import and on
// signing. Verification takes no tag and always uses PSS/SHA-256. There is
// no fallback between algorithms.
type SigningAlgorithm string

const (
	// AlgRSAPSS2048 is the current identity algorithm: RSA-2048 with
	// PSS/SHA-256 signatures, salt length 32.
	AlgRSAPSS2048 SigningAlgorithm = "rsa-pss-2048"

	// AlgLegacyRSAOAEP is a retired key purpose. Blobs carrying it are
	// refused at import; callers see CodeLegacyFormat.
	AlgLegacyRSAOAEP SigningAlgorithm = "rsa-oaep-2048"
)

// HandshakeType discriminates the three handshake wire messages.
type HandshakeType string

const (
	HandshakeInitiate HandshakeType = "INITIATE"
	HandshakeRespond  HandshakeType = "RESPOND"
	HandshakeConfirm  HandshakeType = "CONFIRM"
)

// HandshakeMessage is one signed handshake flight. PublicKey is base64 of
// the SubjectPublicKeyInfo encoding of the sender's ephemeral P-256 public
// key; Signature covers the canonical serialization of the five signed
// fields (see crypto.SigningBytes).
type HandshakeMessage struct {
	Type       HandshakeType `json:"type"`
	FromUserID UserID        `json:"fromUserId"`
	ToUserID   UserID        `json:"toUserId"`
	PublicKey  string        `json:"publicKey"`
	Timestamp  int64         `json:"timestamp"`
	Signature  string        `json:"signature"`
}

// PendingExchange is the relay's transient record of an in-flight
// handshake. A later response overwrites the response fields (last writer
// wins); ConfirmedBy grows by set-union and the record is deleted once it
// covers both peers.
type PendingExchange struct {
	ExchangeID         string   `json:"exchangeId"`
	InitiatorID        UserID   `json:"initiatorId"`
	ResponderID        UserID   `json:"responderId"`
	InitiatorPublicKey string   `json:"initiatorPublicKey"`
	InitiatorSignature string   `json:"initiatorSignature"`
	InitiatorTimestamp int64    `json:"initiatorTimestamp"`
	ResponderPublicKey string   `json:"responderPublicKey,omitempty"`
	ResponderSignature string   `json:"responderSignature,omitempty"`
	ResponderTimestamp int64    `json:"responderTimestamp,omitempty"`
	RespondedBy        UserID   `json:"respondedBy,omitempty"`
	ConfirmedBy        []UserID `json:"confirmedBy,omitempty"`
	CreatedAt          int64    `json:"createdAt"`
}

// Responded reports whether a responder has stored their flight.
func (p *PendingExchange) Responded() bool { return p.RespondedBy != "" }

// Confirmed reports whether id has already confirmed the exchange.
func (p *PendingExchange) Confirmed(id UserID) bool {
	for _, c := range p.ConfirmedBy {
		if c == id {
			return true
		}
	}
	return false
}

// ExchangeTTL is how long the relay keeps a PendingExchange alive.
const ExchangeTTL = 5 * time.Minute

// CipherRecord is one encrypted message as it travels through and rests on
// the relay. Ciphertext, IV and Tag marshal as base64. Nonce is the replay
// token consumed by the relay's gate; it is not the AEAD IV.
type CipherRecord struct {
	ID             string `json:"id,omitempty"`
	SenderID       UserID `json:"senderId,omitempty"`
	RecipientID    UserID `json:"recipientId,omitempty"`
	Ciphertext     []byte `json:"ciphertext"`
	IV             []byte `json:"iv"`
	Tag            []byte `json:"tag"`
	Timestamp      int64  `json:"timestamp"`
	SequenceNumber uint64 `json:"sequenceNumber"`
	Nonce          string `json:"nonce"`
}

// CipherChunk is one independently sealed 1 MiB slice of a file. Chunks
// share neither IV nor tag; indices are dense and 0-based.
type CipherChunk struct {
	Index      int    `json:"index"`
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Tag        []byte `json:"tag"`
}

// FileEnvelope carries an encrypted file plus the plaintext metadata the
// relay is allowed to see.
type FileEnvelope struct {
	ID          string        `json:"id,omitempty"`
	SenderID    UserID        `json:"senderId,omitempty"`
	RecipientID UserID        `json:"recipientId"`
	FileName    string        `json:"fileName"`
	FileSize    int64         `json:"fileSize"`
	MimeType    string        `json:"mimeType"`
	TotalChunks int           `json:"totalChunks"`
	Chunks      []CipherChunk `json:"chunks"`
	Timestamp   int64         `json:"timestamp"`
}
