// Package sessionkey derives and caches the symmetric key both peers share
// after a handshake.
//
// The derivation is deliberately role-agnostic: HKDF-SHA-256 over the raw
// ECDH secret with a zero salt and an info string built from the sorted
// pair of user ids. The ephemeral public keys are NOT folded into info:
// each peer sees different ephemeral publics in INITIATE vs. RESPOND, and
// binding them would leave initiator and responder with different keys.
// Channel binding therefore rests entirely on the signed handshake flights.
package sessionkey

import (
	"crypto/sha256"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/hkdf"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

// KeyBytes is the size of a derived session key.
const KeyBytes = 32

// TTL is how long an installed session key stays usable.
const TTL = 60 * time.Minute

const infoPrefix = "Cipherlink-Session-Key-"

// Derive computes the 256-bit session key for the unordered pair
// {self, other} from the raw ECDH shared secret. Both peers arrive at the
// same key irrespective of who initiated.
func Derive(sharedSecret []byte, self, other domain.UserID) ([]byte, error) {
	ids := []string{string(self), string(other)}
	sort.Strings(ids)
	info := []byte(infoPrefix + ids[0] + "-" + ids[1])

	salt := make([]byte, sha256.Size)
	key := make([]byte, KeyBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sharedSecret, salt, info), key); err != nil {
		return nil, oops.Code(domain.CodeInternal).Wrapf(err, "derive session key")
	}
	return key, nil
}

// Session is one installed key plus its metadata.
type Session struct {
	Key           []byte
	PeerID        domain.UserID
	EstablishedAt time.Time
}

// Expired reports whether the session is past its lifetime at now.
func (s Session) Expired(now time.Time) bool {
	return now.Sub(s.EstablishedAt) > TTL
}

// Ring holds one process's session keys and per-conversation sequence
// counters. It is a plain handle: tests instantiate as many independent
// rings as they like, and all interior mutability sits behind one lock.
type Ring struct {
	mu       sync.Mutex
	sessions map[domain.UserID]Session
	seqs     map[domain.ConversationID]uint64
	now      func() time.Time
}

// NewRing returns an empty ring.
func NewRing() *Ring {
	return &Ring{
		sessions: make(map[domain.UserID]Session),
		seqs:     make(map[domain.ConversationID]uint64),
		now:      time.Now,
	}
}

// Install sets the session key for a peer. A newer handshake overwrites an
// older key; all subsequent sends use the new one.
func (r *Ring) Install(peer domain.UserID, key []byte, establishedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[peer] = Session{Key: key, PeerID: peer, EstablishedAt: establishedAt}
}

// Active returns the unexpired session for a peer, if any. Expired entries
// are dropped on the way out.
func (r *Ring) Active(peer domain.UserID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[peer]
	if !ok {
		return Session{}, false
	}
	if s.Expired(r.now()) {
		delete(r.sessions, peer)
		return Session{}, false
	}
	return s, true
}

// Drop forgets the session for a peer.
func (r *Ring) Drop(peer domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, peer)
}

// NextSequence returns the next strictly increasing sequence number for a
// conversation, starting at 1 on first use.
func (r *Ring) NextSequence(conv domain.ConversationID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs[conv]++
	return r.seqs[conv]
}

// ResetSequence zeroes a conversation's counter. Permitted only after a
// fresh handshake has installed a new key.
func (r *Ring) ResetSequence(conv domain.ConversationID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seqs, conv)
}
