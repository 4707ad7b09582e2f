package keystore

import (
	"time"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/crypto"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

// Unlocked binds a Store to one user's password for the lifetime of a
// process. The handshake works exclusively through this handle so that no
// password ever has to be requested mid-flow.
type Unlocked struct {
	store    *Store
	userID   domain.UserID
	password string
}

// Unlock captures the password once. It verifies nothing by itself; a
// wrong password surfaces on the first load.
func (s *Store) Unlock(userID domain.UserID, password string) *Unlocked {
	return &Unlocked{store: s, userID: userID, password: password}
}

// UserID returns the account the handle is bound to.
func (u *Unlocked) UserID() domain.UserID { return u.userID }

// StoreIdentity persists the identity private half.
func (u *Unlocked) StoreIdentity(id *crypto.Identity) error {
	return u.store.StoreIdentityPrivate(u.userID, id, u.password)
}

// LoadIdentity retrieves the identity private half.
func (u *Unlocked) LoadIdentity() (*crypto.Identity, error) {
	return u.store.LoadIdentityPrivate(u.userID, u.password)
}

// StoreExchange persists an ephemeral exchange pair.
func (u *Unlocked) StoreExchange(pair *crypto.ExchangePair) error {
	return u.store.StoreExchangePrivate(pair.ID, pair, u.password)
}

// LoadExchange retrieves an ephemeral exchange pair.
func (u *Unlocked) LoadExchange(exchangeID string) (*crypto.ExchangePair, error) {
	return u.store.LoadExchangePrivate(exchangeID, u.password)
}

// DeleteExchange removes an ephemeral exchange pair.
func (u *Unlocked) DeleteExchange(exchangeID string) error {
	return u.store.DeleteExchangePrivate(exchangeID)
}

// StoreSessionKey caches a derived session key.
func (u *Unlocked) StoreSessionKey(peerID domain.UserID, key []byte, establishedAt time.Time) error {
	return u.store.StoreSessionKey(peerID, key, establishedAt, u.password)
}

// LoadSessionKey retrieves a cached session key.
func (u *Unlocked) LoadSessionKey(peerID domain.UserID) ([]byte, time.Time, error) {
	return u.store.LoadSessionKey(peerID, u.password)
}

// DeleteSessionKey removes a cached session key.
func (u *Unlocked) DeleteSessionKey(peerID domain.UserID) error {
	return u.store.DeleteSessionKey(peerID)
}
