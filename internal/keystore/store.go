package keystore

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/crypto"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

const (
	identityFile  = "identity.json"
	exchangesFile = "exchanges.json"
	sessionsFile  = "sessions.json"

	// SessionKeyTTL is how long a cached session key stays usable.
	SessionKeyTTL = 60 * time.Minute
)

// identityRecord wraps the identity private half plus its algorithm tag.
type identityRecord struct {
	Algorithm domain.SigningAlgorithm `json:"algorithm"`
	envelope
}

// exchangeRecord wraps one ephemeral exchange private.
type exchangeRecord struct {
	envelope
	CreatedAt int64 `json:"createdAt"`
}

// sessionRecord wraps one cached session key.
type sessionRecord struct {
	envelope
	EstablishedAt int64 `json:"establishedAt"`
}

// Store persists wrapped private material in a directory, one file per
// kind. All methods are safe for concurrent use within one process.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// New returns a Store rooted at dir.
func New(dir string) *Store { return &Store{dir: dir, now: time.Now} }

// ---------- Identity ----------

// StoreIdentityPrivate replaces the wrapped identity private atomically.
func (s *Store) StoreIdentityPrivate(userID domain.UserID, id *crypto.Identity, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	der, err := id.ExportPrivate()
	if err != nil {
		return err
	}
	env, err := wrap(password, der)
	if err != nil {
		return err
	}
	m := make(map[domain.UserID]identityRecord)
	if err := s.readJSON(identityFile, &m); err != nil {
		return err
	}
	m[userID] = identityRecord{Algorithm: id.Algorithm, envelope: env}
	return s.writeJSON(identityFile, m)
}

// LoadIdentityPrivate unwraps and imports the identity private half.
func (s *Store) LoadIdentityPrivate(userID domain.UserID, password string) (*crypto.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[domain.UserID]identityRecord)
	if err := s.readJSON(identityFile, &m); err != nil {
		return nil, err
	}
	rec, ok := m[userID]
	if !ok {
		return nil, oops.Code(domain.CodeNotFound).Errorf("no identity for %s", userID)
	}
	der, err := unwrap(password, rec.envelope)
	if err != nil {
		return nil, err
	}
	return crypto.ImportPrivate(rec.Algorithm, der)
}

// DeleteIdentityPrivate removes the entry; absent entries are fine.
func (s *Store) DeleteIdentityPrivate(userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[domain.UserID]identityRecord)
	if err := s.readJSON(identityFile, &m); err != nil {
		return err
	}
	delete(m, userID)
	return s.writeJSON(identityFile, m)
}

// ---------- Exchange pairs ----------

// StoreExchangePrivate wraps an ephemeral pair under the password.
func (s *Store) StoreExchangePrivate(exchangeID string, pair *crypto.ExchangePair, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	der, err := crypto.ExportExchangePrivate(pair)
	if err != nil {
		return err
	}
	env, err := wrap(password, der)
	if err != nil {
		return err
	}
	m := make(map[string]exchangeRecord)
	if err := s.readJSON(exchangesFile, &m); err != nil {
		return err
	}
	m[exchangeID] = exchangeRecord{envelope: env, CreatedAt: pair.CreatedAt.UnixMilli()}
	return s.writeJSON(exchangesFile, m)
}

// LoadExchangePrivate returns the pair, or not-found once it is absent or
// older than its ten-minute lifetime. Expired entries are dropped in place.
func (s *Store) LoadExchangePrivate(exchangeID string, password string) (*crypto.ExchangePair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[string]exchangeRecord)
	if err := s.readJSON(exchangesFile, &m); err != nil {
		return nil, err
	}
	rec, ok := m[exchangeID]
	if !ok {
		return nil, oops.Code(domain.CodeNotFound).Errorf("no exchange %s", exchangeID)
	}
	createdAt := time.UnixMilli(rec.CreatedAt)
	if s.now().Sub(createdAt) > crypto.ExchangeTTL {
		delete(m, exchangeID)
		_ = s.writeJSON(exchangesFile, m)
		return nil, oops.Code(domain.CodeNotFound).Errorf("exchange %s expired", exchangeID)
	}
	der, err := unwrap(password, rec.envelope)
	if err != nil {
		return nil, err
	}
	return crypto.ImportExchangePrivate(exchangeID, der, createdAt)
}

// DeleteExchangePrivate removes the entry; absent entries are fine.
func (s *Store) DeleteExchangePrivate(exchangeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[string]exchangeRecord)
	if err := s.readJSON(exchangesFile, &m); err != nil {
		return err
	}
	delete(m, exchangeID)
	return s.writeJSON(exchangesFile, m)
}

// ---------- Session keys ----------

// StoreSessionKey wraps a derived session key for the given peer.
func (s *Store) StoreSessionKey(peerID domain.UserID, key []byte, establishedAt time.Time, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := wrap(password, key)
	if err != nil {
		return err
	}
	m := make(map[domain.UserID]sessionRecord)
	if err := s.readJSON(sessionsFile, &m); err != nil {
		return err
	}
	m[peerID] = sessionRecord{envelope: env, EstablishedAt: establishedAt.UnixMilli()}
	return s.writeJSON(sessionsFile, m)
}

// LoadSessionKey returns the cached key and its establishment time, or
// not-found once the entry is absent or older than an hour.
func (s *Store) LoadSessionKey(peerID domain.UserID, password string) ([]byte, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[domain.UserID]sessionRecord)
	if err := s.readJSON(sessionsFile, &m); err != nil {
		return nil, time.Time{}, err
	}
	rec, ok := m[peerID]
	if !ok {
		return nil, time.Time{}, oops.Code(domain.CodeNotFound).Errorf("no session key for %s", peerID)
	}
	establishedAt := time.UnixMilli(rec.EstablishedAt)
	if s.now().Sub(establishedAt) > SessionKeyTTL {
		delete(m, peerID)
		_ = s.writeJSON(sessionsFile, m)
		return nil, time.Time{}, oops.Code(domain.CodeNotFound).Errorf("session key for %s expired", peerID)
	}
	key, err := unwrap(password, rec.envelope)
	if err != nil {
		return nil, time.Time{}, err
	}
	return key, establishedAt, nil
}

// DeleteSessionKey removes the entry; absent entries are fine.
func (s *Store) DeleteSessionKey(peerID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[domain.UserID]sessionRecord)
	if err := s.readJSON(sessionsFile, &m); err != nil {
		return err
	}
	delete(m, peerID)
	return s.writeJSON(sessionsFile, m)
}

func (s *Store) readJSON(name string, out any) error {
	if err := loadJSON(s.path(name), out); err != nil {
		return oops.Code(domain.CodeInternal).Wrapf(err, "read %s", name)
	}
	return nil
}

func (s *Store) writeJSON(name string, v any) error {
	if err := storeJSON(s.path(name), v, 0o600); err != nil {
		return oops.Code(domain.CodeInternal).Wrapf(err, "write %s", name)
	}
	return nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }
