package store

import (
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

// Account is the relay's record of one user. PasswordHash is bcrypt;
// PublicKey is the base64 SubjectPublicKeyInfo identity key registered at
// sign-up.
type Account struct {
	ID           domain.UserID `json:"id"`
	Username     string        `json:"username"`
	PasswordHash []byte        `json:"passwordHash"`
	PublicKey    string        `json:"publicKey"`
	CreatedAt    int64         `json:"createdAt"`
}

// tokenRecord binds a bearer token to an account.
type tokenRecord struct {
	UserID    domain.UserID `json:"userId"`
	ExpiresAt int64         `json:"expiresAt"`
}

// TokenTTL is how long an issued bearer token stays valid.
const TokenTTL = 24 * time.Hour

// CreateAccount inserts a new account; the username must be unused.
func (s *Store) CreateAccount(username string, passwordHash []byte, publicKey string) (Account, error) {
	acct := Account{
		ID:           domain.UserID(uuid.NewString()),
		Username:     username,
		PasswordHash: passwordHash,
		PublicKey:    publicKey,
		CreatedAt:    time.Now().UnixMilli(),
	}
	raw, err := marshal(acct)
	if err != nil {
		return Account{}, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		nameKey := []byte("name/" + strings.ToLower(username))
		_, getErr := txn.Get(nameKey)
		if getErr == nil {
			return errUsernameTaken
		}
		if getErr != badger.ErrKeyNotFound {
			return getErr
		}
		if err := txn.Set(nameKey, []byte(acct.ID)); err != nil {
			return err
		}
		return txn.Set([]byte("user/"+acct.ID), raw)
	})
	if err == errUsernameTaken {
		return Account{}, oops.Code(domain.CodeInternal).Errorf("username %q already taken", username)
	}
	if err != nil {
		return Account{}, oops.Code(domain.CodeInternal).Wrapf(err, "create account")
	}
	return acct, nil
}

var errUsernameTaken = errors.New("username taken")

// AccountByName looks an account up by username.
func (s *Store) AccountByName(username string) (Account, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("name/" + strings.ToLower(username)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return Account{}, oops.Code(domain.CodeNotFound).Errorf("no account %q", username)
	}
	if err != nil {
		return Account{}, oops.Code(domain.CodeInternal).Wrap(err)
	}
	return s.AccountByID(domain.UserID(id))
}

// AccountByID looks an account up by id.
func (s *Store) AccountByID(id domain.UserID) (Account, error) {
	var acct Account
	if err := s.getJSON([]byte("user/"+id), &acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// SearchAccounts returns accounts whose username contains q, case-folded.
func (s *Store) SearchAccounts(q string) ([]domain.User, error) {
	q = strings.ToLower(q)
	var out []domain.User
	err := scanPrefix(s, []byte("user/"), func(a Account) error {
		if q == "" || strings.Contains(strings.ToLower(a.Username), q) {
			out = append(out, domain.User{ID: a.ID, Username: a.Username})
		}
		return nil
	})
	return out, err
}

// IssueToken mints a bearer token for an account.
func (s *Store) IssueToken(id domain.UserID) (string, error) {
	token := uuid.NewString()
	rec := tokenRecord{UserID: id, ExpiresAt: time.Now().Add(TokenTTL).UnixMilli()}
	if err := s.putJSON([]byte("token/"+token), rec); err != nil {
		return "", err
	}
	return token, nil
}

// UserForToken resolves a bearer token, expiring it lazily.
func (s *Store) UserForToken(token string) (domain.UserID, error) {
	var rec tokenRecord
	if err := s.getJSON([]byte("token/"+token), &rec); err != nil {
		return "", err
	}
	if time.Now().UnixMilli() > rec.ExpiresAt {
		_ = s.delete([]byte("token/" + token))
		return "", oops.Code(domain.CodeNotFound).Errorf("token expired")
	}
	return rec.UserID, nil
}
