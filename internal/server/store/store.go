// Package store is the relay's persistence layer, a thin wrapper over
// Badger. It holds accounts, auth tokens, pending key exchanges, message
// records and file envelopes: opaque ciphertext and routing metadata
// only, never plaintext.
//
// Key layout:
//
//	user/<id>        account record
//	name/<username>  username → user id (uniqueness anchor)
//	token/<token>    auth token record
//	exch/<id>        pending key exchange
//	msg/<conv>/<seq> message record, 8-byte big-endian sequence
//	nonce/<nonce>    accepted-nonce backstop (globally unique)
//	seq/<conv>       last accepted sequence number
//	file/<id>        file envelope
//	fconv/<conv>/<id>  file id index per conversation (timestamp in value)
package store

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

// Config carries the store's tunables.
type Config struct {
	Dir      string
	InMemory bool // tests run without a directory
	Logger   *logrus.Logger
}

// Store wraps one Badger instance.
type Store struct {
	db  *badger.DB
	log *logrus.Logger
}

// Open opens or creates the database.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, oops.Code(domain.CodeInternal).Wrapf(err, "open relay store")
	}
	return &Store{db: db, log: cfg.Logger}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error { return s.db.Close() }

// ---------- generic helpers ----------

func (s *Store) putJSON(key []byte, v any) error {
	raw, err := marshal(v)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
	if err != nil {
		return oops.Code(domain.CodeInternal).Wrapf(err, "put %s", key)
	}
	return nil
}

// getJSON loads key into out; a missing key returns not-found.
func (s *Store) getJSON(key []byte, out any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return unmarshal(val, out)
		})
	})
	if err == badger.ErrKeyNotFound {
		return oops.Code(domain.CodeNotFound).Errorf("no entry for %s", key)
	}
	if err != nil {
		return oops.Code(domain.CodeInternal).Wrapf(err, "get %s", key)
	}
	return nil
}

func (s *Store) delete(key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return oops.Code(domain.CodeInternal).Wrapf(err, "delete %s", key)
	}
	return nil
}

// scanPrefix walks every value under prefix, decoding each into a fresh T.
func scanPrefix[T any](s *Store, prefix []byte, fn func(T) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var v T
			err := it.Item().Value(func(val []byte) error {
				return unmarshal(val, &v)
			})
			if err != nil {
				return err
			}
			if err := fn(v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return oops.Code(domain.CodeInternal).Wrapf(err, "scan %s", prefix)
	}
	return nil
}
