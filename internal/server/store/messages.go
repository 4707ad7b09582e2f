package store

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

var (
	errNonceTaken   = errors.New("nonce taken")
	errSequenceBack = errors.New("sequence not increasing")
)

// InsertMessage persists an accepted record. It is the durable backstop
// behind the in-memory gate: the transaction re-checks nonce uniqueness
// and sequence monotonicity, closing the race where two handlers saw the
// same novel nonce before either wrote it. Violations surface as
// duplicate-nonce and invalid-sequence-number, never as storage errors.
func (s *Store) InsertMessage(rec domain.CipherRecord) (domain.CipherRecord, error) {
	rec.ID = uuid.NewString()
	conv := domain.Conversation(rec.SenderID, rec.RecipientID)
	raw, err := marshal(rec)
	if err != nil {
		return domain.CipherRecord{}, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		nonceKey := []byte("nonce/" + rec.Nonce)
		if _, err := txn.Get(nonceKey); err == nil {
			return errNonceTaken
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		seqKey := []byte("seq/" + conv)
		last, err := readSeq(txn, seqKey)
		if err != nil {
			return err
		}
		if rec.SequenceNumber <= last {
			return errSequenceBack
		}

		if err := txn.Set(nonceKey, []byte(rec.ID)); err != nil {
			return err
		}
		if err := txn.Set(seqKey, encodeSeq(rec.SequenceNumber)); err != nil {
			return err
		}
		return txn.Set(msgKey(conv, rec.SequenceNumber), raw)
	})
	switch {
	case err == errNonceTaken:
		return domain.CipherRecord{}, oops.Code(domain.CodeDuplicateNonce).Errorf("nonce already accepted")
	case err == errSequenceBack:
		return domain.CipherRecord{}, oops.Code(domain.CodeInvalidSequence).Errorf("sequence number not increasing")
	case err != nil:
		return domain.CipherRecord{}, oops.Code(domain.CodeInternal).Wrapf(err, "insert message")
	}
	return rec, nil
}

// LastSequence returns the last accepted sequence for a conversation.
func (s *Store) LastSequence(conv domain.ConversationID) (uint64, bool, error) {
	var (
		last  uint64
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("seq/" + conv))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			last = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	if err != nil {
		return 0, false, oops.Code(domain.CodeInternal).Wrap(err)
	}
	return last, found, nil
}

// Conversation returns the stored records between a and b, oldest first.
func (s *Store) Conversation(a, b domain.UserID) ([]domain.CipherRecord, error) {
	conv := domain.Conversation(a, b)
	var out []domain.CipherRecord
	err := scanPrefix(s, []byte("msg/"+conv+"/"), func(rec domain.CipherRecord) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func msgKey(conv domain.ConversationID, seq uint64) []byte {
	key := []byte("msg/" + conv + "/")
	return append(key, encodeSeq(seq)...)
}

func encodeSeq(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}

func readSeq(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var out uint64
	err = item.Value(func(val []byte) error {
		out = binary.BigEndian.Uint64(val)
		return nil
	})
	return out, err
}
