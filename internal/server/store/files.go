package store

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

// PutFile stores an encrypted file envelope and indexes it under its
// conversation.
func (s *Store) PutFile(env domain.FileEnvelope) (domain.FileEnvelope, error) {
	env.ID = uuid.NewString()
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	if err := s.putJSON([]byte("file/"+env.ID), env); err != nil {
		return domain.FileEnvelope{}, err
	}
	conv := domain.Conversation(env.SenderID, env.RecipientID)
	idx := fileIndexEntry{ID: env.ID, Timestamp: env.Timestamp}
	if err := s.putJSON([]byte("fconv/"+string(conv)+"/"+env.ID), idx); err != nil {
		return domain.FileEnvelope{}, err
	}
	return env, nil
}

// GetFile loads one envelope by id.
func (s *Store) GetFile(id string) (domain.FileEnvelope, error) {
	var env domain.FileEnvelope
	if err := s.getJSON([]byte("file/"+id), &env); err != nil {
		return domain.FileEnvelope{}, err
	}
	return env, nil
}

// FileConversation returns the envelopes exchanged between a and b,
// oldest first.
func (s *Store) FileConversation(a, b domain.UserID) ([]domain.FileEnvelope, error) {
	conv := domain.Conversation(a, b)
	var entries []fileIndexEntry
	err := scanPrefix(s, []byte("fconv/"+string(conv)+"/"), func(e fileIndexEntry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })

	out := make([]domain.FileEnvelope, 0, len(entries))
	for _, e := range entries {
		env, err := s.GetFile(e.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

type fileIndexEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}
