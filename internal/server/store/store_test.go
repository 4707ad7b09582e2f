package store

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	s, err := Open(Config{InMemory: true, Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAccountsAndTokens(t *testing.T) {
	s := newTestStore(t)

	acct, err := s.CreateAccount("Alice", []byte("hash"), "pubkey")
	require.NoError(t, err)
	require.NotEmpty(t, acct.ID)

	// Usernames are unique, case-folded.
	_, err = s.CreateAccount("alice", []byte("hash"), "pubkey")
	require.Error(t, err)

	byName, err := s.AccountByName("ALICE")
	require.NoError(t, err)
	require.Equal(t, acct.ID, byName.ID)

	byID, err := s.AccountByID(acct.ID)
	require.NoError(t, err)
	require.Equal(t, "Alice", byID.Username)
	require.Equal(t, "pubkey", byID.PublicKey)

	token, err := s.IssueToken(acct.ID)
	require.NoError(t, err)
	uid, err := s.UserForToken(token)
	require.NoError(t, err)
	require.Equal(t, acct.ID, uid)

	_, err = s.UserForToken("bogus")
	require.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}

func TestSearchAccounts(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateAccount("alice", nil, "k")
	require.NoError(t, err)
	_, err = s.CreateAccount("alicia", nil, "k")
	require.NoError(t, err)
	_, err = s.CreateAccount("bob", nil, "k")
	require.NoError(t, err)

	found, err := s.SearchAccounts("ali")
	require.NoError(t, err)
	require.Len(t, found, 2)
}

func msg(sender, recipient domain.UserID, nonce string, seq uint64) domain.CipherRecord {
	return domain.CipherRecord{
		SenderID:       sender,
		RecipientID:    recipient,
		Ciphertext:     []byte("ct"),
		IV:             make([]byte, 12),
		Tag:            make([]byte, 16),
		Timestamp:      time.Now().UnixMilli(),
		SequenceNumber: seq,
		Nonce:          nonce,
	}
}

// The store is the durable backstop behind the in-memory gate: the insert
// transaction itself enforces nonce uniqueness and sequence monotonicity.
func TestInsertMessageBackstop(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertMessage(msg("alice", "bob", "n-1", 1))
	require.NoError(t, err)

	_, err = s.InsertMessage(msg("alice", "bob", "n-1", 2))
	require.Equal(t, domain.CodeDuplicateNonce, domain.CodeOf(err))

	_, err = s.InsertMessage(msg("alice", "bob", "n-2", 1))
	require.Equal(t, domain.CodeInvalidSequence, domain.CodeOf(err))

	// The counter is shared by both directions of the conversation.
	_, err = s.InsertMessage(msg("bob", "alice", "n-3", 1))
	require.Equal(t, domain.CodeInvalidSequence, domain.CodeOf(err))
	_, err = s.InsertMessage(msg("bob", "alice", "n-4", 2))
	require.NoError(t, err)

	last, found, err := s.LastSequence(domain.Conversation("alice", "bob"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(2), last)
}

func TestConversationOrdering(t *testing.T) {
	s := newTestStore(t)
	for i := uint64(1); i <= 3; i++ {
		rec := msg("alice", "bob", "conv-n-"+string(rune('0'+i)), i)
		rec.Timestamp = time.Now().UnixMilli() + int64(i)
		_, err := s.InsertMessage(rec)
		require.NoError(t, err)
	}
	records, err := s.Conversation("bob", "alice")
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i := 1; i < len(records); i++ {
		require.LessOrEqual(t, records[i-1].Timestamp, records[i].Timestamp)
	}
}

func TestExchangeLifecycle(t *testing.T) {
	s := newTestStore(t)

	exch, err := s.CreateExchange("alice", "bob", "pub", "sig", time.Now().UnixMilli())
	require.NoError(t, err)

	pending, err := s.PendingFor("bob", "alice")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Nothing pending in the wrong direction.
	pending, err = s.PendingFor("alice", "bob")
	require.NoError(t, err)
	require.Empty(t, pending)

	exch.ResponderPublicKey = "pub2"
	exch.RespondedBy = "bob"
	require.NoError(t, s.PutExchange(exch))

	// Responded exchanges leave the pending list and show up as responses.
	pending, err = s.PendingFor("bob", "alice")
	require.NoError(t, err)
	require.Empty(t, pending)

	responses, err := s.ResponsesFor("alice", "bob")
	require.NoError(t, err)
	require.Len(t, responses, 1)

	require.NoError(t, s.DeleteExchange(exch.ExchangeID))
	_, err = s.GetExchange(exch.ExchangeID)
	require.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}

func TestSweepExchanges(t *testing.T) {
	s := newTestStore(t)
	exch, err := s.CreateExchange("alice", "bob", "pub", "sig", time.Now().UnixMilli())
	require.NoError(t, err)

	// Fresh exchanges survive the sweep.
	n, err := s.SweepExchanges()
	require.NoError(t, err)
	require.Zero(t, n)

	// Backdate past the TTL; the sweep collects it.
	exch.CreatedAt = time.Now().Add(-6 * time.Minute).UnixMilli()
	require.NoError(t, s.PutExchange(exch))
	n, err = s.SweepExchanges()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestFileEnvelopes(t *testing.T) {
	s := newTestStore(t)
	env := domain.FileEnvelope{
		RecipientID: "bob",
		SenderID:    "alice",
		FileName:    "a.txt",
		FileSize:    5,
		MimeType:    "text/plain",
		TotalChunks: 1,
		Chunks:      []domain.CipherChunk{{Index: 0, Ciphertext: []byte("x"), IV: make([]byte, 12), Tag: make([]byte, 16)}},
	}
	stored, err := s.PutFile(env)
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID)

	got, err := s.GetFile(stored.ID)
	require.NoError(t, err)
	require.Equal(t, "a.txt", got.FileName)

	list, err := s.FileConversation("bob", "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
}
