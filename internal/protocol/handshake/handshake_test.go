package handshake_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/codec"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/crypto"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/keystore"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/protocol/handshake"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/protocol/sessionkey"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/relay"
)

// fakeRelay is an in-memory stand-in for the relay's key-exchange surface.
// Setting hold hides all pending state, which lets tests force the
// simultaneous-open race.
type fakeRelay struct {
	mu        sync.Mutex
	keys      map[domain.UserID]string
	exchanges map[string]*domain.PendingExchange
	hold      bool

	// tamperInitiate, when set, rewrites the initiator public key served
	// to responders, simulating an on-path key substitution.
	tamperInitiate string
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		keys:      make(map[domain.UserID]string),
		exchanges: make(map[string]*domain.PendingExchange),
	}
}

func (f *fakeRelay) registerKey(id domain.UserID, publicKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[id] = publicKey
}

func (f *fakeRelay) PublicKey(_ context.Context, id domain.UserID) (relay.PublicKeyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, ok := f.keys[id]
	if !ok {
		return relay.PublicKeyResponse{}, notFound("no key for " + string(id))
	}
	return relay.PublicKeyResponse{PublicKey: pk, Username: string(id)}, nil
}

func (f *fakeRelay) InitiateExchange(_ context.Context, msg domain.HandshakeMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.exchanges[id] = &domain.PendingExchange{
		ExchangeID:         id,
		InitiatorID:        msg.FromUserID,
		ResponderID:        msg.ToUserID,
		InitiatorPublicKey: msg.PublicKey,
		InitiatorSignature: msg.Signature,
		InitiatorTimestamp: msg.Timestamp,
	}
	return id, nil
}

func (f *fakeRelay) RespondExchange(_ context.Context, exchangeID string, msg domain.HandshakeMessage) (relay.RespondResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exch, ok := f.exchanges[exchangeID]
	if !ok {
		return relay.RespondResult{}, notFound("no exchange " + exchangeID)
	}
	exch.ResponderPublicKey = msg.PublicKey
	exch.ResponderSignature = msg.Signature
	exch.ResponderTimestamp = msg.Timestamp
	exch.RespondedBy = msg.FromUserID
	return relay.RespondResult{
		ExchangeID:        exchangeID,
		OriginalPublicKey: exch.InitiatorPublicKey,
		OriginalSignature: exch.InitiatorSignature,
		ResponsePublicKey: exch.ResponderPublicKey,
		ResponseSignature: exch.ResponderSignature,
	}, nil
}

func (f *fakeRelay) ConfirmExchange(_ context.Context, exchangeID, _ string) (relay.ConfirmResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exch, ok := f.exchanges[exchangeID]
	if !ok {
		// Already confirmed by both and deleted.
		return relay.ConfirmResult{Status: "confirmed", BothConfirmed: true}, nil
	}
	exch.ConfirmedBy = append(exch.ConfirmedBy, exch.InitiatorID) // recorded loosely; tests only count deletions
	if len(exch.ConfirmedBy) >= 2 {
		delete(f.exchanges, exchangeID)
		return relay.ConfirmResult{Status: "confirmed", BothConfirmed: true}, nil
	}
	return relay.ConfirmResult{Status: "confirmed", BothConfirmed: false}, nil
}

func (f *fakeRelay) PendingExchanges(_ context.Context, peer domain.UserID) ([]domain.PendingExchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hold {
		return nil, nil
	}
	var out []domain.PendingExchange
	for _, exch := range f.exchanges {
		if exch.InitiatorID == peer && !exch.Responded() {
			e := *exch
			if f.tamperInitiate != "" {
				e.InitiatorPublicKey = f.tamperInitiate
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRelay) ExchangeResponses(_ context.Context, peer domain.UserID) ([]domain.PendingExchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hold {
		return nil, nil
	}
	var out []domain.PendingExchange
	for _, exch := range f.exchanges {
		if exch.ResponderID == peer && exch.Responded() {
			out = append(out, *exch)
		}
	}
	return out, nil
}

func notFound(msg string) error {
	return errNotFound{msg}
}

type errNotFound struct{ msg string }

func (e errNotFound) Error() string { return e.msg }

// peer bundles one user's client-side state.
type peer struct {
	id     domain.UserID
	keys   *keystore.Unlocked
	ring   *sessionkey.Ring
	engine *handshake.Engine
}

func newPeer(t *testing.T, r handshake.Relay, f *fakeRelay, id domain.UserID) *peer {
	t.Helper()
	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	pub, err := identity.ExportPublicBase64()
	require.NoError(t, err)
	f.registerKey(id, pub)

	unlocked := keystore.New(t.TempDir()).Unlock(id, "pw")
	require.NoError(t, unlocked.StoreIdentity(identity))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	ring := sessionkey.NewRing()
	return &peer{
		id:     id,
		keys:   unlocked,
		ring:   ring,
		engine: handshake.New(unlocked, ring, r, log),
	}
}

func TestHandshakeConvergence(t *testing.T) {
	f := newFakeRelay()
	alice := newPeer(t, f, f, "alice")
	bob := newPeer(t, f, f, "bob")
	ctx := context.Background()

	// Alice opens first; Bob is offline.
	state, err := alice.engine.Open(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, handshake.StateAwaitingResponse, state)

	// Bob opens; the responder path fires and yields a session.
	state, err = bob.engine.Open(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, handshake.StateEstablished, state)

	// Alice returns; the completion path fires.
	state, err = alice.engine.Open(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, handshake.StateEstablished, state)

	aliceSession, ok := alice.engine.SessionFor("bob")
	require.True(t, ok)
	bobSession, ok := bob.engine.SessionFor("alice")
	require.True(t, ok)
	require.Equal(t, aliceSession.Key, bobSession.Key)

	// Both confirmed: the pending exchange is gone.
	require.Empty(t, f.exchanges)

	// And a message sealed by Alice opens at Bob.
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	c := codec.New(sessionkey.NewRing(), log)
	rec, err := c.EncryptMessage(aliceSession.Key, domain.Conversation("alice", "bob"), "hello")
	require.NoError(t, err)
	pt, err := c.DecryptMessage(bobSession.Key, rec)
	require.NoError(t, err)
	require.Equal(t, "hello", pt)
}

func TestHandshakeReopensFromCachedKey(t *testing.T) {
	f := newFakeRelay()
	alice := newPeer(t, f, f, "alice")
	bob := newPeer(t, f, f, "bob")
	ctx := context.Background()

	_, err := alice.engine.Open(ctx, "bob")
	require.NoError(t, err)
	_, err = bob.engine.Open(ctx, "alice")
	require.NoError(t, err)
	_, err = alice.engine.Open(ctx, "bob")
	require.NoError(t, err)

	// A fresh engine over the same keystore resumes from the wrapped key
	// without touching the relay.
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	fresh := handshake.New(alice.keys, sessionkey.NewRing(), f, log)
	state, err := fresh.Open(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, handshake.StateEstablished, state)

	old, _ := alice.engine.SessionFor("bob")
	resumed, ok := fresh.SessionFor("bob")
	require.True(t, ok)
	require.Equal(t, old.Key, resumed.Key)
}

// An on-path attacker swapping the ephemeral public key while forwarding
// the original signature must abort the responder's handshake.
func TestHandshakeTamperedInitiate(t *testing.T) {
	f := newFakeRelay()
	alice := newPeer(t, f, f, "alice")
	bob := newPeer(t, f, f, "bob")
	ctx := context.Background()

	_, err := alice.engine.Open(ctx, "bob")
	require.NoError(t, err)

	attacker, err := crypto.GenerateExchangePair()
	require.NoError(t, err)
	swapped, err := attacker.PublicBase64()
	require.NoError(t, err)
	f.tamperInitiate = swapped

	state, err := bob.engine.Open(ctx, "alice")
	require.Equal(t, handshake.StateFailed, state)
	require.Equal(t, domain.CodeBadSignature, domain.CodeOf(err))
	_, ok := bob.engine.SessionFor("alice")
	require.False(t, ok)
}

// Losing the ephemeral private (expiry, reinstall) fails the completion
// path with exchange-lost; the caller restarts from idle.
func TestHandshakeExchangeLost(t *testing.T) {
	f := newFakeRelay()
	alice := newPeer(t, f, f, "alice")
	bob := newPeer(t, f, f, "bob")
	ctx := context.Background()

	_, err := alice.engine.Open(ctx, "bob")
	require.NoError(t, err)

	var exchangeID string
	for id := range f.exchanges {
		exchangeID = id
	}
	require.NoError(t, alice.keys.DeleteExchange(exchangeID))

	_, err = bob.engine.Open(ctx, "alice")
	require.NoError(t, err)

	state, err := alice.engine.Open(ctx, "bob")
	require.Equal(t, handshake.StateFailed, state)
	require.Equal(t, domain.CodeExchangeLost, domain.CodeOf(err))
}

// Two peers opening simultaneously both park an INITIATE; each then
// answers the other's. The interval where they hold different keys is
// acceptable: decryption fails cleanly, never crashes.
func TestSimultaneousOpen(t *testing.T) {
	f := newFakeRelay()
	alice := newPeer(t, f, f, "alice")
	bob := newPeer(t, f, f, "bob")
	ctx := context.Background()

	// Neither sees the other's INITIATE yet.
	f.hold = true
	state, err := alice.engine.Open(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, handshake.StateAwaitingResponse, state)
	state, err = bob.engine.Open(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, handshake.StateAwaitingResponse, state)
	require.Len(t, f.exchanges, 2)
	f.hold = false

	// Each answers the other's INITIATE: the responder path outranks
	// completing one's own exchange.
	state, err = bob.engine.Open(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, handshake.StateEstablished, state)
	state, err = alice.engine.Open(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, handshake.StateEstablished, state)

	aliceSession, ok := alice.engine.SessionFor("bob")
	require.True(t, ok)
	bobSession, ok := bob.engine.SessionFor("alice")
	require.True(t, ok)

	// If the keys happen to differ the records must surface as
	// undecipherable, not crash.
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	c := codec.New(sessionkey.NewRing(), log)
	rec, err := c.EncryptMessage(aliceSession.Key, domain.Conversation("alice", "bob"), "mind the gap")
	require.NoError(t, err)
	pt, err := c.DecryptMessage(bobSession.Key, rec)
	if err != nil {
		require.Equal(t, domain.CodeUndecipherable, domain.CodeOf(err))
	} else {
		require.Equal(t, "mind the gap", pt)
	}
}
