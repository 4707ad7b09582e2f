// Package handshake implements the two-flight signed-ECDH key agreement
// between two Cipherlink users.
//
// Each peer, upon opening a conversation, runs a fixed resolution order:
// an existing session wins; answering an incoming INITIATE comes next;
// completing one's own exchange after that; and only then does a fresh
// INITIATE go out. Answering before initiating is what lets two peers who
// open the conversation simultaneously converge on a single session.
//
// Before any shared secret is computed the counter-party's signature is
// verified against the identity key the relay has registered for the
// claimed sender. The engine never asks for a password: it works through
// an unlocked keystore handle.
package handshake

import (
	"context"
	"crypto/ecdh"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/crypto"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/keystore"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/protocol/sessionkey"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/relay"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/util/memzero"
)

// maxFlightSkew bounds how far a handshake flight's timestamp may sit from
// the local clock in either direction.
const maxFlightSkew = 5 * time.Minute

// State is where a conversation's handshake currently stands.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateAwaitingConfirm
	StateEstablished
	StateFailed
)

// String renders the state for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateAwaitingConfirm:
		return "awaiting-confirm"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Relay is the slice of the relay surface the engine needs. *relay.Client
// implements it; tests substitute an in-memory fake.
type Relay interface {
	PublicKey(ctx context.Context, id domain.UserID) (relay.PublicKeyResponse, error)
	InitiateExchange(ctx context.Context, msg domain.HandshakeMessage) (string, error)
	RespondExchange(ctx context.Context, exchangeID string, msg domain.HandshakeMessage) (relay.RespondResult, error)
	ConfirmExchange(ctx context.Context, exchangeID, confirmationHash string) (relay.ConfirmResult, error)
	PendingExchanges(ctx context.Context, peer domain.UserID) ([]domain.PendingExchange, error)
	ExchangeResponses(ctx context.Context, peer domain.UserID) ([]domain.PendingExchange, error)
}

var _ Relay = (*relay.Client)(nil)

// Engine drives handshakes for one account. Transitions are serialized per
// peer; independent peers proceed concurrently.
type Engine struct {
	self  domain.UserID
	keys  *keystore.Unlocked
	ring  *sessionkey.Ring
	relay Relay
	log   *logrus.Logger
	now   func() time.Time

	mu    sync.Mutex
	peers map[domain.UserID]*sync.Mutex
}

// New returns an Engine for the given account.
func New(keys *keystore.Unlocked, ring *sessionkey.Ring, r Relay, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		self:  keys.UserID(),
		keys:  keys,
		ring:  ring,
		relay: r,
		log:   log,
		now:   time.Now,
		peers: make(map[domain.UserID]*sync.Mutex),
	}
}

// Open runs the resolution algorithm against peer and returns the state it
// lands in. StateEstablished means the ring now holds a usable session
// key; StateAwaitingResponse means an INITIATE is parked at the relay and
// the caller should try again later. An error normally comes back alongside
// StateFailed and is terminal for this attempt; retrying starts from idle.
// The exception is a failed CONFIRM post after the session key is already
// installed: the error then comes with StateAwaitingConfirm on the
// responder path and StateEstablished on the initiator path.
func (e *Engine) Open(ctx context.Context, peer domain.UserID) (State, error) {
	lock := e.peerLock(peer)
	lock.Lock()
	defer lock.Unlock()

	// An existing session wins outright.
	if _, ok := e.ring.Active(peer); ok {
		return StateEstablished, nil
	}
	if key, at, err := e.keys.LoadSessionKey(peer); err == nil {
		e.ring.Install(peer, key, at)
		return StateEstablished, nil
	}

	// An incoming INITIATE gets answered before we open anything new.
	pending, err := e.relay.PendingExchanges(ctx, peer)
	if err != nil {
		return StateFailed, transportOr(err)
	}
	for i := range pending {
		exch := &pending[i]
		if exch.ResponderID != e.self || exch.Responded() {
			continue
		}
		return e.respond(ctx, peer, exch)
	}

	// Next, complete an exchange we initiated that now holds a response.
	responses, err := e.relay.ExchangeResponses(ctx, peer)
	if err != nil {
		return StateFailed, transportOr(err)
	}
	for i := range responses {
		exch := &responses[i]
		if exch.InitiatorID != e.self || !exch.Responded() {
			continue
		}
		return e.complete(ctx, peer, exch)
	}

	// Nothing in flight: initiate.
	return e.initiate(ctx, peer)
}

// SessionFor returns the active session key for a peer, if one exists.
func (e *Engine) SessionFor(peer domain.UserID) (sessionkey.Session, bool) {
	return e.ring.Active(peer)
}

// ---------- responder path ----------

func (e *Engine) respond(ctx context.Context, peer domain.UserID, exch *domain.PendingExchange) (State, error) {
	initiate := domain.HandshakeMessage{
		Type:       domain.HandshakeInitiate,
		FromUserID: exch.InitiatorID,
		ToUserID:   e.self,
		PublicKey:  exch.InitiatorPublicKey,
		Timestamp:  exch.InitiatorTimestamp,
		Signature:  exch.InitiatorSignature,
	}
	if err := e.verifyFlight(ctx, exch.InitiatorID, &initiate); err != nil {
		return StateFailed, err
	}
	peerPub, err := crypto.ImportExchangePublicBase64(exch.InitiatorPublicKey)
	if err != nil {
		return StateFailed, err
	}

	pair, err := crypto.GenerateExchangePair()
	if err != nil {
		return StateFailed, err
	}
	pair.ID = exch.ExchangeID
	if err := e.keys.StoreExchange(pair); err != nil {
		return StateFailed, err
	}

	ourPub, err := pair.PublicBase64()
	if err != nil {
		return StateFailed, err
	}
	respond := domain.HandshakeMessage{
		Type:       domain.HandshakeRespond,
		FromUserID: e.self,
		ToUserID:   exch.InitiatorID,
		PublicKey:  ourPub,
		Timestamp:  e.now().UnixMilli(),
	}
	id, err := e.keys.LoadIdentity()
	if err != nil {
		return StateFailed, err
	}
	if err := crypto.SignHandshake(id, &respond); err != nil {
		return StateFailed, err
	}
	if _, err := e.relay.RespondExchange(ctx, exch.ExchangeID, respond); err != nil {
		return StateFailed, transportOr(err)
	}

	if err := e.install(pair, peerPub, peer, exch.ExchangeID); err != nil {
		return StateFailed, err
	}
	if err := e.confirm(ctx, exch.ExchangeID, peer); err != nil {
		return StateAwaitingConfirm, err
	}
	e.log.WithFields(logrus.Fields{"peer": peer, "role": "responder"}).Info("session established")
	return StateEstablished, nil
}

// ---------- initiator-completion path ----------

func (e *Engine) complete(ctx context.Context, peer domain.UserID, exch *domain.PendingExchange) (State, error) {
	pair, err := e.keys.LoadExchange(exch.ExchangeID)
	if err != nil {
		if domain.HasCode(err, domain.CodeNotFound) {
			return StateFailed, oops.Code(domain.CodeExchangeLost).
				Errorf("exchange %s no longer available", exch.ExchangeID)
		}
		return StateFailed, err
	}

	respond := domain.HandshakeMessage{
		Type:       domain.HandshakeRespond,
		FromUserID: exch.RespondedBy,
		ToUserID:   e.self,
		PublicKey:  exch.ResponderPublicKey,
		Timestamp:  exch.ResponderTimestamp,
		Signature:  exch.ResponderSignature,
	}
	if err := e.verifyFlight(ctx, exch.RespondedBy, &respond); err != nil {
		return StateFailed, err
	}

	// The relay echoed our own INITIATE back; re-verify it against our
	// registered key so a substituted ephemeral public cannot slip by.
	initiate := domain.HandshakeMessage{
		Type:       domain.HandshakeInitiate,
		FromUserID: e.self,
		ToUserID:   peer,
		PublicKey:  exch.InitiatorPublicKey,
		Timestamp:  exch.InitiatorTimestamp,
		Signature:  exch.InitiatorSignature,
	}
	if err := e.verifyFlight(ctx, e.self, &initiate); err != nil {
		return StateFailed, err
	}

	peerPub, err := crypto.ImportExchangePublicBase64(exch.ResponderPublicKey)
	if err != nil {
		return StateFailed, err
	}
	if err := e.install(pair, peerPub, peer, exch.ExchangeID); err != nil {
		return StateFailed, err
	}
	if err := e.confirm(ctx, exch.ExchangeID, peer); err != nil {
		return StateEstablished, err
	}
	e.log.WithFields(logrus.Fields{"peer": peer, "role": "initiator"}).Info("session established")
	return StateEstablished, nil
}

// ---------- initiator path ----------

func (e *Engine) initiate(ctx context.Context, peer domain.UserID) (State, error) {
	pair, err := crypto.GenerateExchangePair()
	if err != nil {
		return StateFailed, err
	}
	ourPub, err := pair.PublicBase64()
	if err != nil {
		return StateFailed, err
	}
	msg := domain.HandshakeMessage{
		Type:       domain.HandshakeInitiate,
		FromUserID: e.self,
		ToUserID:   peer,
		PublicKey:  ourPub,
		Timestamp:  e.now().UnixMilli(),
	}
	id, err := e.keys.LoadIdentity()
	if err != nil {
		return StateFailed, err
	}
	if err := crypto.SignHandshake(id, &msg); err != nil {
		return StateFailed, err
	}
	exchangeID, err := e.relay.InitiateExchange(ctx, msg)
	if err != nil {
		return StateFailed, transportOr(err)
	}
	pair.ID = exchangeID
	if err := e.keys.StoreExchange(pair); err != nil {
		return StateFailed, err
	}
	e.log.WithFields(logrus.Fields{"peer": peer, "exchange": exchangeID}).Info("initiated key exchange")
	return StateAwaitingResponse, nil
}

// ---------- shared steps ----------

// verifyFlight checks a flight's timestamp range and its signature against
// the identity key the relay has registered for the claimed sender.
func (e *Engine) verifyFlight(ctx context.Context, from domain.UserID, msg *domain.HandshakeMessage) error {
	if d := e.now().Sub(time.UnixMilli(msg.Timestamp)); d > maxFlightSkew || d < -maxFlightSkew {
		e.log.WithFields(logrus.Fields{"from": from, "type": msg.Type}).Warn("handshake flight outside clock window")
		return oops.Code(domain.CodeBadSignature).Errorf("handshake flight outside clock window")
	}
	pk, err := e.relay.PublicKey(ctx, from)
	if err != nil {
		if domain.HasCode(err, domain.CodeNotFound) {
			return oops.Code(domain.CodeNoPeerIdentity).Errorf("no identity key registered for %s", from)
		}
		return transportOr(err)
	}
	if pk.PublicKey == "" {
		return oops.Code(domain.CodeNoPeerIdentity).Errorf("no identity key registered for %s", from)
	}
	if err := crypto.VerifyHandshake(pk.PublicKey, msg); err != nil {
		e.log.WithFields(logrus.Fields{"from": from, "type": msg.Type}).Error("invalid_signature")
		return err
	}
	return nil
}

// install derives the session key from the completed exchange and stores
// it in the ring and the keystore. The ephemeral private is destroyed and
// the conversation's send counter starts over.
func (e *Engine) install(pair *crypto.ExchangePair, peerPub *ecdh.PublicKey, peer domain.UserID, exchangeID string) error {
	secret, err := crypto.SharedSecret(pair, peerPub)
	if err != nil {
		return err
	}
	defer memzero.Zero(secret)

	key, err := sessionkey.Derive(secret, e.self, peer)
	if err != nil {
		return err
	}
	establishedAt := e.now()
	e.ring.Install(peer, key, establishedAt)
	e.ring.ResetSequence(domain.Conversation(e.self, peer))
	if err := e.keys.StoreSessionKey(peer, key, establishedAt); err != nil {
		return err
	}
	return e.keys.DeleteExchange(exchangeID)
}

// confirm posts the CONFIRM hash for a completed exchange.
func (e *Engine) confirm(ctx context.Context, exchangeID string, peer domain.UserID) error {
	ts := e.now().UnixMilli()
	hash := crypto.ConfirmationHash(e.self, peer, ts)
	if _, err := e.relay.ConfirmExchange(ctx, exchangeID, hash); err != nil {
		return transportOr(err)
	}
	return nil
}

func (e *Engine) peerLock(peer domain.UserID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.peers[peer]
	if !ok {
		lock = &sync.Mutex{}
		e.peers[peer] = lock
	}
	return lock
}

func transportOr(err error) error {
	if code := domain.CodeOf(err); code != "" && code != domain.CodeTransport {
		return err
	}
	return oops.Code(domain.CodeTransport).Wrap(err)
}
