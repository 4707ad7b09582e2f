package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/codec"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/crypto"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/keystore"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/protocol/handshake"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/protocol/sessionkey"
	relayclient "github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/relay"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server/audit"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server/store"
)

type testRelay struct {
	srv *httptest.Server
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	st, err := store.Open(store.Config{InMemory: true, Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	auditLog, err := audit.New(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })

	s := server.New(st, auditLog, log)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return &testRelay{srv: srv}
}

func (r *testRelay) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, r.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (r *testRelay) register(t *testing.T, username string) (domain.UserID, string) {
	t.Helper()
	resp, body := r.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username":  username,
		"password":  "pw-" + username,
		"publicKey": "spki-" + username,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	user := body["user"].(map[string]any)
	return domain.UserID(user["id"].(string)), body["token"].(string)
}

// registerIdentity registers an account with a real identity key and
// returns the signing half for building handshake flights.
func (r *testRelay) registerIdentity(t *testing.T, username string) (domain.UserID, string, *crypto.Identity) {
	t.Helper()
	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	pub, err := identity.ExportPublicBase64()
	require.NoError(t, err)
	resp, body := r.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username":  username,
		"password":  "pw-" + username,
		"publicKey": pub,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	user := body["user"].(map[string]any)
	return domain.UserID(user["id"].(string)), body["token"].(string), identity
}

func validSend(recipient domain.UserID, nonce string, seq uint64) map[string]any {
	return map[string]any{
		"recipientId":    recipient,
		"ciphertext":     []byte("ct"),
		"iv":             make([]byte, 12),
		"tag":            make([]byte, 16),
		"timestamp":      time.Now().UnixMilli(),
		"sequenceNumber": seq,
		"nonce":          nonce,
	}
}

func TestRegisterLoginAndPublicKey(t *testing.T) {
	r := newTestRelay(t)
	aliceID, aliceToken := r.register(t, "alice")

	// Duplicate usernames are refused.
	resp, _ := r.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "alice", "password": "x", "publicKey": "k",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := r.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "alice", "password": "pw-alice",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["token"])

	resp, _ = r.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = r.do(t, http.MethodGet, "/users/"+string(aliceID)+"/public-key", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "spki-alice", body["publicKey"])
	require.Equal(t, "alice", body["username"])
}

func TestSendRequiresAuth(t *testing.T) {
	r := newTestRelay(t)
	aliceID, _ := r.register(t, "alice")

	resp, _ := r.do(t, http.MethodPost, "/messages/send", "", validSend(aliceID, "nonce", 1))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = r.do(t, http.MethodPost, "/messages/send", "bogus-token", validSend(aliceID, "nonce", 1))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// S1/S2: an accepted ingest resubmitted verbatim is rejected with
// duplicate-nonce and the stored conversation is unchanged.
func TestSendAndReplay(t *testing.T) {
	r := newTestRelay(t)
	aliceID, aliceToken := r.register(t, "alice")
	bobID, bobToken := r.register(t, "bob")

	payload := validSend(bobID, "nonce-replay", 1)
	resp, _ := r.do(t, http.MethodPost, "/messages/send", aliceToken, payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := r.do(t, http.MethodPost, "/messages/send", aliceToken, payload)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "duplicate-nonce", body["error"])

	// Bob still sees exactly one message.
	var records []domain.CipherRecord
	getJSON(t, r, "/messages/conversation/"+string(aliceID), bobToken, &records)
	require.Len(t, records, 1)
}

// Searching never returns the caller themselves.
func TestSearchExcludesCaller(t *testing.T) {
	r := newTestRelay(t)
	_, aliceToken := r.register(t, "alice")
	_, _ = r.register(t, "alicia")

	var users []domain.User
	getJSON(t, r, "/users/search?q=ali", aliceToken, &users)
	require.Len(t, users, 1)
	require.Equal(t, "alicia", users[0].Username)
}

func getJSON(t *testing.T, r *testRelay, path, token string, out any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, r.srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// S3: fresh ciphertext with a six-minute-old timestamp.
func TestSendStaleTimestamp(t *testing.T) {
	r := newTestRelay(t)
	_, aliceToken := r.register(t, "alice")
	bobID, _ := r.register(t, "bob")

	payload := validSend(bobID, "nonce-stale", 1)
	payload["timestamp"] = time.Now().Add(-6 * time.Minute).UnixMilli()
	resp, body := r.do(t, http.MethodPost, "/messages/send", aliceToken, payload)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "message-too-old", body["error"])
}

func TestSendFutureTimestamp(t *testing.T) {
	r := newTestRelay(t)
	_, aliceToken := r.register(t, "alice")
	bobID, _ := r.register(t, "bob")

	payload := validSend(bobID, "nonce-future", 1)
	payload["timestamp"] = time.Now().Add(2 * time.Minute).UnixMilli()
	resp, body := r.do(t, http.MethodPost, "/messages/send", aliceToken, payload)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "message-from-future", body["error"])
}

// S4: sequence rewind.
func TestSendSequenceRewind(t *testing.T) {
	r := newTestRelay(t)
	_, aliceToken := r.register(t, "alice")
	bobID, _ := r.register(t, "bob")

	resp, _ := r.do(t, http.MethodPost, "/messages/send", aliceToken, validSend(bobID, "nonce-1", 1))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := r.do(t, http.MethodPost, "/messages/send", aliceToken, validSend(bobID, "nonce-2", 1))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid-sequence-number", body["error"])
}

func TestSendMissingReplayFields(t *testing.T) {
	r := newTestRelay(t)
	_, aliceToken := r.register(t, "alice")
	bobID, _ := r.register(t, "bob")

	payload := validSend(bobID, "nonce-x", 1)
	delete(payload, "nonce")
	resp, body := r.do(t, http.MethodPost, "/messages/send", aliceToken, payload)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "missing-replay-fields", body["error"])
}

func TestKeyExchangeFlow(t *testing.T) {
	r := newTestRelay(t)
	aliceID, aliceToken, aliceIdentity := r.registerIdentity(t, "alice")
	bobID, bobToken, bobIdentity := r.registerIdentity(t, "bob")

	// Alice initiates toward Bob with a signed flight.
	alicePair, err := crypto.GenerateExchangePair()
	require.NoError(t, err)
	aliceEph, err := alicePair.PublicBase64()
	require.NoError(t, err)
	initiate := domain.HandshakeMessage{
		Type:       domain.HandshakeInitiate,
		FromUserID: aliceID,
		ToUserID:   bobID,
		PublicKey:  aliceEph,
		Timestamp:  time.Now().UnixMilli(),
	}
	require.NoError(t, crypto.SignHandshake(aliceIdentity, &initiate))

	// A flight whose signed bytes differ from those submitted is refused.
	forgedPair, err := crypto.GenerateExchangePair()
	require.NoError(t, err)
	forgedEph, err := forgedPair.PublicBase64()
	require.NoError(t, err)
	resp, body := r.do(t, http.MethodPost, "/key-exchange/initiate", aliceToken, map[string]any{
		"recipientId": bobID,
		"publicKey":   forgedEph,
		"signature":   initiate.Signature,
		"timestamp":   initiate.Timestamp,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "bad-signature", body["error"])

	resp, body = r.do(t, http.MethodPost, "/key-exchange/initiate", aliceToken, map[string]any{
		"recipientId": bobID,
		"publicKey":   initiate.PublicKey,
		"signature":   initiate.Signature,
		"timestamp":   initiate.Timestamp,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	exchangeID := body["exchangeId"].(string)

	// Bob sees it pending; Alice does not.
	var pending map[string][]domain.PendingExchange
	getJSON(t, r, "/key-exchange/pending/"+string(aliceID), bobToken, &pending)
	require.Len(t, pending["exchanges"], 1)
	getJSON(t, r, "/key-exchange/pending/"+string(bobID), aliceToken, &pending)
	require.Empty(t, pending["exchanges"])

	// Bob's signed response.
	bobPair, err := crypto.GenerateExchangePair()
	require.NoError(t, err)
	bobEph, err := bobPair.PublicBase64()
	require.NoError(t, err)
	respond := domain.HandshakeMessage{
		Type:       domain.HandshakeRespond,
		FromUserID: bobID,
		ToUserID:   aliceID,
		PublicKey:  bobEph,
		Timestamp:  time.Now().UnixMilli(),
	}
	require.NoError(t, crypto.SignHandshake(bobIdentity, &respond))

	// The initiator cannot answer their own exchange.
	resp, body = r.do(t, http.MethodPost, "/key-exchange/response", aliceToken, map[string]any{
		"exchangeId": exchangeID,
		"publicKey":  aliceEph,
		"signature":  initiate.Signature,
		"timestamp":  initiate.Timestamp,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid-exchange-role", body["error"])

	// A third party cannot either.
	_, carolToken, _ := r.registerIdentity(t, "carol")
	resp, _ = r.do(t, http.MethodPost, "/key-exchange/response", carolToken, map[string]any{
		"exchangeId": exchangeID,
		"publicKey":  bobEph,
		"signature":  respond.Signature,
		"timestamp":  respond.Timestamp,
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Bob responds; the reply echoes the original INITIATE fields.
	resp, body = r.do(t, http.MethodPost, "/key-exchange/response", bobToken, map[string]any{
		"exchangeId": exchangeID,
		"publicKey":  respond.PublicKey,
		"signature":  respond.Signature,
		"timestamp":  respond.Timestamp,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, initiate.PublicKey, body["originalPublicKey"])
	require.Equal(t, initiate.Signature, body["originalSignature"])
	require.Equal(t, respond.PublicKey, body["responsePublicKey"])

	// Alice now sees the response.
	var responses map[string][]domain.PendingExchange
	getJSON(t, r, "/key-exchange/responses/"+string(bobID), aliceToken, &responses)
	require.Len(t, responses["responses"], 1)

	// One confirmation is not enough to delete the exchange.
	resp, body = r.do(t, http.MethodPost, "/key-exchange/confirm", aliceToken, map[string]any{
		"exchangeId":       exchangeID,
		"confirmationHash": crypto.ConfirmationHash(aliceID, bobID, time.Now().UnixMilli()),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["bothConfirmed"])

	resp, body = r.do(t, http.MethodPost, "/key-exchange/confirm", bobToken, map[string]any{
		"exchangeId":       exchangeID,
		"confirmationHash": crypto.ConfirmationHash(bobID, aliceID, time.Now().UnixMilli()),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["bothConfirmed"])

	// Deleted once both confirmed.
	getJSON(t, r, "/key-exchange/responses/"+string(bobID), aliceToken, &responses)
	require.Empty(t, responses["responses"])
}

func TestFileUploadAndFetch(t *testing.T) {
	r := newTestRelay(t)
	_, aliceToken := r.register(t, "alice")
	bobID, bobToken := r.register(t, "bob")
	_, carolToken := r.register(t, "carol")

	env := domain.FileEnvelope{
		RecipientID: bobID,
		FileName:    "notes.txt",
		FileSize:    11,
		MimeType:    "text/plain",
		TotalChunks: 1,
		Chunks:      []domain.CipherChunk{{Index: 0, Ciphertext: []byte("sealed"), IV: make([]byte, 12), Tag: make([]byte, 16)}},
		Timestamp:   time.Now().UnixMilli(),
	}
	resp, body := r.do(t, http.MethodPost, "/files/upload", aliceToken, env)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	fileID := body["id"].(string)

	var got domain.FileEnvelope
	getJSON(t, r, "/files/"+fileID, bobToken, &got)
	require.Equal(t, "notes.txt", got.FileName)
	require.Equal(t, 1, got.TotalChunks)

	// Only participants may fetch the envelope.
	req, err := http.NewRequest(http.MethodGet, r.srv.URL+"/files/"+fileID, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+carolToken)
	rawResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	rawResp.Body.Close()
	require.Equal(t, http.StatusForbidden, rawResp.StatusCode)

	var list []domain.FileEnvelope
	getJSON(t, r, "/files/conversation/"+fmt.Sprint(bobID), aliceToken, &list)
	require.Len(t, list, 1)
}


// client bundles everything one real user runs against the relay.
type client struct {
	id     domain.UserID
	ring   *sessionkey.Ring
	codec  *codec.Codec
	relay  *relayclient.Client
	engine *handshake.Engine
}

func newClient(t *testing.T, r *testRelay, username string) *client {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	pub, err := identity.ExportPublicBase64()
	require.NoError(t, err)

	rc := relayclient.New(r.srv.URL, nil)
	resp, err := rc.Register(context.Background(), username, "pw-"+username, pub)
	require.NoError(t, err)
	rc.Token = resp.Token

	keys := keystore.New(t.TempDir())
	require.NoError(t, keys.StoreIdentityPrivate(resp.User.ID, identity, "pp"))
	unlocked := keys.Unlock(resp.User.ID, "pp")

	ring := sessionkey.NewRing()
	return &client{
		id:     resp.User.ID,
		ring:   ring,
		codec:  codec.New(ring, log),
		relay:  rc,
		engine: handshake.New(unlocked, ring, rc, log),
	}
}

// The full happy path over real HTTP: registration, the two-flight signed
// handshake with confirmation, an encrypted send through the replay gate,
// and decryption on the other side.
func TestEndToEndHandshakeAndMessaging(t *testing.T) {
	r := newTestRelay(t)
	ctx := context.Background()
	alice := newClient(t, r, "alice")
	bob := newClient(t, r, "bob")

	state, err := alice.engine.Open(ctx, bob.id)
	require.NoError(t, err)
	require.Equal(t, handshake.StateAwaitingResponse, state)

	state, err = bob.engine.Open(ctx, alice.id)
	require.NoError(t, err)
	require.Equal(t, handshake.StateEstablished, state)

	state, err = alice.engine.Open(ctx, bob.id)
	require.NoError(t, err)
	require.Equal(t, handshake.StateEstablished, state)

	aliceSession, ok := alice.engine.SessionFor(bob.id)
	require.True(t, ok)
	bobSession, ok := bob.engine.SessionFor(alice.id)
	require.True(t, ok)
	require.Equal(t, aliceSession.Key, bobSession.Key)

	// Alice sends; the gate accepts sequence 1.
	rec, err := alice.codec.EncryptMessage(aliceSession.Key, domain.Conversation(alice.id, bob.id), "hello")
	require.NoError(t, err)
	rec.RecipientID = bob.id
	require.NoError(t, alice.relay.SendMessage(ctx, rec))

	// Resubmitting the accepted record verbatim is a replay.
	err = alice.relay.SendMessage(ctx, rec)
	require.Equal(t, domain.CodeDuplicateNonce, domain.CodeOf(err))

	// Bob fetches and decrypts.
	records, err := bob.relay.Conversation(ctx, alice.id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	plaintext, err := bob.codec.DecryptMessage(bobSession.Key, records[0])
	require.NoError(t, err)
	require.Equal(t, "hello", plaintext)

	// And an encrypted file makes the round trip too.
	payload := []byte("file payload bytes")
	env, err := alice.codec.EncryptFile(aliceSession.Key, bob.id, "notes.txt", "text/plain", payload)
	require.NoError(t, err)
	fileID, err := alice.relay.UploadFile(ctx, env)
	require.NoError(t, err)

	fetched, err := bob.relay.GetFile(ctx, fileID)
	require.NoError(t, err)
	data, err := bob.codec.DecryptFile(bobSession.Key, fetched)
	require.NoError(t, err)
	require.Equal(t, payload, data)
}
