// Package relay is the client side of the Cipherlink relay HTTP surface.
// Everything it carries is opaque ciphertext plus routing metadata.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/samber/oops"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

// Client talks to one relay. Token is the Bearer credential returned by
// Register or Login; unauthenticated calls leave it empty.
type Client struct {
	Base  string
	HTTP  *http.Client
	Token string
}

// New returns a Client for the relay at base.
func New(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{Base: base, HTTP: httpClient}
}

// AuthResponse is what the auth endpoints return.
type AuthResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// Register creates an account and registers the identity public key.
func (c *Client) Register(ctx context.Context, username, password, publicKey string) (AuthResponse, error) {
	var out AuthResponse
	err := c.post(ctx, "/auth/register", map[string]string{
		"username":  username,
		"password":  password,
		"publicKey": publicKey,
	}, &out)
	return out, err
}

// Login authenticates and returns a fresh token.
func (c *Client) Login(ctx context.Context, username, password string) (AuthResponse, error) {
	var out AuthResponse
	err := c.post(ctx, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &out)
	return out, err
}

// PublicKeyResponse is the registered identity key for a user.
type PublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
	Username  string `json:"username"`
}

// PublicKey fetches a user's registered identity public key.
func (c *Client) PublicKey(ctx context.Context, id domain.UserID) (PublicKeyResponse, error) {
	var out PublicKeyResponse
	err := c.get(ctx, "/users/"+url.PathEscape(string(id))+"/public-key", &out)
	return out, err
}

// SearchUsers finds accounts whose username contains q.
func (c *Client) SearchUsers(ctx context.Context, q string) ([]domain.User, error) {
	var out []domain.User
	err := c.get(ctx, "/users/search?q="+url.QueryEscape(q), &out)
	return out, err
}

// InitiateExchange posts an INITIATE flight.
func (c *Client) InitiateExchange(ctx context.Context, msg domain.HandshakeMessage) (string, error) {
	var out struct {
		ExchangeID string `json:"exchangeId"`
	}
	err := c.post(ctx, "/key-exchange/initiate", map[string]any{
		"recipientId": msg.ToUserID,
		"publicKey":   msg.PublicKey,
		"signature":   msg.Signature,
		"timestamp":   msg.Timestamp,
	}, &out)
	return out.ExchangeID, err
}

// RespondResult echoes the initiator's flight back with the response so
// the initiator can re-verify the original signature.
type RespondResult struct {
	ExchangeID        string `json:"exchangeId"`
	OriginalPublicKey string `json:"originalPublicKey"`
	OriginalSignature string `json:"originalSignature"`
	ResponsePublicKey string `json:"responsePublicKey"`
	ResponseSignature string `json:"responseSignature"`
}

// RespondExchange posts a RESPOND flight for an existing exchange.
func (c *Client) RespondExchange(ctx context.Context, exchangeID string, msg domain.HandshakeMessage) (RespondResult, error) {
	var out RespondResult
	err := c.post(ctx, "/key-exchange/response", map[string]any{
		"exchangeId": exchangeID,
		"publicKey":  msg.PublicKey,
		"signature":  msg.Signature,
		"timestamp":  msg.Timestamp,
	}, &out)
	return out, err
}

// ConfirmResult reports confirmation progress for an exchange.
type ConfirmResult struct {
	Status        string `json:"status"`
	BothConfirmed bool   `json:"bothConfirmed"`
}

// ConfirmExchange posts a CONFIRM hash for an exchange.
func (c *Client) ConfirmExchange(ctx context.Context, exchangeID, confirmationHash string) (ConfirmResult, error) {
	var out ConfirmResult
	err := c.post(ctx, "/key-exchange/confirm", map[string]string{
		"exchangeId":       exchangeID,
		"confirmationHash": confirmationHash,
	}, &out)
	return out, err
}

// PendingExchanges lists exchanges where the caller is the responder and
// no response has been stored yet.
func (c *Client) PendingExchanges(ctx context.Context, peer domain.UserID) ([]domain.PendingExchange, error) {
	var out struct {
		Exchanges []domain.PendingExchange `json:"exchanges"`
	}
	err := c.get(ctx, "/key-exchange/pending/"+url.PathEscape(string(peer)), &out)
	return out.Exchanges, err
}

// ExchangeResponses lists the caller's own exchanges that now hold a
// response.
func (c *Client) ExchangeResponses(ctx context.Context, peer domain.UserID) ([]domain.PendingExchange, error) {
	var out struct {
		Responses []domain.PendingExchange `json:"responses"`
	}
	err := c.get(ctx, "/key-exchange/responses/"+url.PathEscape(string(peer)), &out)
	return out.Responses, err
}

// SendMessage submits a CipherRecord; the relay's replay gate runs on it.
func (c *Client) SendMessage(ctx context.Context, rec domain.CipherRecord) error {
	return c.post(ctx, "/messages/send", map[string]any{
		"recipientId":    rec.RecipientID,
		"ciphertext":     rec.Ciphertext,
		"iv":             rec.IV,
		"tag":            rec.Tag,
		"timestamp":      rec.Timestamp,
		"sequenceNumber": rec.SequenceNumber,
		"nonce":          rec.Nonce,
	}, nil)
}

// Conversation fetches the stored records with a peer, oldest first.
func (c *Client) Conversation(ctx context.Context, peer domain.UserID) ([]domain.CipherRecord, error) {
	var out []domain.CipherRecord
	err := c.get(ctx, "/messages/conversation/"+url.PathEscape(string(peer)), &out)
	return out, err
}

// UploadFile submits an encrypted file envelope.
func (c *Client) UploadFile(ctx context.Context, env domain.FileEnvelope) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.post(ctx, "/files/upload", env, &out)
	return out.ID, err
}

// GetFile fetches one envelope by id.
func (c *Client) GetFile(ctx context.Context, id string) (domain.FileEnvelope, error) {
	var out domain.FileEnvelope
	err := c.get(ctx, "/files/"+url.PathEscape(id), &out)
	return out, err
}

// FileConversation fetches the file envelopes exchanged with a peer.
func (c *Client) FileConversation(ctx context.Context, peer domain.UserID) ([]domain.FileEnvelope, error) {
	var out []domain.FileEnvelope
	err := c.get(ctx, "/files/conversation/"+url.PathEscape(string(peer)), &out)
	return out, err
}

// ---------- plumbing ----------

// errorBody is the relay's uniform error response.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return oops.Code(domain.CodeInternal).Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return oops.Code(domain.CodeTransport).Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return oops.Code(domain.CodeTransport).Wrap(err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return oops.Code(domain.CodeTransport).Wrapf(err, "relay %s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var body errorBody
		_ = json.NewDecoder(resp.Body).Decode(&body)
		code := body.Error
		if code == "" {
			code = domain.CodeTransport
		}
		return oops.Code(code).Errorf("relay %s %s: %s (%s)", req.Method, req.URL.Path, resp.Status, body.Details)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return oops.Code(domain.CodeTransport).Wrapf(err, "decode relay response")
		}
	}
	return nil
}
