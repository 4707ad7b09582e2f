// Package server implements the Cipherlink relay: the HTTP surface clients
// speak, account authentication, the anti-replay gate on message ingest,
// and the audit trail. The relay stores only opaque ciphertext and routing
// metadata; it is untrusted for confidentiality and can never observe a
// plaintext or substitute a key undetected.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server/audit"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server/replay"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server/store"
)

// exchangeSweepEvery is the cadence of the pending-exchange expiry pass.
const exchangeSweepEvery = 60 * time.Second

// Server wires the relay's stores, gate and audit trail behind one mux.
type Server struct {
	store *store.Store
	gate  *replay.Gate
	audit *audit.Logger
	log   *logrus.Logger
	mux   *http.ServeMux

	// exchMu serializes read-modify-write cycles on pending exchanges.
	// RESPOND races stay last-writer-wins on the response fields; CONFIRM
	// is set-union on confirmedBy and deletion waits for both peers.
	exchMu sync.Mutex

	stop chan struct{}
	done chan struct{}
}

// New builds a Server. The gate's sweeper and the exchange sweeper are not
// running yet; call Start.
func New(st *store.Store, auditLog *audit.Logger, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{
		store: st,
		gate:  replay.New(st, auditLog, log),
		audit: auditLog,
		log:   log,
		mux:   http.NewServeMux(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Start launches the background sweepers.
func (s *Server) Start() {
	s.gate.Start()
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(exchangeSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := s.store.SweepExchanges(); err != nil {
					s.log.WithError(err).Error("exchange sweep failed")
				} else if n > 0 {
					s.log.WithField("expired", n).Debug("pending exchanges swept")
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the background sweepers.
func (s *Server) Stop() {
	s.gate.Stop()
	close(s.stop)
	<-s.done
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /users/search", s.auth(s.handleSearchUsers))
	s.mux.HandleFunc("GET /users/{id}/public-key", s.auth(s.handlePublicKey))

	s.mux.HandleFunc("POST /key-exchange/initiate", s.auth(s.handleInitiate))
	s.mux.HandleFunc("POST /key-exchange/response", s.auth(s.handleRespond))
	s.mux.HandleFunc("POST /key-exchange/confirm", s.auth(s.handleConfirm))
	s.mux.HandleFunc("GET /key-exchange/pending/{peerId}", s.auth(s.handlePending))
	s.mux.HandleFunc("GET /key-exchange/responses/{peerId}", s.auth(s.handleResponses))

	s.mux.HandleFunc("POST /messages/send", s.auth(s.handleSendMessage))
	s.mux.HandleFunc("GET /messages/conversation/{peerId}", s.auth(s.handleConversation))

	s.mux.HandleFunc("POST /files/upload", s.auth(s.handleUploadFile))
	s.mux.HandleFunc("GET /files/conversation/{peerId}", s.auth(s.handleFileConversation))
	s.mux.HandleFunc("GET /files/{id}", s.auth(s.handleGetFile))
}

// authedHandler receives the authenticated caller alongside the request.
type authedHandler func(w http.ResponseWriter, r *http.Request, caller domain.UserID)

// auth resolves the Bearer token; sender identity always comes from the
// session, never from a request body.
func (s *Server) auth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "missing bearer token")
			return
		}
		caller, err := s.store.UserForToken(token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "invalid or expired token")
			return
		}
		next(w, r, caller)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, details string) {
	s.writeJSON(w, status, map[string]string{"error": code, "details": details})
}

// writeCoded maps a coded error onto the HTTP surface.
func (s *Server) writeCoded(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	switch code {
	case domain.CodeNotFound:
		s.writeError(w, http.StatusNotFound, code, "not found")
	case domain.CodeMissingReplayFields, domain.CodeDuplicateNonce, domain.CodeMessageTooOld,
		domain.CodeMessageFromFuture, domain.CodeInvalidSequence, domain.CodeBadNonce,
		domain.CodeInvalidExchangeRole, domain.CodeBadSignature, domain.CodeLegacyFormat:
		s.writeError(w, http.StatusBadRequest, code, err.Error())
	case domain.CodeUnauthorized:
		s.writeError(w, http.StatusUnauthorized, code, "unauthorized")
	default:
		s.log.WithError(err).Error("internal error")
		s.writeError(w, http.StatusInternalServerError, domain.CodeInternal, "internal error")
	}
}

func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
