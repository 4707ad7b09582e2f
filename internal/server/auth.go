package server

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server/audit"
)

type registerRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	PublicKey string `json:"publicKey"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, domain.CodeInternal, "malformed body")
		return
	}
	if req.Username == "" || req.Password == "" || req.PublicKey == "" {
		s.audit.Log(audit.AuthAttempt, logrus.Fields{"username": req.Username, "outcome": "rejected"})
		s.writeError(w, http.StatusBadRequest, domain.CodeInternal, "username, password and publicKey are required")
		return
	}
	if _, err := s.store.AccountByName(req.Username); err == nil {
		s.audit.Log(audit.AuthAttempt, logrus.Fields{"username": req.Username, "outcome": "duplicate"})
		s.writeError(w, http.StatusBadRequest, domain.CodeInternal, "username already taken")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	acct, err := s.store.CreateAccount(req.Username, hash, req.PublicKey)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	token, err := s.store.IssueToken(acct.ID)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	s.audit.Log(audit.AuthAttempt, logrus.Fields{"username": req.Username, "user": acct.ID, "outcome": "registered"})
	s.writeJSON(w, http.StatusCreated, authResponse{
		Token: token,
		User:  domain.User{ID: acct.ID, Username: acct.Username},
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, domain.CodeInternal, "malformed body")
		return
	}
	acct, err := s.store.AccountByName(req.Username)
	if err != nil {
		s.audit.Log(audit.AuthAttempt, logrus.Fields{"username": req.Username, "outcome": "unknown-user"})
		s.writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(req.Password)) != nil {
		s.audit.Log(audit.AuthAttempt, logrus.Fields{"username": req.Username, "user": acct.ID, "outcome": "bad-password"})
		s.writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "invalid credentials")
		return
	}
	token, err := s.store.IssueToken(acct.ID)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	s.audit.Log(audit.AuthAttempt, logrus.Fields{"username": req.Username, "user": acct.ID, "outcome": "accepted"})
	s.writeJSON(w, http.StatusOK, authResponse{
		Token: token,
		User:  domain.User{ID: acct.ID, Username: acct.Username},
	})
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request, _ domain.UserID) {
	acct, err := s.store.AccountByID(domain.UserID(r.PathValue("id")))
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"publicKey": acct.PublicKey,
		"username":  acct.Username,
	})
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request, caller domain.UserID) {
	users, err := s.store.SearchAccounts(r.URL.Query().Get("q"))
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	out := make([]domain.User, 0, len(users))
	for _, u := range users {
		if u.ID != caller {
			out = append(out, u)
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}
