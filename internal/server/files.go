package server

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server/audit"
)

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request, caller domain.UserID) {
	var env domain.FileEnvelope
	if err := decodeBody(r, &env); err != nil {
		s.writeError(w, http.StatusBadRequest, domain.CodeInternal, "malformed body")
		return
	}
	if env.RecipientID == "" || env.TotalChunks == 0 || len(env.Chunks) != env.TotalChunks {
		s.writeError(w, http.StatusBadRequest, domain.CodeInternal, "recipientId and a dense chunk list are required")
		return
	}
	if _, err := s.store.AccountByID(env.RecipientID); err != nil {
		s.writeCoded(w, err)
		return
	}
	env.SenderID = caller
	stored, err := s.store.PutFile(env)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	s.audit.Log(audit.FileUploaded, logrus.Fields{
		"file":      stored.ID,
		"sender":    caller,
		"recipient": stored.RecipientID,
		"name":      stored.FileName,
		"size":      stored.FileSize,
		"chunks":    stored.TotalChunks,
	})
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": stored.ID})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request, caller domain.UserID) {
	env, err := s.store.GetFile(r.PathValue("id"))
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	if caller != env.SenderID && caller != env.RecipientID {
		s.writeError(w, http.StatusForbidden, domain.CodeUnauthorized, "not a participant in this conversation")
		return
	}
	s.audit.Log(audit.FileAccessed, logrus.Fields{"file": env.ID, "caller": caller})
	s.writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleFileConversation(w http.ResponseWriter, r *http.Request, caller domain.UserID) {
	peer := domain.UserID(r.PathValue("peerId"))
	envs, err := s.store.FileConversation(caller, peer)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	if envs == nil {
		envs = []domain.FileEnvelope{}
	}
	s.audit.Log(audit.FileAccessed, logrus.Fields{"caller": caller, "peer": peer, "count": len(envs)})
	s.writeJSON(w, http.StatusOK, envs)
}
