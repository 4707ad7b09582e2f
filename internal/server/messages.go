package server

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server/audit"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server/replay"
)

// sendRequest uses pointers for the replay triple so the gate can tell a
// missing field from a zero one.
type sendRequest struct {
	RecipientID    domain.UserID `json:"recipientId"`
	Ciphertext     []byte        `json:"ciphertext"`
	IV             []byte        `json:"iv"`
	Tag            []byte        `json:"tag"`
	Timestamp      *int64        `json:"timestamp"`
	SequenceNumber *uint64       `json:"sequenceNumber"`
	Nonce          *string       `json:"nonce"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, caller domain.UserID) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, domain.CodeInternal, "malformed body")
		return
	}
	if req.RecipientID == "" {
		s.writeError(w, http.StatusBadRequest, domain.CodeInternal, "recipientId is required")
		return
	}
	if _, err := s.store.AccountByID(req.RecipientID); err != nil {
		s.writeCoded(w, err)
		return
	}

	if err := s.gate.Admit(replay.Submission{
		Sender:    caller,
		Recipient: req.RecipientID,
		Nonce:     req.Nonce,
		Timestamp: req.Timestamp,
		Sequence:  req.SequenceNumber,
	}); err != nil {
		s.writeCoded(w, err)
		return
	}

	rec, err := s.store.InsertMessage(domain.CipherRecord{
		SenderID:       caller,
		RecipientID:    req.RecipientID,
		Ciphertext:     req.Ciphertext,
		IV:             req.IV,
		Tag:            req.Tag,
		Timestamp:      *req.Timestamp,
		SequenceNumber: *req.SequenceNumber,
		Nonce:          *req.Nonce,
	})
	if err != nil {
		// The durable backstop can still catch the narrow race the cache
		// missed; its verdict reaches the caller under the same codes.
		s.writeCoded(w, err)
		return
	}
	s.audit.Log(audit.MessageSent, logrus.Fields{
		"message":   rec.ID,
		"sender":    caller,
		"recipient": rec.RecipientID,
		"sequence":  rec.SequenceNumber,
	})
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request, caller domain.UserID) {
	peer := domain.UserID(r.PathValue("peerId"))
	records, err := s.store.Conversation(caller, peer)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	if records == nil {
		records = []domain.CipherRecord{}
	}
	s.audit.Log(audit.MessageAccess, logrus.Fields{
		"caller": caller,
		"peer":   peer,
		"count":  len(records),
	})
	s.writeJSON(w, http.StatusOK, records)
}
