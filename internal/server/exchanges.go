package server

import (
	"net/http"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/crypto"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server/audit"
)

func errInvalidRole(details string) error {
	return oops.Code(domain.CodeInvalidExchangeRole).Errorf("%s", details)
}

// verifyFlight checks a handshake flight's detached signature against the
// sender's registered identity key. The peers verify again on their side;
// this keeps obviously forged flights out of the exchange table and feeds
// the audit trail.
func (s *Server) verifyFlight(caller domain.UserID, flight *domain.HandshakeMessage) error {
	acct, err := s.store.AccountByID(caller)
	if err != nil {
		return err
	}
	if err := crypto.VerifyHandshake(acct.PublicKey, flight); err != nil {
		s.audit.Log(audit.InvalidSignature, logrus.Fields{
			"caller": caller,
			"type":   flight.Type,
		})
		return err
	}
	return nil
}

type initiateRequest struct {
	RecipientID domain.UserID `json:"recipientId"`
	PublicKey   string        `json:"publicKey"`
	Signature   string        `json:"signature"`
	Timestamp   int64         `json:"timestamp"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request, caller domain.UserID) {
	var req initiateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, domain.CodeInternal, "malformed body")
		return
	}
	if req.RecipientID == "" || req.PublicKey == "" || req.Signature == "" || req.Timestamp == 0 {
		s.writeError(w, http.StatusBadRequest, domain.CodeInternal, "recipientId, publicKey, signature and timestamp are required")
		return
	}
	if _, err := s.store.AccountByID(req.RecipientID); err != nil {
		s.writeCoded(w, err)
		return
	}
	flight := domain.HandshakeMessage{
		Type:       domain.HandshakeInitiate,
		FromUserID: caller,
		ToUserID:   req.RecipientID,
		PublicKey:  req.PublicKey,
		Timestamp:  req.Timestamp,
		Signature:  req.Signature,
	}
	if err := s.verifyFlight(caller, &flight); err != nil {
		s.writeCoded(w, err)
		return
	}
	exch, err := s.store.CreateExchange(caller, req.RecipientID, req.PublicKey, req.Signature, req.Timestamp)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	s.audit.Log(audit.KeyExchangeInitiated, logrus.Fields{
		"exchange":  exch.ExchangeID,
		"initiator": caller,
		"responder": req.RecipientID,
	})
	s.writeJSON(w, http.StatusCreated, map[string]string{"exchangeId": exch.ExchangeID})
}

type respondRequest struct {
	ExchangeID string `json:"exchangeId"`
	PublicKey  string `json:"publicKey"`
	Signature  string `json:"signature"`
	Timestamp  int64  `json:"timestamp"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request, caller domain.UserID) {
	var req respondRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, domain.CodeInternal, "malformed body")
		return
	}

	s.exchMu.Lock()
	defer s.exchMu.Unlock()

	exch, err := s.store.GetExchange(req.ExchangeID)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	// The initiator answering their own exchange would collapse the two
	// roles into one party; refuse it.
	if caller == exch.InitiatorID {
		s.audit.Log(audit.KeyExchangeUnauthorized, logrus.Fields{
			"exchange": exch.ExchangeID,
			"caller":   caller,
			"reason":   "initiator-response",
		})
		s.writeCoded(w, errInvalidRole("initiator cannot respond to their own exchange"))
		return
	}
	if caller != exch.ResponderID {
		s.audit.Log(audit.KeyExchangeUnauthorized, logrus.Fields{
			"exchange": exch.ExchangeID,
			"caller":   caller,
			"reason":   "not-a-participant",
		})
		s.writeError(w, http.StatusForbidden, domain.CodeUnauthorized, "not a participant in this exchange")
		return
	}

	flight := domain.HandshakeMessage{
		Type:       domain.HandshakeRespond,
		FromUserID: caller,
		ToUserID:   exch.InitiatorID,
		PublicKey:  req.PublicKey,
		Timestamp:  req.Timestamp,
		Signature:  req.Signature,
	}
	if err := s.verifyFlight(caller, &flight); err != nil {
		s.writeCoded(w, err)
		return
	}

	exch.ResponderPublicKey = req.PublicKey
	exch.ResponderSignature = req.Signature
	exch.ResponderTimestamp = req.Timestamp
	exch.RespondedBy = caller
	if err := s.store.PutExchange(exch); err != nil {
		s.writeCoded(w, err)
		return
	}
	s.audit.Log(audit.KeyExchangeResponse, logrus.Fields{
		"exchange":  exch.ExchangeID,
		"responder": caller,
	})
	s.writeJSON(w, http.StatusOK, map[string]string{
		"exchangeId":        exch.ExchangeID,
		"originalPublicKey": exch.InitiatorPublicKey,
		"originalSignature": exch.InitiatorSignature,
		"responsePublicKey": exch.ResponderPublicKey,
		"responseSignature": exch.ResponderSignature,
	})
}

type confirmRequest struct {
	ExchangeID       string `json:"exchangeId"`
	ConfirmationHash string `json:"confirmationHash"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, caller domain.UserID) {
	var req confirmRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, domain.CodeInternal, "malformed body")
		return
	}
	if req.ConfirmationHash == "" {
		s.writeError(w, http.StatusBadRequest, domain.CodeInternal, "confirmationHash is required")
		return
	}

	s.exchMu.Lock()
	defer s.exchMu.Unlock()

	exch, err := s.store.GetExchange(req.ExchangeID)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	if caller != exch.InitiatorID && caller != exch.ResponderID {
		s.audit.Log(audit.KeyExchangeUnauthorized, logrus.Fields{
			"exchange": exch.ExchangeID,
			"caller":   caller,
			"reason":   "not-a-participant",
		})
		s.writeError(w, http.StatusForbidden, domain.CodeUnauthorized, "not a participant in this exchange")
		return
	}

	if !exch.Confirmed(caller) {
		exch.ConfirmedBy = append(exch.ConfirmedBy, caller)
	}
	both := exch.Confirmed(exch.InitiatorID) && exch.Confirmed(exch.ResponderID)
	if both {
		if err := s.store.DeleteExchange(exch.ExchangeID); err != nil {
			s.writeCoded(w, err)
			return
		}
	} else {
		if err := s.store.PutExchange(exch); err != nil {
			s.writeCoded(w, err)
			return
		}
	}
	s.audit.Log(audit.KeyExchangeConfirmed, logrus.Fields{
		"exchange":       exch.ExchangeID,
		"caller":         caller,
		"both_confirmed": both,
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "confirmed",
		"bothConfirmed": both,
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request, caller domain.UserID) {
	peer := domain.UserID(r.PathValue("peerId"))
	exchanges, err := s.store.PendingFor(caller, peer)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	if exchanges == nil {
		exchanges = []domain.PendingExchange{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"exchanges": exchanges})
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request, caller domain.UserID) {
	peer := domain.UserID(r.PathValue("peerId"))
	responses, err := s.store.ResponsesFor(caller, peer)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	if responses == nil {
		responses = []domain.PendingExchange{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"responses": responses})
}
