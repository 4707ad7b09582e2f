package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

// CreateExchange stores a fresh INITIATE as a pending exchange.
func (s *Store) CreateExchange(initiator, responder domain.UserID, publicKey, signature string, timestamp int64) (domain.PendingExchange, error) {
	exch := domain.PendingExchange{
		ExchangeID:         uuid.NewString(),
		InitiatorID:        initiator,
		ResponderID:        responder,
		InitiatorPublicKey: publicKey,
		InitiatorSignature: signature,
		InitiatorTimestamp: timestamp,
		CreatedAt:          time.Now().UnixMilli(),
	}
	if err := s.putJSON([]byte("exch/"+exch.ExchangeID), exch); err != nil {
		return domain.PendingExchange{}, err
	}
	return exch, nil
}

// GetExchange loads a pending exchange, treating expired ones as absent.
func (s *Store) GetExchange(id string) (domain.PendingExchange, error) {
	var exch domain.PendingExchange
	if err := s.getJSON([]byte("exch/"+id), &exch); err != nil {
		return domain.PendingExchange{}, err
	}
	if s.exchangeExpired(exch) {
		_ = s.delete([]byte("exch/" + id))
		return domain.PendingExchange{}, oops.Code(domain.CodeNotFound).Errorf("exchange %s expired", id)
	}
	return exch, nil
}

// PutExchange overwrites a pending exchange. Concurrent RESPOND races
// resolve last-writer-wins on the response fields; the handler serializes
// confirm set-union updates.
func (s *Store) PutExchange(exch domain.PendingExchange) error {
	return s.putJSON([]byte("exch/"+exch.ExchangeID), exch)
}

// DeleteExchange removes a pending exchange; absent is fine.
func (s *Store) DeleteExchange(id string) error {
	return s.delete([]byte("exch/" + id))
}

// PendingFor lists live exchanges where responder has yet to answer
// initiator.
func (s *Store) PendingFor(responder, initiator domain.UserID) ([]domain.PendingExchange, error) {
	var out []domain.PendingExchange
	err := scanPrefix(s, []byte("exch/"), func(e domain.PendingExchange) error {
		if s.exchangeExpired(e) {
			return nil
		}
		if e.ResponderID == responder && e.InitiatorID == initiator && !e.Responded() {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// ResponsesFor lists live exchanges initiator opened toward responder that
// now hold a response.
func (s *Store) ResponsesFor(initiator, responder domain.UserID) ([]domain.PendingExchange, error) {
	var out []domain.PendingExchange
	err := scanPrefix(s, []byte("exch/"), func(e domain.PendingExchange) error {
		if s.exchangeExpired(e) {
			return nil
		}
		if e.InitiatorID == initiator && e.ResponderID == responder && e.Responded() {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// SweepExchanges deletes every expired pending exchange and reports how
// many went.
func (s *Store) SweepExchanges() (int, error) {
	var stale []string
	err := scanPrefix(s, []byte("exch/"), func(e domain.PendingExchange) error {
		if s.exchangeExpired(e) {
			stale = append(stale, e.ExchangeID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, id := range stale {
		if err := s.delete([]byte("exch/" + id)); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func (s *Store) exchangeExpired(e domain.PendingExchange) bool {
	return time.Since(time.UnixMilli(e.CreatedAt)) > domain.ExchangeTTL
}
