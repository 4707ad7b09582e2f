package app

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/codec"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/keystore"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/protocol/handshake"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/protocol/sessionkey"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/relay"
)

// Wire bundles the stores, the session ring, the codec and the relay
// client for the CLI.
type Wire struct {
	Keys  *keystore.Store
	Ring  *sessionkey.Ring
	Codec *codec.Codec
	Relay *relay.Client
	Log   *logrus.Logger
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config) *Wire {
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	ring := sessionkey.NewRing()
	return &Wire{
		Keys:  keystore.New(cfg.Home),
		Ring:  ring,
		Codec: codec.New(ring, log),
		Relay: relay.New(cfg.RelayURL, httpClient),
		Log:   log,
	}
}

// Engine builds a handshake engine for the given account, with the
// keystore unlocked exactly once for the process lifetime.
func (w *Wire) Engine(userID domain.UserID, password string) *handshake.Engine {
	return handshake.New(w.Keys.Unlock(userID, password), w.Ring, w.Relay, w.Log)
}
