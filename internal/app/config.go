package app

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// Config holds runtime wiring options for building the client.
type Config struct {
	Home     string         // config directory, e.g. $HOME/.cipherlink
	RelayURL string         // relay base URL, e.g. http://127.0.0.1:8080
	HTTP     *http.Client   // optional; defaults to http.DefaultClient
	Logger   *logrus.Logger // optional; defaults to a fresh logger
}
