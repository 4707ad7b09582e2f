// Command relay runs the Cipherlink relay server.
//
// Configuration comes from built-in defaults, an optional YAML file named
// by the CIPHERLINK_CONFIG environment variable, and environment variables
// with the CIPHERLINK prefix, in ascending precedence of
// default < file < env. There are no command-line flags.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server/audit"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server/store"
)

func main() {
	log := logrus.New()

	v := viper.New()
	v.SetDefault("listen", ":8080")
	v.SetDefault("data_dir", "./relay-data")
	v.SetDefault("audit_dir", "./relay-audit")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("CIPHERLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if cfg := os.Getenv("CIPHERLINK_CONFIG"); cfg != "" {
		v.SetConfigFile(cfg)
		if err := v.ReadInConfig(); err != nil {
			log.WithError(err).Fatal("read config")
		}
	}

	if level, err := logrus.ParseLevel(v.GetString("log_level")); err == nil {
		log.SetLevel(level)
	}

	st, err := store.Open(store.Config{Dir: v.GetString("data_dir"), Logger: log})
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer st.Close()

	auditLog, err := audit.New(v.GetString("audit_dir"), log)
	if err != nil {
		log.WithError(err).Fatal("open audit log")
	}
	defer auditLog.Close()

	srv := server.New(st, auditLog, log)
	srv.Start()
	defer srv.Stop()

	httpSrv := &http.Server{Addr: v.GetString("listen"), Handler: srv}
	go func() {
		log.WithField("listen", httpSrv.Addr).Info("relay listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("serve")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	_ = httpSrv.Close()
}
