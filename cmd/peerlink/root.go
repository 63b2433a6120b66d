package main

import (
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/peerlink/config"
	"github.com/opd-ai/peerlink/crypto"
	"github.com/opd-ai/peerlink/metrics"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        *config.Config
	metrics    *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "peerlink",
		Short:        "Peer-to-peer identity, transport and NAT discovery tools",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.ApplyLogging(); err != nil {
				return err
			}
			a.cfg = cfg
			a.metrics = metrics.New()
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "settings file in .env format (default ./.env when present)")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("key-dir", "", "identity key directory; empty or \"ephemeral\" keeps keys in memory")

	root.AddCommand(
		newIdentityCmd(a),
		newGatherCmd(a),
		newListenCmd(a),
		newConnectCmd(a),
		newEncryptCmd(a),
		newDecryptCmd(a),
	)
	return root
}

func (a *app) entity() (*crypto.Entity, error) {
	return crypto.NewEntity(a.cfg.KeyLocation(),
		crypto.WithKeyCache(a.cfg.KeyCacheSize),
		crypto.WithMetrics(a.metrics),
	)
}

// serveMetrics exposes the registry when metrics_addr is configured. The
// returned function shuts the server down.
func (a *app) serveMetrics() func() {
	if a.cfg.MetricsAddr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithFields(logrus.Fields{
				"function": "serveMetrics",
				"addr":     a.cfg.MetricsAddr,
				"error":    err.Error(),
			}).Error("Metrics server failed")
		}
	}()
	logrus.WithField("addr", a.cfg.MetricsAddr).Info("Serving metrics")
	return func() { srv.Close() }
}

func writeLine(w io.Writer, s string) error {
	_, err := io.WriteString(w, s+"\n")
	return err
}
