// Command metrics-server exposes the collectors registered by
// internal/metrics on their own port, for deployments that scrape
// metrics separately from the api-server/analyzer-server HTTP surfaces
// (both already serve GET /metrics directly against the same default
// registry).
package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ragindex/internal/config"
	"ragindex/internal/logging"
)

func main() {
	config.Load()
	log := logging.FromEnv("metrics-server")
	defer log.Sync()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	addr := config.Str("METRICS_ADDR", ":9109")
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	log.Info("metrics-server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("listen and serve", zap.Error(err))
	}
}
