package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authapi "notekeep/cmd/internal/auth/api"
)

// pinger reports whether a backing service is reachable.
type pinger func(ctx context.Context) error

func registerHTTP(
	mux *http.ServeMux,
	log *slog.Logger,
	cfg Config,
	gatherer prometheus.Gatherer,
	checks map[string]pinger,
	auth *authapi.Handler,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && checks["db"] == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		for name, check := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := check(ctx)
			cancel()
			if err != nil {
				http.Error(w, name+" not ready", http.StatusServiceUnavailable)
				log.Info("readyz.not_ready", "dependency", name, "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	if auth != nil {
		auth.Register(mux)
	}
}
