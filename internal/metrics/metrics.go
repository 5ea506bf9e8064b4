// Package metrics holds the Prometheus counters of the inbound pipeline and
// the HTTP listener that exposes them.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	InboundDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imsgclaw",
			Name:      "inbound_decisions_total",
			Help:      "Inbound messages by gate outcome and reason.",
		},
		[]string{"provider", "outcome", "reason"},
	)

	PairingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imsgclaw",
			Name:      "pairing_requests_total",
			Help:      "Pairing lookups; created=true when a new code was issued.",
		},
		[]string{"provider", "created"},
	)

	ReplySends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imsgclaw",
			Name:      "reply_sends_total",
			Help:      "Outbound reply deliveries by kind and status.",
		},
		[]string{"provider", "kind", "status"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imsgclaw",
			Name:      "agent_dispatch_duration_seconds",
			Help:      "Time from envelope dispatch to the agent backend until it returns.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)

// Router serves /healthz and /metrics.
func Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Serve runs the metrics listener until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server starting", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		slog.Info("metrics server shut down")
		return nil
	}
}
