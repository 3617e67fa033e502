// Package metrics exposes Prometheus gauges and counters for the reactor's
// order book, balances, and volume, served over a dedicated HTTP server.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink holds the application's Prometheus collectors and the HTTP server
// that exposes them at /metrics.
type Sink struct {
	OrderCount     *prometheus.GaugeVec
	AccountBalance *prometheus.GaugeVec
	MarketVolume   *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
	logger   *slog.Logger
}

// New creates a Sink and registers its collectors against a private
// registry (never the global default, so tests can construct more than
// one Sink without a duplicate-registration panic).
func New(addr string, logger *slog.Logger) *Sink {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	s := &Sink{
		OrderCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "order_count",
			Help: "Number of open orders per market and side",
		}, []string{"side", "market"}),
		AccountBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "account_balance",
			Help: "Account balance by currency and balance type",
		}, []string{"name", "type", "currency"}),
		MarketVolume: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "market_volume_24h",
			Help: "Cumulative public trade volume (price * amount) observed per market since start",
		}, []string{"market"}),
		registry: reg,
		logger:   logger.With("component", "metrics"),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start runs the metrics HTTP server. Blocks until Stop is called or the
// server fails; callers should run it in its own goroutine.
func (s *Sink) Start() error {
	s.logger.Info("metrics server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the metrics server.
func (s *Sink) Stop() error {
	s.logger.Info("stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
