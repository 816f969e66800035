// Package metrics exposes Prometheus metrics for the crawl loop. The
// collectors are registered on the default registry; Serve starts an optional
// /metrics listener when enabled in config.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "craftbot"

var (
	// PairRequests counts pair requests by outcome: ok, nothing, throttled,
	// server_error, network_error.
	PairRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "pair_requests_total",
		Help:      "Pair requests issued, labeled by outcome.",
	}, []string{"outcome"})

	// PairDuration observes wall time of pair requests.
	PairDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "pair_request_seconds",
		Help:      "Pair request latency.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
	})

	// RateLimitWait observes how long requests blocked on the client-side
	// rate limiter.
	RateLimitWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "rate_limit_wait_seconds",
		Help:      "Time spent waiting for the rate limiter.",
		Buckets:   []float64{.001, .01, .05, .1, .25, .5, 1, 2},
	})

	// NewElements counts elements persisted for the first time.
	NewElements = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "crawler",
		Name:      "new_elements_total",
		Help:      "Elements added to the repository.",
	})

	// Discoveries counts first-ever discoveries (the API's isNew flag).
	Discoveries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "crawler",
		Name:      "discoveries_total",
		Help:      "First-ever discoveries reported by the game.",
	})

	// Recipes counts recipes persisted.
	Recipes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "crawler",
		Name:      "recipes_total",
		Help:      "Recipes added to the repository.",
	})

	// KnownElements tracks the size of the in-memory element pool.
	KnownElements = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "crawler",
		Name:      "known_elements",
		Help:      "Elements currently known to the crawler.",
	})
)

// Serve starts the metrics HTTP listener and blocks until ctx is canceled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
