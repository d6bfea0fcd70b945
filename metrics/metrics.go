// Package metrics holds the Prometheus collectors shared by the sample
// store, worker pool and filter queue.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SampleStoreEntries tracks the number of cached waveforms per backend.
	SampleStoreEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fkreview_sample_store_entries",
		Help: "Number of waveforms held in the sample store",
	}, []string{"backend"})

	// SampleStoreBytes tracks the sample payload size per backend.
	SampleStoreBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fkreview_sample_store_bytes",
		Help: "Bytes of sample data held in the sample store",
	}, []string{"backend"})

	// SampleStoreLookups counts retrievals by result (hit, miss).
	SampleStoreLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fkreview_sample_store_lookups_total",
		Help: "Sample store retrievals by result",
	}, []string{"backend", "result"})

	// WorkerRequests counts worker operations by op and outcome.
	WorkerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fkreview_worker_requests_total",
		Help: "Worker requests by operation and outcome",
	}, []string{"op", "outcome"})

	// WorkerLatency observes worker operation latency.
	WorkerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fkreview_worker_latency_seconds",
		Help:    "Worker request latency by operation",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"op"})

	// FilterQueueBatches counts scheduler batches by outcome
	// (filtered, fallback, stale).
	FilterQueueBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fkreview_filter_queue_batches_total",
		Help: "Filter queue channel batches by outcome",
	}, []string{"outcome"})

	// FilterDesigns counts filter definitions designed per filter name.
	FilterDesigns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fkreview_filter_designs_total",
		Help: "Filter definitions designed",
	}, []string{"filter"})

	// FkReviewsMarked counts detections whose FK was marked reviewed, by backend.
	FkReviewsMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fkreview_fk_reviews_marked_total",
		Help: "FK reviews marked",
	}, []string{"backend"})
)

// Purpose: Serve /metrics until ctx is cancelled.
// Key aspects: Empty listen address disables the endpoint.
// Upstream: main startup.
// Downstream: promhttp.Handler, http.Server.
func Serve(ctx context.Context, listen string) error {
	listen = strings.TrimSpace(listen)
	if listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("Metrics: serving on %s/metrics", listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
