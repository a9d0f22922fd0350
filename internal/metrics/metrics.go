// Package metrics exposes the controller's Prometheus gauges and
// counters. Collection is entirely optional: callers that never call
// Serve simply never expose an HTTP listener, and the counters remain
// harmless, unread in-process values.
package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the gauges/counters the writer, purge worker, and
// selector pipeline update.
type Metrics struct {
	WriterQueueDepth  prometheus.Gauge
	SightingsInserted prometheus.Counter
	SightingsPurged   prometheus.Counter
	Selections        *prometheus.CounterVec
	DecodeErrors      prometheus.Counter
}

// New registers the metric collectors with the default registry.
func New() *Metrics {
	return &Metrics{
		WriterQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ft8ctrl_writer_queue_depth",
			Help: "Current depth of the writer command queue.",
		}),
		SightingsInserted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ft8ctrl_sightings_inserted_total",
			Help: "Total CQ sightings inserted into the store.",
		}),
		SightingsPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ft8ctrl_sightings_purged_total",
			Help: "Total stale sightings purged from the store.",
		}),
		Selections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ft8ctrl_selections_total",
			Help: "Total candidates selected, by selector name.",
		}, []string{"selector"}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ft8ctrl_decode_errors_total",
			Help: "Total UDP datagrams that failed to decode.",
		}),
	}
}

// Serve starts an HTTP listener exposing /metrics on addr until ctx is
// cancelled. A blank addr is a caller error; the ft8ctrl.metrics_listen
// config key gates whether this is ever called.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("metrics: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
