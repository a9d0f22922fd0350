// Package purge runs the background ticker that evicts stale, un-worked
// sightings from the store.
package purge

import (
	"log"
	"time"

	"github.com/w6bsd/ft8ctrl/internal/metrics"
	"github.com/w6bsd/ft8ctrl/internal/store"
)

// Worker deletes rows with status<2 older than RetryWindow, once per tick.
// Metrics is optional (nil-safe).
type Worker struct {
	Store       *store.Store
	RetryWindow time.Duration
	Interval    time.Duration // defaults to 60s if zero
	Metrics     *metrics.Metrics
}

// Run ticks until stop is closed.
func (w *Worker) Run(stop <-chan struct{}) {
	interval := w.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	log.Printf("purge: started (retry_time %s)", w.RetryWindow)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			count, err := w.Store.Purge(w.RetryWindow)
			if err != nil {
				log.Printf("purge: %v", err)
				continue
			}
			if w.Metrics != nil && count > 0 {
				w.Metrics.SightingsPurged.Add(float64(count))
			}
			log.Printf("purge: %d records", count)
		case <-stop:
			log.Printf("purge: stopping")
			return
		}
	}
}
