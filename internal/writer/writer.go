// Package writer runs the sole goroutine that mutates the sighting store,
// consuming a tagged-command channel so that per-(call,band) writes are
// serialized in enqueue order: INSERT -> STATUS(1) -> STATUS(2) -> DELETE.
package writer

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/w6bsd/ft8ctrl/internal/dxcc"
	"github.com/w6bsd/ft8ctrl/internal/geodesy"
	"github.com/w6bsd/ft8ctrl/internal/metrics"
	"github.com/w6bsd/ft8ctrl/internal/mqttspot"
	"github.com/w6bsd/ft8ctrl/internal/store"
)

// CommandKind distinguishes the three operations the Writer accepts.
type CommandKind int

const (
	Insert CommandKind = iota
	Status
	Delete
)

// Command is one tagged unit of work enqueued by the sequencer.
type Command struct {
	Kind   CommandKind
	ID     string // correlation id, for log tracing only
	Call   string
	Band   int
	Status int
	Extra  string
	Grid   string
	SNR    int
	Freq   uint64
	Time   time.Time
	Packet json.RawMessage
}

// NewInsert builds an INSERT command with a fresh correlation id.
func NewInsert(call string, band int, extra, grid string, snr int, freq uint64, t time.Time, packet json.RawMessage) Command {
	return Command{Kind: Insert, ID: uuid.NewString(), Call: call, Band: band,
		Extra: extra, Grid: grid, SNR: snr, Freq: freq, Time: t, Packet: packet}
}

// NewStatus builds a STATUS command.
func NewStatus(call string, band, status int) Command {
	return Command{Kind: Status, ID: uuid.NewString(), Call: call, Band: band, Status: status}
}

// NewDelete builds a DELETE command.
func NewDelete(call string, band int) Command {
	return Command{Kind: Delete, ID: uuid.NewString(), Call: call, Band: band}
}

// Origin is the operator's own station location, used to compute distance
// and azimuth to each incoming sighting.
type Origin struct {
	Lat, Lon float64
}

// Writer owns the store handle; Run must be invoked from exactly one
// goroutine. Metrics and Spot are both optional (nil-safe) fan-outs.
type Writer struct {
	Store   *store.Store
	DXCC    *dxcc.Database
	Origin  Origin
	Queue   <-chan Command
	Metrics *metrics.Metrics
	Spot    *mqttspot.Publisher
}

// Run drains w.Queue until the channel is closed, applying each command to
// the store. Transient store errors are logged with the current queue
// depth and never stop the worker.
func (w *Writer) Run() {
	log.Printf("writer: started")
	for cmd := range w.Queue {
		if w.Metrics != nil {
			w.Metrics.WriterQueueDepth.Set(float64(len(w.Queue)))
		}
		switch cmd.Kind {
		case Insert:
			w.handleInsert(cmd)
		case Status:
			if err := w.Store.SetStatus(cmd.Call, cmd.Band, cmd.Status); err != nil {
				log.Printf("writer[%s]: queue=%d status %s/%d=%d: %v", cmd.ID, len(w.Queue), cmd.Call, cmd.Band, cmd.Status, err)
			}
			if cmd.Status == 2 && w.Spot != nil {
				w.Spot.PublishLogged(mqttspot.Logged{Call: cmd.Call, Band: cmd.Band, Time: time.Now().UTC()})
			}
		case Delete:
			if err := w.Store.Delete(cmd.Call, cmd.Band); err != nil {
				log.Printf("writer[%s]: queue=%d delete %s/%d: %v", cmd.ID, len(w.Queue), cmd.Call, cmd.Band, err)
			}
		}
	}
	log.Printf("writer: channel closed, exiting")
}

func (w *Writer) handleInsert(cmd Command) {
	var lat, lon, distance float64
	var azimuth int
	if cmd.Grid != "" {
		var err error
		lat, lon, err = geodesy.GridToLatLon(cmd.Grid)
		if err != nil {
			// A malformed grid still gets a row; distance/azimuth stay zero.
			lat, lon = 0, 0
		} else {
			distance, azimuth = geodesy.DistanceBearing(w.Origin.Lat, w.Origin.Lon, lat, lon)
		}
	}

	rec, err := w.DXCC.Lookup(cmd.Call)
	if err != nil {
		log.Printf("writer[%s]: %s has no DXCC entity, probably a fake callsign", cmd.ID, cmd.Call)
		return
	}

	sig := store.Sighting{
		Call: cmd.Call, Extra: cmd.Extra, Time: cmd.Time, Status: 0, SNR: cmd.SNR,
		Grid: cmd.Grid, Lat: lat, Lon: lon, Distance: distance, Azimuth: azimuth,
		Country: rec.Country, Continent: rec.Continent, CQZone: rec.CQZone, ITUZone: rec.ITUZone,
		Frequency: cmd.Freq, Band: cmd.Band, Packet: cmd.Packet,
	}
	inserted, err := w.Store.Upsert(sig)
	if err != nil {
		log.Printf("writer[%s]: queue=%d upsert %s: %v", cmd.ID, len(w.Queue), cmd.Call, err)
		return
	}
	if !inserted {
		log.Printf("writer[%s]: %s already known on band %d (refreshed or worked)", cmd.ID, cmd.Call, cmd.Band)
		return
	}
	if w.Metrics != nil {
		w.Metrics.SightingsInserted.Inc()
	}
	if w.Spot != nil {
		w.Spot.PublishSpot(mqttspot.Spot{
			Call: sig.Call, Band: sig.Band, Grid: sig.Grid, SNR: sig.SNR,
			Country: sig.Country, Continent: sig.Continent,
			Distance: sig.Distance, Azimuth: sig.Azimuth, Time: sig.Time,
		})
	}
}
