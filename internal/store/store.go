// Package store persists CQ sightings in a single-file SQLite database
// with row-level locking, giving the sequencer's Writer a single-writer,
// multi-reader store that the selector pipeline queries concurrently.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS cqcalls
(
  call TEXT,
  extra TEXT,
  time TIMESTAMP,
  status INTEGER,
  snr INTEGER,
  grid TEXT,
  lat REAL,
  lon REAL,
  distance REAL,
  azimuth REAL,
  country TEXT,
  continent TEXT,
  cqzone INTEGER,
  ituzone INTEGER,
  frequency INTEGER,
  band INTEGER,
  packet JSON
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_call on cqcalls (call, band);
CREATE INDEX IF NOT EXISTS idx_time on cqcalls (time DESC);
CREATE INDEX IF NOT EXISTS idx_grid on cqcalls (grid ASC);
`

const driverName = "sqlite3_ft8ctrl"

var registerOnce sync.Once

func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3ConnectHookDriver{})
	})
}

// Sighting mirrors one row of the cqcalls table.
type Sighting struct {
	Call      string
	Extra     string
	Time      time.Time
	Status    int
	SNR       int
	Grid      string
	Lat       float64
	Lon       float64
	Distance  float64
	Azimuth   int
	Country   string
	Continent string
	CQZone    int
	ITUZone   int
	Frequency uint64
	Band      int
	Packet    json.RawMessage
}

// Store wraps the database handle. Connections use a 15s busy timeout
// and autocommit, so concurrent readers wait out the writer's row locks
// instead of failing.
type Store struct {
	db *sql.DB
}

// Open creates the schema if absent and returns a Store backed by path.
func Open(path string) (*Store, error) {
	registerDriver()
	dsn := fmt.Sprintf("file:%s?_busy_timeout=15000&_journal_mode=DELETE", path)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Upsert inserts a new sighting, or refreshes snr/packet of an existing
// one, unless that row has already been logged (status=2), which is
// never overwritten. inserted is true only when a new row was created.
func (s *Store) Upsert(sig Sighting) (inserted bool, err error) {
	var existing int
	if err := s.db.QueryRow(`SELECT count(*) FROM cqcalls WHERE call = ? AND band = ?`,
		sig.Call, sig.Band).Scan(&existing); err != nil {
		return false, fmt.Errorf("store: upsert %s: %w", sig.Call, err)
	}
	const q = `
INSERT INTO cqcalls VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(call, band) DO UPDATE SET snr = excluded.snr, packet = excluded.packet
WHERE status <> 2`
	res, err := s.db.Exec(q,
		sig.Call, sig.Extra, sig.Time, sig.Status, sig.SNR, sig.Grid,
		sig.Lat, sig.Lon, sig.Distance, sig.Azimuth, sig.Country, sig.Continent,
		sig.CQZone, sig.ITUZone, sig.Frequency, sig.Band, string(sig.Packet))
	if err != nil {
		return false, fmt.Errorf("store: upsert %s: %w", sig.Call, err)
	}
	n, _ := res.RowsAffected()
	return existing == 0 && n > 0, nil
}

// SetStatus advances a sighting's status, refusing to touch an already
// logged (status=2) row.
func (s *Store) SetStatus(call string, band, status int) error {
	const q = `UPDATE cqcalls SET status=? WHERE status <> 2 AND call = ? AND band = ?`
	_, err := s.db.Exec(q, status, call, band)
	if err != nil {
		return fmt.Errorf("store: status %s/%d: %w", call, band, err)
	}
	return nil
}

// Delete removes a replying (status=1) sighting, used when a snipe is
// observed on the station we were about to reply to.
func (s *Store) Delete(call string, band int) error {
	const q = `DELETE FROM cqcalls WHERE status = 1 AND call = ? AND band = ?`
	_, err := s.db.Exec(q, call, band)
	if err != nil {
		return fmt.Errorf("store: delete %s/%d: %w", call, band, err)
	}
	return nil
}

// Purge deletes un-worked sightings older than retryWindow. The cutoff
// is bound as a parameter, never interpolated into the SQL text.
func (s *Store) Purge(retryWindow time.Duration) (count int64, err error) {
	cutoff := time.Now().Add(-retryWindow)
	const q = `DELETE FROM cqcalls WHERE status < 2 AND time < ?`
	res, err := s.db.Exec(q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}
	count, _ = res.RowsAffected()
	return count, nil
}

// Candidates returns rows where status=0, band matches, and time is
// within the selector pipeline's delta window, ordered by time ascending.
func (s *Store) Candidates(band int, since time.Time) ([]Sighting, error) {
	const q = `SELECT call, extra, time, status, snr, grid, lat, lon, distance, azimuth,
		country, continent, cqzone, ituzone, frequency, band, packet
		FROM cqcalls WHERE status = 0 AND band = ? AND time > ? ORDER BY time ASC`
	rows, err := s.db.Query(q, band, since)
	if err != nil {
		return nil, fmt.Errorf("store: candidates: %w", err)
	}
	defer rows.Close()
	return scanSightings(rows)
}

// Filter narrows a Query over stored sightings. Zero-valued fields are
// not applied; Band 0 means every band.
type Filter struct {
	CallRegexp string
	Country    string
	Status     *int
	Since      time.Time
	Band       int
}

// Query returns the rows matching every set field of f, ordered by time
// ascending. CallRegexp is evaluated by the registered REGEXP function.
func (s *Store) Query(f Filter) ([]Sighting, error) {
	q := `SELECT call, extra, time, status, snr, grid, lat, lon, distance, azimuth,
		country, continent, cqzone, ituzone, frequency, band, packet
		FROM cqcalls WHERE 1=1`
	var args []any
	if f.CallRegexp != "" {
		q += ` AND REGEXP(?, call)`
		args = append(args, f.CallRegexp)
	}
	if f.Country != "" {
		q += ` AND country = ?`
		args = append(args, f.Country)
	}
	if f.Status != nil {
		q += ` AND status = ?`
		args = append(args, *f.Status)
	}
	if !f.Since.IsZero() {
		q += ` AND time > ?`
		args = append(args, f.Since)
	}
	if f.Band != 0 {
		q += ` AND band = ?`
		args = append(args, f.Band)
	}
	q += ` ORDER BY time ASC`
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()
	return scanSightings(rows)
}

// QueryByCallsignRegexp returns open (status=0) rows whose call matches re.
func (s *Store) QueryByCallsignRegexp(re string) ([]Sighting, error) {
	status := 0
	return s.Query(Filter{CallRegexp: re, Status: &status})
}

func scanSightings(rows *sql.Rows) ([]Sighting, error) {
	var out []Sighting
	for rows.Next() {
		var sig Sighting
		var packet string
		if err := rows.Scan(&sig.Call, &sig.Extra, &sig.Time, &sig.Status, &sig.SNR,
			&sig.Grid, &sig.Lat, &sig.Lon, &sig.Distance, &sig.Azimuth,
			&sig.Country, &sig.Continent, &sig.CQZone, &sig.ITUZone,
			&sig.Frequency, &sig.Band, &packet); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		sig.Packet = json.RawMessage(packet)
		out = append(out, sig)
	}
	return out, rows.Err()
}

// WorkedCountries returns the set of countries with at least minCount
// rows logged (status=2) on band, used by the DXCC100 selector to avoid
// suggesting an already-worked entity.
func (s *Store) WorkedCountries(band, minCount int) (map[string]bool, error) {
	const q = `SELECT country FROM cqcalls WHERE status = 2 AND band = ?
		GROUP BY country HAVING count(*) >= ?`
	rows, err := s.db.Query(q, band, minCount)
	if err != nil {
		return nil, fmt.Errorf("store: worked countries: %w", err)
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var country string
		if err := rows.Scan(&country); err != nil {
			return nil, fmt.Errorf("store: scan worked country: %w", err)
		}
		out[country] = true
	}
	return out, rows.Err()
}

// regexpFunc implements the REGEXP(pattern, value) SQL function contract
// with Go's regexp engine.
func regexpFunc(pattern, value string) (bool, error) {
	return regexp.MatchString(pattern, value)
}
