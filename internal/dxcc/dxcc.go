// Package dxcc resolves a callsign to its DXCC entity (country, continent,
// CQ zone, ITU zone) by longest-prefix match against a database built from
// the country-files.com cty.plist distribution.
package dxcc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"howett.net/plist"
)

// ErrUnknownPrefix means no entry in the database matched any prefix of
// the given callsign; callers treat the sighting as a spoofed call and
// discard it.
var ErrUnknownPrefix = fmt.Errorf("dxcc: unknown prefix")

const (
	sourceURL      = "https://www.country-files.com/cty/cty.plist"
	refreshWindow  = 7 * 24 * time.Hour
	cacheFileName  = "cty.cache"
	sourceFileName = "cty.plist"
)

// Record is one DXCC prefix entry.
type Record struct {
	Prefix    string
	Country   string
	Continent string
	CQZone    int
	ITUZone   int
	Lat       float64
	Lon       float64
	TZOffset  float64
}

// Database is the in-memory, longest-prefix-match callsign lookup table.
// Safe for concurrent read access; only loading a source or cache file
// (loadSource, loadCache) replaces its contents.
type Database struct {
	mu       sync.RWMutex
	prefixes map[string]Record
	entities map[string]bool
	maxLen   int
	homeDir  string
}

// overrideTag matches a country-files.com cty.plist extra-alias tag, e.g.
// "W1/AA(5)[8]{NA}".
var overrideTag = regexp.MustCompile(`^=?(?P<prefix>[A-Z0-9/]+?)(?:\((?P<cq>\d+)\))?(?:\[(?P<itu>\d+)\])?(?:\{(?P<cont>\w+)\})?$`)

// plistEntity is the shape of one entry under the plist's top-level map:
// country name -> entity record (the country-files.com cty.plist format).
type plistEntity struct {
	Prefix         string   `plist:"Prefix"`
	CQZone         int      `plist:"CQZone"`
	ITUZone        int      `plist:"ITUZone"`
	Continent      string   `plist:"Continent"`
	Latitude       float64  `plist:"Latitude"`
	Longitude      float64  `plist:"Longitude"`
	GMTOffset      float64  `plist:"GMTOffset"`
	ExactCallsigns []string `plist:"ExactCallsigns"`
	PrefixAliases  []string `plist:"PrefixAliases"`
}

// FromRecords builds an in-memory database from a fixed record set,
// bypassing the on-disk cache and upstream fetch. Used by tests and by
// tooling that already holds a parsed prefix table.
func FromRecords(records []Record) *Database {
	db := &Database{prefixes: map[string]Record{}, entities: map[string]bool{}}
	for _, rec := range records {
		p := normalizePrefix(rec.Prefix)
		if p == "" {
			continue
		}
		rec.Prefix = p
		db.prefixes[p] = rec
		db.entities[rec.Country] = true
		if len(p) > db.maxLen {
			db.maxLen = len(p)
		}
	}
	return db
}

// Open loads the database from homeDir, fetching and rebuilding the cache
// from the upstream source when it is absent or older than the refresh
// window (7 days).
func Open(homeDir string) (*Database, error) {
	db := &Database{
		prefixes: map[string]Record{},
		entities: map[string]bool{},
		homeDir:  homeDir,
	}

	cachePath := filepath.Join(homeDir, cacheFileName)
	sourcePath := filepath.Join(homeDir, sourceFileName)

	needFetch := true
	if fi, err := os.Stat(sourcePath); err == nil {
		needFetch = time.Since(fi.ModTime()) > refreshWindow
	}

	if !needFetch {
		if err := db.loadCache(cachePath); err == nil {
			return db, nil
		}
		// Cache missing or corrupt but source is fresh: rebuild from source.
		if err := db.loadSource(sourcePath); err == nil {
			db.saveCache(cachePath)
			return db, nil
		}
	}

	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return nil, fmt.Errorf("dxcc: create home dir: %w", err)
	}
	if err := fetchSource(sourcePath); err != nil {
		// CacheStale: fall back to whatever is on disk, if anything.
		if loadErr := db.loadSource(sourcePath); loadErr == nil {
			log.Printf("dxcc: refresh failed (%v), using stale source", err)
			return db, nil
		}
		if loadErr := db.loadCache(cachePath); loadErr == nil {
			log.Printf("dxcc: refresh failed (%v), using stale cache", err)
			return db, nil
		}
		return nil, fmt.Errorf("dxcc: no source available: %w", err)
	}
	if err := db.loadSource(sourcePath); err != nil {
		return nil, fmt.Errorf("dxcc: parse source: %w", err)
	}
	if err := db.saveCache(cachePath); err != nil {
		log.Printf("dxcc: failed to persist cache: %v", err)
	}
	return db, nil
}

func fetchSource(dst string) error {
	resp, err := http.Get(sourceURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

func (db *Database) loadSource(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc map[string]plistEntity
	if _, err := plist.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode plist: %w", err)
	}

	prefixes := map[string]Record{}
	entities := map[string]bool{}
	maxLen := 0

	for country, ent := range doc {
		base := Record{
			Prefix:    strings.TrimPrefix(ent.Prefix, "*"),
			Country:   country,
			Continent: ent.Continent,
			CQZone:    ent.CQZone,
			ITUZone:   ent.ITUZone,
			Lat:       ent.Latitude,
			Lon:       ent.Longitude,
			TZOffset:  ent.GMTOffset,
		}
		entities[country] = true
		if p := normalizePrefix(base.Prefix); p != "" {
			prefixes[p] = base
			if len(p) > maxLen {
				maxLen = len(p)
			}
		}
		for _, alias := range append(append([]string{}, ent.ExactCallsigns...), ent.PrefixAliases...) {
			rec, p := applyOverride(base, alias)
			if p == "" {
				continue
			}
			prefixes[p] = rec
			if len(p) > maxLen {
				maxLen = len(p)
			}
		}
	}

	db.mu.Lock()
	db.prefixes = prefixes
	db.entities = entities
	db.maxLen = maxLen
	db.mu.Unlock()
	return nil
}

func normalizePrefix(raw string) string {
	p := strings.TrimPrefix(raw, "=")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return strings.ToUpper(p)
}

// applyOverride parses a tagged alias like "W1/AA(5)[8]{NA}" into a copy
// of base with any present zone/continent overrides applied, following
// the country-files.com alias tag grammar.
func applyOverride(base Record, tag string) (Record, string) {
	tag = strings.TrimSuffix(strings.TrimSpace(tag), ";")
	if tag == "" {
		return Record{}, ""
	}
	m := overrideTag.FindStringSubmatch(tag)
	if m == nil {
		return Record{}, ""
	}
	rec := base
	names := overrideTag.SubexpNames()
	var prefix string
	for i, name := range names {
		if i == 0 || m[i] == "" {
			continue
		}
		switch name {
		case "prefix":
			prefix = m[i]
		case "cq":
			if v, err := strconv.Atoi(m[i]); err == nil {
				rec.CQZone = v
			}
		case "itu":
			if v, err := strconv.Atoi(m[i]); err == nil {
				rec.ITUZone = v
			}
		case "cont":
			rec.Continent = m[i]
		}
	}
	rec.Prefix = normalizePrefix(prefix)
	return rec, rec.Prefix
}

// Lookup resolves call to its DXCC entity via longest-prefix match,
// probing prefix lengths from the longest known prefix down to 1.
func (db *Database) Lookup(call string) (Record, error) {
	call = strings.ToUpper(call)
	db.mu.RLock()
	defer db.mu.RUnlock()

	maxLen := db.maxLen
	if maxLen > len(call) {
		maxLen = len(call)
	}
	for n := maxLen; n >= 1; n-- {
		if rec, ok := db.prefixes[call[:n]]; ok {
			return rec, nil
		}
	}
	return Record{}, ErrUnknownPrefix
}

// IsEntity reports whether country is a known DXCC entity name.
func (db *Database) IsEntity(country string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.entities[country]
}

// Entities returns the set of known DXCC entity (country) names.
func (db *Database) Entities() map[string]bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[string]bool, len(db.entities))
	for k := range db.entities {
		out[k] = true
	}
	return out
}

// cache binary format: a small length-prefixed record stream, zstd
// compressed as a whole. Rebuildable from the upstream source at any
// time, so no forward-compatibility guarantee is made across versions.
const cacheFormatVersion uint32 = 1

func (db *Database) saveCache(path string) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var raw bytes.Buffer
	binary.Write(&raw, binary.BigEndian, cacheFormatVersion)
	binary.Write(&raw, binary.BigEndian, uint32(len(db.prefixes)))
	for prefix, rec := range db.prefixes {
		writeCacheString(&raw, prefix)
		writeCacheString(&raw, rec.Country)
		writeCacheString(&raw, rec.Continent)
		binary.Write(&raw, binary.BigEndian, int32(rec.CQZone))
		binary.Write(&raw, binary.BigEndian, int32(rec.ITUZone))
		binary.Write(&raw, binary.BigEndian, rec.Lat)
		binary.Write(&raw, binary.BigEndian, rec.Lon)
		binary.Write(&raw, binary.BigEndian, rec.TZOffset)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	defer enc.Close()
	_, err = enc.Write(raw.Bytes())
	return err
}

func (db *Database) loadCache(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	r := bufio.NewReader(dec)
	var version, count uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return err
	}
	if version != cacheFormatVersion {
		return fmt.Errorf("dxcc: cache version %d unsupported", version)
	}
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return err
	}

	prefixes := make(map[string]Record, count)
	entities := map[string]bool{}
	maxLen := 0
	for i := uint32(0); i < count; i++ {
		prefix, err := readCacheString(r)
		if err != nil {
			return err
		}
		rec := Record{Prefix: prefix}
		if rec.Country, err = readCacheString(r); err != nil {
			return err
		}
		if rec.Continent, err = readCacheString(r); err != nil {
			return err
		}
		var cq, itu int32
		if err := binary.Read(r, binary.BigEndian, &cq); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &itu); err != nil {
			return err
		}
		rec.CQZone, rec.ITUZone = int(cq), int(itu)
		if err := binary.Read(r, binary.BigEndian, &rec.Lat); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &rec.Lon); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &rec.TZOffset); err != nil {
			return err
		}
		prefixes[prefix] = rec
		entities[rec.Country] = true
		if len(prefix) > maxLen {
			maxLen = len(prefix)
		}
	}

	db.mu.Lock()
	db.prefixes = prefixes
	db.entities = entities
	db.maxLen = maxLen
	db.mu.Unlock()
	return nil
}

func writeCacheString(w io.Writer, s string) {
	binary.Write(w, binary.BigEndian, uint32(len(s)))
	io.WriteString(w, s)
}

func readCacheString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
