// Package lotw maintains a time-bounded cache of callsigns that have
// recently uploaded logs to ARRL's Logbook of the World, used by the
// selector pipeline as a "likely to confirm" filter.
package lotw

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const (
	sourceURL    = "https://lotw.arrl.org/lotw-user-activity.csv"
	expireWindow = 7 * 24 * time.Hour
	lastSeenMax  = 270 * 24 * time.Hour
	memoCapacity = 512
)

const cacheFileName = "lotw_cache.txt"

// Registry is the membership set of recently active LOTW users, refreshed
// from the upstream CSV at most once per expiry window.
type Registry struct {
	users map[string]bool
	memo  *lru.Cache
	path  string
}

// Open loads or refreshes the registry cache under dir.
func Open(dir string) (*Registry, error) {
	memo, err := lru.New(memoCapacity)
	if err != nil {
		return nil, fmt.Errorf("lotw: build memo cache: %w", err)
	}
	r := &Registry{users: map[string]bool{}, memo: memo, path: filepath.Join(dir, cacheFileName)}

	if fi, err := os.Stat(r.path); err == nil && time.Since(fi.ModTime()) < expireWindow {
		if err := r.loadCache(); err == nil {
			return r, nil
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lotw: create cache dir: %w", err)
	}
	if err := r.refresh(); err != nil {
		if loadErr := r.loadCache(); loadErr == nil {
			return r, nil
		}
		return nil, fmt.Errorf("lotw: %w", err)
	}
	return r, nil
}

func (r *Registry) refresh() error {
	resp, err := http.Get(sourceURL)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %s", sourceURL, resp.Status)
	}

	cutoff := time.Now().Add(-lastSeenMax)
	users := map[string]bool{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), ",", 3)
		if len(fields) < 2 {
			continue
		}
		call := strings.ToUpper(strings.TrimSpace(fields[0]))
		seen, err := time.Parse("2006-01-02", strings.TrimSpace(fields[1]))
		if err != nil || call == "" {
			continue
		}
		if seen.Before(cutoff) {
			continue
		}
		users[call] = true
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", sourceURL, err)
	}

	r.users = users
	return r.writeCache()
}

func (r *Registry) writeCache() error {
	f, err := os.Create(r.path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for call := range r.users {
		fmt.Fprintln(w, call)
	}
	return w.Flush()
}

func (r *Registry) loadCache() error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer f.Close()
	users := map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		call := strings.TrimSpace(scanner.Text())
		if call != "" {
			users[call] = true
		}
	}
	r.users = users
	return scanner.Err()
}

// Contains reports whether call has recently used LOTW, memoizing the
// result for subsequent lookups of the same callsign.
func (r *Registry) Contains(call string) bool {
	call = strings.ToUpper(strings.TrimSpace(call))
	if v, ok := r.memo.Get(call); ok {
		return v.(bool)
	}
	v := r.users[call]
	r.memo.Add(call, v)
	return v
}

// Always reports true for every callsign; used when lotw_users_only is
// not configured for a selector.
type Always struct{}

func (Always) Contains(string) bool { return true }

// Member is satisfied by both Registry and Always.
type Member interface {
	Contains(call string) bool
}
