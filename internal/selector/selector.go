// Package selector implements the ordered call-selection pipeline: a
// shared candidate-fetch stage feeding a closed set of selector kinds,
// each applying its own predicate followed by a common post-filter.
package selector

import (
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/w6bsd/ft8ctrl/internal/config"
	"github.com/w6bsd/ft8ctrl/internal/dxcc"
	"github.com/w6bsd/ft8ctrl/internal/lotw"
	"github.com/w6bsd/ft8ctrl/internal/store"
)

// Candidate is a store.Sighting annotated with its ranking coefficient.
type Candidate struct {
	store.Sighting
	Coef float64
}

// Selector is one named policy in the pipeline.
type Selector interface {
	Name() string
	Select(band int) (*Candidate, error)
}

// Deps are the shared collaborators every selector kind is built from.
type Deps struct {
	Store       *store.Store
	DXCC        *dxcc.Database
	LOTW        lotw.Member
	BlackList   map[string]bool
	MyContinent string
}

// cacheEntry holds one band's memoized candidate-fetch result.
type cacheEntry struct {
	at    time.Time
	delta time.Duration
	rows  []Candidate
}

// fetcher is the candidate-fetch stage shared by every selector,
// memoized per band for memoTTL.
type fetcher struct {
	deps    Deps
	memoTTL time.Duration

	mu    sync.Mutex
	cache map[int]cacheEntry
}

func newFetcher(deps Deps, memoTTL time.Duration) *fetcher {
	if memoTTL <= 0 {
		memoTTL = 3 * time.Second
	}
	return &fetcher{deps: deps, memoTTL: memoTTL, cache: map[int]cacheEntry{}}
}

// fetch returns candidates for band within the last delta, discarding
// same-continent "DX" tagged CQs, with coef = distance * 10^(snr/10).
// Results are memoized per (band, delta) for memoTTL.
func (f *fetcher) fetch(band int, delta time.Duration) ([]Candidate, error) {
	f.mu.Lock()
	if e, ok := f.cache[band]; ok && e.delta == delta && time.Since(e.at) < f.memoTTL {
		rows := e.rows
		f.mu.Unlock()
		return rows, nil
	}
	f.mu.Unlock()

	sightings, err := f.deps.Store.Candidates(band, time.Now().Add(-delta))
	if err != nil {
		return nil, fmt.Errorf("selector: fetch candidates: %w", err)
	}

	out := make([]Candidate, 0, len(sightings))
	for _, s := range sightings {
		if s.Extra == "DX" && s.Continent == f.deps.MyContinent {
			continue
		}
		coef := s.Distance * math.Pow(10, float64(s.SNR)/10)
		out = append(out, Candidate{Sighting: s, Coef: coef})
	}

	f.mu.Lock()
	f.cache[band] = cacheEntry{at: time.Now(), delta: delta, rows: out}
	f.mu.Unlock()
	return out, nil
}

// selectRecord applies the unified post-filter: sort by SNR descending,
// drop out-of-bounds SNR, blacklisted calls, and (if configured)
// non-LOTW-member calls; return the first survivor.
func selectRecord(candidates []Candidate, minSNR, maxSNR int, blacklist map[string]bool, lotwOnly bool, member lotw.Member) *Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SNR > sorted[j].SNR })

	for i := range sorted {
		c := sorted[i]
		if c.SNR <= minSNR || c.SNR >= maxSNR {
			continue
		}
		if blacklist[c.Call] {
			continue
		}
		if lotwOnly && !member.Contains(c.Call) {
			continue
		}
		return &c
	}
	return nil
}

// Pipeline is the ordered list of configured selectors, tried in order
// for each selection request.
type Pipeline struct {
	selectors []Selector
}

// NewPipeline builds the pipeline from cfg.FT8Ctrl.CallSelector, in the
// configured order, resolving each name through the registry.
func NewPipeline(cfg *config.Config, deps Deps) (*Pipeline, error) {
	f := newFetcher(deps, 0)
	p := &Pipeline{}
	for _, name := range cfg.FT8Ctrl.CallSelector {
		build, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("selector: unknown selector %q", name)
		}
		sel, err := build(cfg, deps, f)
		if err != nil {
			return nil, fmt.Errorf("selector: build %q: %w", name, err)
		}
		p.selectors = append(p.selectors, sel)
	}
	return p, nil
}

// Select runs the pipeline for band, returning the first selector's
// non-nil candidate along with the selector's name, or (nil, "", nil)
// if none of them produced one.
func (p *Pipeline) Select(band int) (*Candidate, string, error) {
	for _, sel := range p.selectors {
		c, err := sel.Select(band)
		if err != nil {
			return nil, "", fmt.Errorf("selector: %s: %w", sel.Name(), err)
		}
		if c != nil {
			return c, sel.Name(), nil
		}
	}
	return nil, "", nil
}

// Names returns the configured selector names, in pipeline order, for
// the sequencer's SELECTOR[S] stdin command.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.selectors))
	for i, s := range p.selectors {
		out[i] = s.Name()
	}
	return out
}

func logNoise(name string, band int, n int) {
	log.Printf("selector[%s]: band=%d candidates=%d", name, band, n)
}
