package selector

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/w6bsd/ft8ctrl/internal/config"
)

// buildFunc constructs one named Selector from its configuration section
// and the shared dependencies/fetcher.
type buildFunc func(cfg *config.Config, deps Deps, f *fetcher) (Selector, error)

// registry is the closed, compile-time set of selector kinds;
// configuration may only name selectors from this map.
var registry = map[string]buildFunc{
	"Any":       buildAny,
	"CallSign":  buildCallSign,
	"Grid":      buildGrid,
	"Continent": buildContinent,
	"Country":   buildCountry,
	"CQZone":    buildCQZone,
	"ITUZone":   buildITUZone,
	"Extra":     buildExtra,
	"DXCC100":   buildDXCC100,
}

// predicateSelector is the common shape of every selector kind except
// DXCC100: fetch candidates, keep those where predicate(c) XOR reverse,
// then run the shared post-filter.
type predicateSelector struct {
	name      string
	f         *fetcher
	deps      Deps
	delta     time.Duration
	minSNR    int
	maxSNR    int
	reverse   bool
	lotwOnly  bool
	predicate func(Candidate) bool
}

func (s *predicateSelector) Name() string { return s.name }

func (s *predicateSelector) Select(band int) (*Candidate, error) {
	candidates, err := s.f.fetch(band, s.delta)
	if err != nil {
		return nil, err
	}
	var kept []Candidate
	for _, c := range candidates {
		if s.predicate(c) != s.reverse {
			kept = append(kept, c)
		}
	}
	logNoise(s.name, band, len(kept))
	return selectRecord(kept, s.minSNR, s.maxSNR, s.deps.BlackList, s.lotwOnly, s.deps.LOTW), nil
}

func buildAny(cfg *config.Config, deps Deps, f *fetcher) (Selector, error) {
	c := cfg.Any
	return &predicateSelector{
		name: "Any", f: f, deps: deps,
		delta:  time.Duration(c.DeltaSeconds()) * time.Second,
		minSNR: c.MinSNRValue(), maxSNR: c.MaxSNRValue(),
		reverse: c.Reverse, lotwOnly: c.LOTWUsersOnly,
		predicate: func(Candidate) bool { return true },
	}, nil
}

func buildCallSign(cfg *config.Config, deps Deps, f *fetcher) (Selector, error) {
	c := cfg.CallSign
	var re *regexp.Regexp
	if c.Regexp != "" {
		compiled, err := regexp.Compile(c.Regexp)
		if err != nil {
			return nil, fmt.Errorf("CallSign.regexp: %w", err)
		}
		re = compiled
	}
	list := toSet(c.List)
	return &predicateSelector{
		name: "CallSign", f: f, deps: deps,
		delta:  time.Duration(c.DeltaSeconds()) * time.Second,
		minSNR: c.MinSNRValue(), maxSNR: c.MaxSNRValue(),
		reverse: c.Reverse, lotwOnly: c.LOTWUsersOnly,
		predicate: func(cand Candidate) bool {
			if re != nil && re.MatchString(cand.Call) {
				return true
			}
			return list[cand.Call]
		},
	}, nil
}

func buildGrid(cfg *config.Config, deps Deps, f *fetcher) (Selector, error) {
	c := cfg.Grid
	if c.Regexp == "" {
		return nil, fmt.Errorf("Grid.regexp is required")
	}
	re, err := regexp.Compile(c.Regexp)
	if err != nil {
		return nil, fmt.Errorf("Grid.regexp: %w", err)
	}
	return &predicateSelector{
		name: "Grid", f: f, deps: deps,
		delta:  time.Duration(c.DeltaSeconds()) * time.Second,
		minSNR: c.MinSNRValue(), maxSNR: c.MaxSNRValue(),
		reverse: c.Reverse, lotwOnly: c.LOTWUsersOnly,
		predicate: func(cand Candidate) bool { return re.MatchString(cand.Grid) },
	}, nil
}

func buildContinent(cfg *config.Config, deps Deps, f *fetcher) (Selector, error) {
	c := cfg.Continent
	set := toSet(c.List)
	return &predicateSelector{
		name: "Continent", f: f, deps: deps,
		delta:  time.Duration(c.DeltaSeconds()) * time.Second,
		minSNR: c.MinSNRValue(), maxSNR: c.MaxSNRValue(),
		reverse: c.Reverse, lotwOnly: c.LOTWUsersOnly,
		predicate: func(cand Candidate) bool { return set[cand.Continent] },
	}, nil
}

func buildCountry(cfg *config.Config, deps Deps, f *fetcher) (Selector, error) {
	c := cfg.Country
	for _, country := range c.List {
		if !deps.DXCC.IsEntity(country) {
			return nil, fmt.Errorf("Country.list: %q is not a known DXCC entity", country)
		}
	}
	set := toSet(c.List)
	return &predicateSelector{
		name: "Country", f: f, deps: deps,
		delta:  time.Duration(c.DeltaSeconds()) * time.Second,
		minSNR: c.MinSNRValue(), maxSNR: c.MaxSNRValue(),
		reverse: c.Reverse, lotwOnly: c.LOTWUsersOnly,
		predicate: func(cand Candidate) bool { return set[cand.Country] },
	}, nil
}

func buildCQZone(cfg *config.Config, deps Deps, f *fetcher) (Selector, error) {
	c := cfg.CQZone
	set, err := toIntSet(c.List)
	if err != nil {
		return nil, fmt.Errorf("CQZone.list: %w", err)
	}
	return &predicateSelector{
		name: "CQZone", f: f, deps: deps,
		delta:  time.Duration(c.DeltaSeconds()) * time.Second,
		minSNR: c.MinSNRValue(), maxSNR: c.MaxSNRValue(),
		reverse: c.Reverse, lotwOnly: c.LOTWUsersOnly,
		predicate: func(cand Candidate) bool { return set[cand.CQZone] },
	}, nil
}

func buildITUZone(cfg *config.Config, deps Deps, f *fetcher) (Selector, error) {
	c := cfg.ITUZone
	set, err := toIntSet(c.List)
	if err != nil {
		return nil, fmt.Errorf("ITUZone.list: %w", err)
	}
	return &predicateSelector{
		name: "ITUZone", f: f, deps: deps,
		delta:  time.Duration(c.DeltaSeconds()) * time.Second,
		minSNR: c.MinSNRValue(), maxSNR: c.MaxSNRValue(),
		reverse: c.Reverse, lotwOnly: c.LOTWUsersOnly,
		predicate: func(cand Candidate) bool { return set[cand.ITUZone] },
	}, nil
}

func buildExtra(cfg *config.Config, deps Deps, f *fetcher) (Selector, error) {
	c := cfg.Extra
	set := toSet(c.List)
	return &predicateSelector{
		name: "Extra", f: f, deps: deps,
		delta:  time.Duration(c.DeltaSeconds()) * time.Second,
		minSNR: c.MinSNRValue(), maxSNR: c.MaxSNRValue(),
		reverse: c.Reverse, lotwOnly: c.LOTWUsersOnly,
		predicate: func(cand Candidate) bool { return set[cand.Extra] },
	}, nil
}

// dxcc100Selector discards candidates whose country has already been
// worked at least WorkedCount times on the requested band, then applies
// the shared post-filter to what remains.
type dxcc100Selector struct {
	f           *fetcher
	deps        Deps
	delta       time.Duration
	minSNR      int
	maxSNR      int
	lotwOnly    bool
	workedCount int
}

func (s *dxcc100Selector) Name() string { return "DXCC100" }

func (s *dxcc100Selector) Select(band int) (*Candidate, error) {
	worked, err := s.deps.Store.WorkedCountries(band, s.workedCount)
	if err != nil {
		return nil, fmt.Errorf("dxcc100: worked countries: %w", err)
	}
	candidates, err := s.f.fetch(band, s.delta)
	if err != nil {
		return nil, err
	}
	var kept []Candidate
	for _, c := range candidates {
		if !worked[c.Country] {
			kept = append(kept, c)
		}
	}
	logNoise("DXCC100", band, len(kept))
	return selectRecord(kept, s.minSNR, s.maxSNR, s.deps.BlackList, s.lotwOnly, s.deps.LOTW), nil
}

func buildDXCC100(cfg *config.Config, deps Deps, f *fetcher) (Selector, error) {
	c := cfg.DXCC100
	return &dxcc100Selector{
		f: f, deps: deps,
		delta:  time.Duration(c.DeltaSeconds()) * time.Second,
		minSNR: c.MinSNRValue(), maxSNR: c.MaxSNRValue(),
		lotwOnly: c.LOTWUsersOnly, workedCount: c.WorkedCountValue(),
	}, nil
}

func toSet(list config.StringList) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, v := range list {
		set[v] = true
	}
	return set
}

func toIntSet(list config.StringList) (map[int]bool, error) {
	set := make(map[int]bool, len(list))
	for _, v := range list {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%q is not a zone number", v)
		}
		set[n] = true
	}
	return set, nil
}

// BuildBlackList turns the configured list into a lookup set for Deps.
func BuildBlackList(list config.StringList) map[string]bool { return toSet(list) }
