package selector

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w6bsd/ft8ctrl/internal/config"
	"github.com/w6bsd/ft8ctrl/internal/dxcc"
	"github.com/w6bsd/ft8ctrl/internal/lotw"
	"github.com/w6bsd/ft8ctrl/internal/store"
)

// memberSet is a fixed-membership lotw.Member for tests.
type memberSet map[string]bool

func (m memberSet) Contains(call string) bool { return m[call] }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testDXCC() *dxcc.Database {
	return dxcc.FromRecords([]dxcc.Record{
		{Prefix: "K", Country: "United States", Continent: "NA", CQZone: 5, ITUZone: 8},
		{Prefix: "W", Country: "United States", Continent: "NA", CQZone: 5, ITUZone: 8},
		{Prefix: "PY", Country: "Brazil", Continent: "SA", CQZone: 11, ITUZone: 15},
	})
}

func testDeps(st *store.Store) Deps {
	return Deps{
		Store:       st,
		DXCC:        testDXCC(),
		LOTW:        lotw.Always{},
		BlackList:   map[string]bool{},
		MyContinent: "NA",
	}
}

func addSighting(t *testing.T, st *store.Store, call string, snr int, extra, continent, country string, zone int) {
	t.Helper()
	_, err := st.Upsert(store.Sighting{
		Call: call, Band: 20, SNR: snr, Status: 0, Time: time.Now(),
		Extra: extra, Grid: "FN20", Continent: continent, Country: country,
		CQZone: zone, ITUZone: zone, Distance: 1000, Frequency: 14074000,
		Packet: []byte(`{}`),
	})
	require.NoError(t, err)
}

func anyConfig() *config.Config {
	return &config.Config{
		FT8Ctrl: config.FT8Ctrl{CallSelector: []string{"Any"}},
	}
}

func TestPipeline_AnyPicksHighestSNR(t *testing.T) {
	st := openTestStore(t)
	addSighting(t, st, "W1AW", -20, "", "NA", "United States", 5)
	addSighting(t, st, "PY2XYZ", -5, "", "SA", "Brazil", 11)

	p, err := NewPipeline(anyConfig(), testDeps(st))
	require.NoError(t, err)

	c, name, err := p.Select(20)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "PY2XYZ", c.Call)
	assert.Equal(t, "Any", name)
}

func TestPipeline_UnknownSelectorName(t *testing.T) {
	cfg := &config.Config{FT8Ctrl: config.FT8Ctrl{CallSelector: []string{"Bogus"}}}
	_, err := NewPipeline(cfg, testDeps(openTestStore(t)))
	assert.Error(t, err)
}

func TestPipeline_FirstNonEmptyWins(t *testing.T) {
	st := openTestStore(t)
	addSighting(t, st, "W1AW", -10, "", "NA", "United States", 5)

	cfg := &config.Config{
		FT8Ctrl:   config.FT8Ctrl{CallSelector: []string{"Continent", "Any"}},
		Continent: config.ContinentSelector{List: config.StringList{"AF"}},
	}
	p, err := NewPipeline(cfg, testDeps(st))
	require.NoError(t, err)

	c, name, err := p.Select(20)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Any", name, "empty Continent result falls through to Any")
	assert.Equal(t, "W1AW", c.Call)
}

func TestFetch_DiscardsSameContinentDX(t *testing.T) {
	st := openTestStore(t)
	addSighting(t, st, "W2ABC", -5, "DX", "NA", "United States", 5)
	addSighting(t, st, "PY2XYZ", -15, "DX", "SA", "Brazil", 11)

	p, err := NewPipeline(anyConfig(), testDeps(st))
	require.NoError(t, err)

	c, _, err := p.Select(20)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "PY2XYZ", c.Call, "a DX CQ from our own continent is never a candidate")
}

func TestFetch_MemoizesWithinTTL(t *testing.T) {
	st := openTestStore(t)
	addSighting(t, st, "W1AW", -10, "", "NA", "United States", 5)

	f := newFetcher(testDeps(st), 3*time.Second)
	rows, err := f.fetch(20, 29*time.Second)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	addSighting(t, st, "PY2XYZ", -5, "", "SA", "Brazil", 11)
	rows, err = f.fetch(20, 29*time.Second)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "second fetch inside the memo window returns the cached rows")
}

func TestFetch_ComputesCoef(t *testing.T) {
	st := openTestStore(t)
	addSighting(t, st, "W1AW", -10, "", "NA", "United States", 5)

	f := newFetcher(testDeps(st), time.Second)
	rows, err := f.fetch(20, 29*time.Second)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	// coef = distance * 10^(snr/10) = 1000 * 10^-1
	assert.InDelta(t, 100.0, rows[0].Coef, 1e-6)
}

func TestSelectRecord_SNRBoundsAndBlacklist(t *testing.T) {
	candidates := []Candidate{
		{Sighting: store.Sighting{Call: "LOUD", SNR: 60}},
		{Sighting: store.Sighting{Call: "BANNED", SNR: 0}},
		{Sighting: store.Sighting{Call: "GOOD", SNR: -10}},
		{Sighting: store.Sighting{Call: "QUIET", SNR: -60}},
	}
	blacklist := map[string]bool{"BANNED": true}

	c := selectRecord(candidates, -50, 50, blacklist, false, lotw.Always{})
	require.NotNil(t, c)
	assert.Equal(t, "GOOD", c.Call)
}

func TestSelectRecord_LOTWOnly(t *testing.T) {
	candidates := []Candidate{
		{Sighting: store.Sighting{Call: "NOTLOTW", SNR: 0}},
		{Sighting: store.Sighting{Call: "ISLOTW", SNR: -10}},
	}
	c := selectRecord(candidates, -50, 50, nil, true, memberSet{"ISLOTW": true})
	require.NotNil(t, c)
	assert.Equal(t, "ISLOTW", c.Call)
}

func TestSelectRecord_Empty(t *testing.T) {
	assert.Nil(t, selectRecord(nil, -50, 50, nil, false, lotw.Always{}))
}

func TestContinentSelector_Reverse(t *testing.T) {
	st := openTestStore(t)
	addSighting(t, st, "W1AW", -5, "", "NA", "United States", 5)
	addSighting(t, st, "PY2XYZ", -10, "", "SA", "Brazil", 11)

	cfg := &config.Config{
		FT8Ctrl:   config.FT8Ctrl{CallSelector: []string{"Continent"}},
		Continent: config.ContinentSelector{List: config.StringList{"NA"}, CommonSelector: config.CommonSelector{Reverse: true}},
	}
	p, err := NewPipeline(cfg, testDeps(st))
	require.NoError(t, err)

	c, _, err := p.Select(20)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "PY2XYZ", c.Call, "reverse inverts the continent predicate")
}

func TestCQZoneSelector_CoercesIntegers(t *testing.T) {
	st := openTestStore(t)
	addSighting(t, st, "PY2XYZ", -10, "", "SA", "Brazil", 11)

	cfg := &config.Config{
		FT8Ctrl: config.FT8Ctrl{CallSelector: []string{"CQZone"}},
		CQZone:  config.ZoneSelector{List: config.IntsToStrings(11, 13)},
	}
	p, err := NewPipeline(cfg, testDeps(st))
	require.NoError(t, err)

	c, _, err := p.Select(20)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "PY2XYZ", c.Call)
}

func TestCountrySelector_ValidatesAgainstDXCC(t *testing.T) {
	cfg := &config.Config{
		FT8Ctrl: config.FT8Ctrl{CallSelector: []string{"Country"}},
		Country: config.CountrySelector{List: config.StringList{"Atlantis"}},
	}
	_, err := NewPipeline(cfg, testDeps(openTestStore(t)))
	assert.Error(t, err)
}

func TestCallSignSelector_RegexpOrList(t *testing.T) {
	st := openTestStore(t)
	addSighting(t, st, "K1JT", -10, "", "NA", "United States", 5)
	addSighting(t, st, "PY2XYZ", -5, "", "SA", "Brazil", 11)

	cfg := &config.Config{
		FT8Ctrl:  config.FT8Ctrl{CallSelector: []string{"CallSign"}},
		CallSign: config.CallSignSelector{Regexp: `^K1`},
	}
	p, err := NewPipeline(cfg, testDeps(st))
	require.NoError(t, err)

	c, _, err := p.Select(20)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "K1JT", c.Call)
}

func TestDXCC100_SkipsWorkedCountries(t *testing.T) {
	st := openTestStore(t)
	// Two logged Brazil rows make Brazil "worked" at the default count.
	for _, call := range []string{"PY1AAA", "PY2BBB"} {
		_, err := st.Upsert(store.Sighting{
			Call: call, Band: 20, Status: 0, Time: time.Now(),
			Country: "Brazil", Continent: "SA", Packet: []byte(`{}`),
		})
		require.NoError(t, err)
		require.NoError(t, st.SetStatus(call, 20, 2))
	}
	addSighting(t, st, "PY3CCC", -5, "", "SA", "Brazil", 11)
	addSighting(t, st, "K1JT", -20, "", "NA", "United States", 5)

	cfg := &config.Config{FT8Ctrl: config.FT8Ctrl{CallSelector: []string{"DXCC100"}}}
	p, err := NewPipeline(cfg, testDeps(st))
	require.NoError(t, err)

	c, _, err := p.Select(20)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "K1JT", c.Call, "an already worked entity is not suggested again")
}

func TestPipeline_Names(t *testing.T) {
	cfg := &config.Config{FT8Ctrl: config.FT8Ctrl{CallSelector: []string{"Any", "DXCC100"}}}
	p, err := NewPipeline(cfg, testDeps(openTestStore(t)))
	require.NoError(t, err)
	assert.Equal(t, []string{"Any", "DXCC100"}, p.Names())
}
