package writer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w6bsd/ft8ctrl/internal/dxcc"
	"github.com/w6bsd/ft8ctrl/internal/geodesy"
	"github.com/w6bsd/ft8ctrl/internal/store"
)

func testDXCC() *dxcc.Database {
	return dxcc.FromRecords([]dxcc.Record{
		{Prefix: "W", Country: "United States", Continent: "NA", CQZone: 5, ITUZone: 8},
		{Prefix: "PY", Country: "Brazil", Continent: "SA", CQZone: 11, ITUZone: 15},
	})
}

// runWriter drains cmds through a fresh Writer against st and returns
// once the worker has exited.
func runWriter(t *testing.T, st *store.Store, cmds ...Command) {
	t.Helper()
	queue := make(chan Command, len(cmds))
	for _, c := range cmds {
		queue <- c
	}
	close(queue)

	originLat, originLon, err := geodesy.GridToLatLon("FN20")
	require.NoError(t, err)
	w := &Writer{
		Store:  st,
		DXCC:   testDXCC(),
		Origin: Origin{Lat: originLat, Lon: originLon},
		Queue:  queue,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not drain the queue")
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestInsert_EnrichesSighting(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	runWriter(t, st, NewInsert("W1AW", 20, "", "FN31", -5, 14074000, now, []byte(`{}`)))

	rows, err := st.Candidates(20, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, "W1AW", r.Call)
	assert.Equal(t, 20, r.Band)
	assert.Equal(t, "FN31", r.Grid)
	assert.Equal(t, "United States", r.Country)
	assert.Equal(t, "NA", r.Continent)
	assert.Equal(t, 5, r.CQZone)
	assert.NotZero(t, r.Lat)
	assert.NotZero(t, r.Lon)
	assert.Greater(t, r.Distance, 0.0)
}

func TestInsert_DropsUnknownPrefix(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	runWriter(t, st, NewInsert("QQ0FAKE", 20, "", "FN31", -5, 14074000, now, []byte(`{}`)))

	rows, err := st.Candidates(20, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 0, "a callsign with no DXCC entity is discarded")
}

func TestInsert_MissingGridKeepsRow(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	runWriter(t, st, NewInsert("W1AW", 20, "", "", -5, 14074000, now, []byte(`{}`)))

	rows, err := st.Candidates(20, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Zero(t, rows[0].Distance)
	assert.Zero(t, rows[0].Lat)
}

func TestStatusAndDelete_AppliedInOrder(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	runWriter(t, st,
		NewInsert("W1AW", 20, "", "FN31", -5, 14074000, now, []byte(`{}`)),
		NewStatus("W1AW", 20, 1),
		NewDelete("W1AW", 20),
	)

	status := 1
	rows, err := st.Query(store.Filter{Status: &status, Band: 20})
	require.NoError(t, err)
	assert.Len(t, rows, 0, "the replying row was deleted after the status transition")
}

func TestStatus_LoggedRowSurvivesReinsert(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	runWriter(t, st,
		NewInsert("W1AW", 20, "", "FN31", -15, 14074000, now, []byte(`{}`)),
		NewStatus("W1AW", 20, 2),
		NewInsert("W1AW", 20, "", "FN31", -3, 14074000, now, []byte(`{}`)),
	)

	status := 2
	rows, err := st.Query(store.Filter{Status: &status, Band: 20})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, -15, rows[0].SNR, "a logged row is never refreshed by a later CQ")
}
