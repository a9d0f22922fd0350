package purge

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w6bsd/ft8ctrl/internal/store"
)

func TestRun_EvictsStaleRows(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.Upsert(store.Sighting{
		Call: "OLD1CALL", Band: 20, Status: 0,
		Time: time.Now().Add(-10 * time.Minute), Packet: []byte(`{}`),
	})
	require.NoError(t, err)
	_, err = st.Upsert(store.Sighting{
		Call: "LOGGED1", Band: 20, Status: 0,
		Time: time.Now().Add(-10 * time.Minute), Packet: []byte(`{}`),
	})
	require.NoError(t, err)
	require.NoError(t, st.SetStatus("LOGGED1", 20, 2))

	w := &Worker{Store: st, RetryWindow: 5 * time.Minute, Interval: 20 * time.Millisecond}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(stop)
	}()

	// Wait for at least one tick.
	time.Sleep(100 * time.Millisecond)
	close(stop)
	<-done

	rows, err := st.Query(store.Filter{Band: 20})
	require.NoError(t, err)
	require.Len(t, rows, 1, "only the logged row survives the purge")
	assert.Equal(t, "LOGGED1", rows[0].Call)
	assert.Equal(t, 2, rows[0].Status)
}
