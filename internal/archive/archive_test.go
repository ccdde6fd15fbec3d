package archive

import (
	"errors"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodelog/flashlog"
)

func openMem(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(Options{Dir: "archive", Pebble: &pebble.Options{FS: vfs.NewMem()}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func rec(date, clock uint32, v uint32) flashlog.Record {
	return flashlog.Record{date, clock, v, v}
}

func TestPut_DeduplicatesAndOrders(t *testing.T) {
	a := openMem(t)
	at := time.Unix(1_700_000_000, 0)

	recs := []flashlog.Record{
		rec(20250102, 90000, 3),
		rec(20250101, 235959, 2),
		rec(20250101, 120000, 1),
		rec(20250101, 120000, 1),
	}
	n, err := a.Put("node-a", recs, at)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = a.Put("node-a", recs[:2], at.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "re-drained records are not stored twice")

	var got []Entry
	require.NoError(t, a.Scan("node-a", func(e Entry) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 3)
	assert.Equal(t, []flashlog.Record{recs[2], recs[1], recs[0]},
		[]flashlog.Record{got[0].Record, got[1].Record, got[2].Record})
	assert.Equal(t, "node-a", got[0].Node)
	assert.True(t, got[0].Received.Equal(at))
}

func TestScan_PerNodeAndAll(t *testing.T) {
	a := openMem(t)
	at := time.Now()
	_, err := a.Put("a", []flashlog.Record{rec(20250101, 1, 1)}, at)
	require.NoError(t, err)
	_, err = a.Put("ab", []flashlog.Record{rec(20250101, 2, 2), rec(20250101, 3, 3)}, at)
	require.NoError(t, err)

	n, err := a.Count("a")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "prefix of another node name")
	n, err = a.Count("ab")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = a.Count("")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stop := errors.New("stop")
	err = a.Scan("", func(Entry) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestNoteDrain(t *testing.T) {
	a := openMem(t)
	for want := uint64(1); want <= 3; want++ {
		n, err := a.NoteDrain("node")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err := a.Count("")
	require.NoError(t, err)
	assert.Zero(t, n, "drain counters are not records")
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}
