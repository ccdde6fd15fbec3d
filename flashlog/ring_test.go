package flashlog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodelog/errcode"
	"nodelog/flash"
)

// twoByFour is two pages of four records each.
var twoByFour = flash.Geometry{Start: 0, End: 1, PageSize: 4 * flash.RecordSize}

func newRing(t *testing.T, g flash.Geometry) (*Ring, *flash.Mem) {
	t.Helper()
	m := flash.NewMem(g)
	r, err := NewRing(g, m, nil)
	require.NoError(t, err)
	return r, m
}

func rec(i int) Record {
	return Record{uint32(0x20250100 + i), uint32(i), uint32(i << 16), uint32(1000 + i)}
}

func appendN(t *testing.T, r *Ring, from, to int) []Record {
	t.Helper()
	var out []Record
	for i := from; i <= to; i++ {
		require.NoError(t, r.Append(context.Background(), rec(i)))
		out = append(out, rec(i))
	}
	return out
}

func drainAll(t *testing.T, r *Ring) []Record {
	t.Helper()
	var out []Record
	for {
		rec, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, rec)
	}
}

func TestRecordWireLayout(t *testing.T) {
	r := Record{0x00112233, 0x44556677, 0x8899AABB, 0xCCDDEEFF}
	b, err := r.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x00, 0x11, 0x22, 0x33,
		0x44, 0x55, 0x66, 0x77,
		0x88, 0x99, 0xAA, 0xBB,
		0xCC, 0xDD, 0xEE, 0xFF,
	}, b)

	back, err := ParseRecord(b)
	require.NoError(t, err)
	assert.Equal(t, r, back)

	_, err = ParseRecord(b[:15])
	assert.Equal(t, errcode.InvalidPayload, errcode.Of(err))
}

func TestRoundTripWithinCapacity(t *testing.T) {
	g := flash.Geometry{Start: 2, End: 4, PageSize: 4 * flash.RecordSize}
	for n := 1; n <= int(g.Capacity()); n++ {
		r, _ := newRing(t, g)
		want := appendN(t, r, 1, n)
		assert.Equal(t, want, drainAll(t, r), "n=%d", n)
	}
}

func TestWraparoundKeepsNewestSuffix(t *testing.T) {
	g := flash.Geometry{Start: 0, End: 2, PageSize: 4 * flash.RecordSize}
	rpp := int(g.RecordsPerPage())
	capacity := int(g.Capacity())

	for n := 1; n <= 5*capacity; n++ {
		r, _ := newRing(t, g)
		all := appendN(t, r, 1, n)

		keep := n
		if n > capacity {
			keep = (int(g.Pages())-1)*rpp + (n-1)%rpp + 1
		}
		got := drainAll(t, r)
		require.Equal(t, all[n-keep:], got, "n=%d", n)
		assert.LessOrEqual(t, len(got), capacity)
	}
}

func TestScenarioA_TwoPagesOfFour(t *testing.T) {
	r, _ := newRing(t, twoByFour)
	all := appendN(t, r, 1, 10)

	// R1..R4 shared the start page, which was erased whole for R9.
	want := all[4:]
	assert.Equal(t, want, drainAll(t, r))

	r.Reset()
	assert.Equal(t, want, drainAll(t, r), "second drain with no appends")
}

func TestScenarioB_EmptyDrain(t *testing.T) {
	r, m := newRing(t, twoByFour)
	assert.Empty(t, drainAll(t, r))

	erases, writes, reads := m.Ops()
	assert.Zero(t, erases)
	assert.Zero(t, writes)
	assert.Zero(t, reads)
}

func TestEraseOncePerRevolution(t *testing.T) {
	g := flash.Geometry{Start: 1, End: 3, PageSize: 4 * flash.RecordSize}
	r, m := newRing(t, g)
	capacity := int(g.Capacity())

	for rev := 1; rev <= 3; rev++ {
		appendN(t, r, (rev-1)*capacity+1, rev*capacity)
		for p := g.Start; p <= g.End; p++ {
			assert.Equal(t, rev, m.Erases(p), "page %d after revolution %d", p, rev)
		}
	}
	assert.Zero(t, m.Erases(0), "page outside the ring")

	erases, writes, _ := m.Ops()
	assert.Equal(t, 3*int(g.Pages()), erases)
	assert.Equal(t, 3*capacity, writes)
}

func TestDrainIdempotentAfterReset(t *testing.T) {
	r, _ := newRing(t, twoByFour)
	want := appendN(t, r, 1, 6)

	assert.Equal(t, want, drainAll(t, r))
	r.Reset()
	assert.Equal(t, want, drainAll(t, r))
	r.Reset()

	// The next append starts a fresh log.
	fresh := appendN(t, r, 100, 102)
	assert.Equal(t, fresh, drainAll(t, r))
	assert.False(t, r.Stats().Wrapped)
}

func TestCompletedDrainStaysComplete(t *testing.T) {
	r, _ := newRing(t, twoByFour)
	appendN(t, r, 1, 2)
	drainAll(t, r)

	_, ok, err := r.Next()
	require.NoError(t, err)
	assert.False(t, ok)

	r.Rewind()
	assert.Len(t, drainAll(t, r), 2)
}

func TestAppendRejectedDuringDrain(t *testing.T) {
	r, _ := newRing(t, twoByFour)
	appendN(t, r, 1, 3)

	_, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, r.Draining())

	err = r.Append(context.Background(), rec(99))
	assert.Equal(t, errcode.Busy, errcode.Of(err))

	drainAll(t, r)
	assert.False(t, r.Draining())
	assert.NoError(t, r.Append(context.Background(), rec(4)))
}

func TestReaderFollowsWriterAfterWrap(t *testing.T) {
	g := flash.Geometry{Start: 0, End: 3, PageSize: 2 * flash.RecordSize}
	r, _ := newRing(t, g)

	appendN(t, r, 1, 8)
	assert.Equal(t, uint32(0), r.Stats().ReadPage, "pinned to start on first pass")

	appendN(t, r, 9, 9)
	st := r.Stats()
	assert.True(t, st.Wrapped)
	assert.Equal(t, uint32(0), st.WritePage)
	assert.Equal(t, uint32(1), st.ReadPage)

	appendN(t, r, 10, 11)
	st = r.Stats()
	assert.Equal(t, uint32(1), st.WritePage)
	assert.Equal(t, uint32(2), st.ReadPage)
}

func TestStorageFaultIsSticky(t *testing.T) {
	r, m := newRing(t, twoByFour)
	appendN(t, r, 1, 4)

	boom := errors.New("erase timeout")
	m.FailErase = func(uint32) error { return boom }

	err := r.Append(context.Background(), rec(5))
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "erase", se.Op)
	assert.Equal(t, uint32(1), se.Page)
	assert.ErrorIs(t, err, boom)
	assert.True(t, errcode.IsFatal(err))

	m.FailErase = nil
	assert.ErrorIs(t, r.Append(context.Background(), rec(5)), boom)
	_, _, err = r.Next()
	assert.ErrorIs(t, err, boom)
	assert.True(t, r.Stats().Faulted)
}

func TestWriteFaultLeavesCursorUnmoved(t *testing.T) {
	r, m := newRing(t, twoByFour)
	appendN(t, r, 1, 2)
	before := r.Stats()

	m.FailWrite = func(uint32) error { return errors.New("program verify") }
	err := r.Append(context.Background(), rec(3))
	assert.Equal(t, errcode.StorageFault, errcode.Of(err))
	assert.Equal(t, before.WriteAddr, r.Stats().WriteAddr)
}

// gateFunc lets a test script each wait.
type gateFunc func(ctx context.Context) error

func (f gateFunc) WaitIdle(ctx context.Context) error { return f(ctx) }

func TestGateGuardsEveryMutation(t *testing.T) {
	waits := 0
	m := flash.NewMem(twoByFour)
	r, err := NewRing(twoByFour, m, gateFunc(func(context.Context) error {
		waits++
		return nil
	}))
	require.NoError(t, err)

	appendN(t, r, 1, 5) // 2 erases + 5 writes
	assert.Equal(t, 7, waits)

	drainAll(t, r)
	assert.Equal(t, 7, waits, "reads are not gated")
}

func TestGateCancelledBetweenEraseAndWrite(t *testing.T) {
	calls := 0
	m := flash.NewMem(twoByFour)
	r, err := NewRing(twoByFour, m, gateFunc(func(context.Context) error {
		calls++
		if calls == 7 { // the program after the page-1 erase
			return context.Canceled
		}
		return nil
	}))
	require.NoError(t, err)

	all := appendN(t, r, 1, 4)
	err = r.Append(context.Background(), rec(5))
	require.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, r.Fault(), "cancellation is not a storage fault")
	assert.Equal(t, 1, m.Erases(1))

	all = append(all, appendN(t, r, 5, 6)...)
	assert.Equal(t, 1, m.Erases(1), "no second erase for the committed page")
	assert.Equal(t, all, drainAll(t, r))
}
