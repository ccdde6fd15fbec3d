package drain

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodelog/errcode"
	"nodelog/flash"
	"nodelog/flashlog"
	"nodelog/link"
)

// fakeTx acknowledges every notification immediately unless muted. Like the
// link, a successful Notify clears a completion left by an earlier one.
type fakeTx struct {
	mu       sync.Mutex
	payloads [][]byte
	handles  []uint16
	done     chan struct{}
	mute     bool
	busy     int // Notify calls to refuse with backpressure
	onNotify func(n int)
}

func newFakeTx() *fakeTx { return &fakeTx{done: make(chan struct{}, 1)} }

func (f *fakeTx) Notify(handle uint16, p []byte) error {
	f.mu.Lock()
	if f.busy > 0 {
		f.busy--
		f.mu.Unlock()
		return errcode.Backpressure
	}
	select {
	case <-f.done:
	default:
	}
	f.payloads = append(f.payloads, append([]byte(nil), p...))
	f.handles = append(f.handles, handle)
	n := len(f.payloads)
	mute := f.mute
	hook := f.onNotify
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if !mute {
		f.ack()
	}
	return nil
}

func (f *fakeTx) ack() {
	select {
	case f.done <- struct{}{}:
	default:
	}
}

func (f *fakeTx) TxComplete() <-chan struct{} { return f.done }

func (f *fakeTx) records(t *testing.T) []flashlog.Record {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]flashlog.Record, 0, len(f.payloads))
	for _, p := range f.payloads {
		r, err := flashlog.ParseRecord(p)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func filledRing(t *testing.T, n int) (*flashlog.Ring, []flashlog.Record) {
	t.Helper()
	g := flash.Geometry{Start: 0, End: 2, PageSize: 4 * flash.RecordSize}
	r, err := flashlog.NewRing(g, flash.NewMem(g), nil)
	require.NoError(t, err)
	var recs []flashlog.Record
	for i := 1; i <= n; i++ {
		rec := flashlog.Record{20250101, uint32(i), uint32(i * 10), uint32(i * 100)}
		require.NoError(t, r.Append(context.Background(), rec))
		recs = append(recs, rec)
	}
	return r, recs
}

func TestRun_ExportsInOrderBigEndian(t *testing.T) {
	ring, want := filledRing(t, 7)
	tx := newFakeTx()
	d := New(ring, tx, Config{Handle: 0x10})

	n, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, StateReadComplete, d.State())
	assert.Equal(t, want, tx.records(t))
	assert.Equal(t, uint32(20250101), binary.BigEndian.Uint32(tx.payloads[0][:4]), "date word big-endian")
	for _, h := range tx.handles {
		assert.Equal(t, uint16(0x10), h)
	}
}

func TestRun_EmptySource(t *testing.T) {
	ring, _ := filledRing(t, 0)
	tx := newFakeTx()
	n, err := New(ring, tx, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, tx.payloads)
}

func TestRun_AckTimeout(t *testing.T) {
	ring, _ := filledRing(t, 3)
	tx := newFakeTx()
	tx.mute = true

	start := time.Now()
	n, err := New(ring, tx, Config{AckTimeout: 30 * time.Millisecond}).Run(context.Background())
	assert.Equal(t, errcode.Timeout, errcode.Of(err))
	assert.Zero(t, n)
	assert.Len(t, tx.payloads, 1, "never more than one outstanding")
	assert.Less(t, time.Since(start), time.Second)
}

func TestRun_CancelledOnlyBetweenRecords(t *testing.T) {
	ring, want := filledRing(t, 5)
	tx := newFakeTx()
	ctx, cancel := context.WithCancel(context.Background())
	tx.onNotify = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	n, err := New(ring, tx, Config{}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, n, "record in flight completes")
	assert.Equal(t, want[:2], tx.records(t))
}

func TestRun_WaitsOutBackpressure(t *testing.T) {
	ring, want := filledRing(t, 2)
	tx := newFakeTx()
	tx.busy = 1
	go func() {
		time.Sleep(10 * time.Millisecond)
		tx.ack() // the earlier live notification completes
	}()

	n, err := New(ring, tx, Config{AckTimeout: time.Second}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, want, tx.records(t))
}

func TestSendAndWait_IgnoresStaleCompletion(t *testing.T) {
	tx := newFakeTx()
	tx.mute = true
	tx.ack() // left over from an earlier notification

	err := SendAndWait(tx, 1, []byte{1}, 20*time.Millisecond)
	assert.Equal(t, errcode.Timeout, errcode.Of(err))
}

func TestSendAndWait_PropagatesUnavailable(t *testing.T) {
	err := SendAndWait(unavailableTx{}, 1, nil, time.Second)
	assert.Equal(t, errcode.TransportUnavailable, errcode.Of(err))
}

type unavailableTx struct{}

func (unavailableTx) Notify(uint16, []byte) error { return errcode.TransportUnavailable }
func (unavailableTx) TxComplete() <-chan struct{} { return nil }

// linkPeer connects a Link to a receiver end that records every frame the
// node sends and never acknowledges on its own.
func linkPeer(t *testing.T) (*link.Link, net.Conn, chan link.Frame) {
	t.Helper()
	a, b := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	sp := link.NewStreamPort(a)
	t.Cleanup(func() { cancel(); sp.Close(); a.Close(); b.Close() })

	l := link.New(sp, link.Config{ReadTimeout: 10 * time.Millisecond})
	l.Start(ctx)

	frames := make(chan link.Frame, 16)
	go func() {
		var d link.Decoder
		buf := make([]byte, 64)
		for {
			n, err := b.Read(buf)
			if err != nil {
				return
			}
			d.Feed(buf[:n], func(f link.Frame) {
				f.Payload = append([]byte(nil), f.Payload...)
				frames <- f
			})
		}
	}()

	send(t, b, link.Frame{Kind: link.KindSubscribe, Payload: []byte{1}})
	require.Eventually(t, l.Subscribed, time.Second, 2*time.Millisecond)
	return l, b, frames
}

func send(t *testing.T, conn net.Conn, f link.Frame) {
	t.Helper()
	b, err := link.AppendFrame(nil, f)
	require.NoError(t, err)
	_, err = conn.Write(b)
	require.NoError(t, err)
}

// lateAckLink lets the acknowledgment of an earlier notification land just
// before the next Notify reaches the link.
type lateAckLink struct {
	*link.Link
	before func()
}

func (l *lateAckLink) Notify(handle uint16, p []byte) error {
	if f := l.before; f != nil {
		l.before = nil
		f()
	}
	return l.Link.Notify(handle, p)
}

func TestSendAndWait_EarlierAckDoesNotCompleteNewRecord(t *testing.T) {
	l, conn, frames := linkPeer(t)

	// A live update is still outstanding when the drain starts.
	require.NoError(t, l.Notify(link.HandleLive, []byte{1}))
	assert.Equal(t, link.HandleLive, (<-frames).Handle)

	tx := &lateAckLink{Link: l, before: func() {
		send(t, conn, link.Frame{Kind: link.KindAck, Handle: link.HandleLive})
		require.Eventually(t, func() bool { return !l.Pending() }, time.Second, time.Millisecond)
	}}

	err := SendAndWait(tx, link.HandleRecords, []byte{2}, 50*time.Millisecond)
	assert.Equal(t, errcode.Timeout, errcode.Of(err), "record is not acknowledged yet")
	assert.True(t, l.Pending())
	sent, acked := l.Counters()
	assert.Equal(t, uint32(2), sent)
	assert.Equal(t, uint32(1), acked)

	// Its own acknowledgment completes it.
	assert.Equal(t, link.HandleRecords, (<-frames).Handle)
	send(t, conn, link.Frame{Kind: link.KindAck, Handle: link.HandleRecords})
	select {
	case <-l.TxComplete():
	case <-time.After(time.Second):
		t.Fatal("no transmission-complete event for the record")
	}
}
