// Package flashlog implements the cyclic flash log: a ring of erasable pages
// with an append-only write cursor and a trailing read cursor used to drain
// the log to a consumer.
//
// # Layout
//
// Records are 16 bytes and never straddle a page. The writer erases a page
// immediately before its first record of each revolution, so the oldest page
// is evicted whole when the ring wraps. After the first revolution the read
// cursor's page follows the writer (write page + 1); before it, the reader is
// pinned to the start page.
//
// # Lifecycle
//
//	r, _ := flashlog.NewRing(geom, dev, gate)
//	_ = r.Append(ctx, rec)          // producer
//	for {                           // consumer
//		rec, ok, err := r.Next()
//		...
//	}
//	r.Reset()                       // after a completed drain
//
// Both cursors initialise lazily. Reset sets both first-use flags: a second
// drain without intervening appends yields the same records, and the next
// append starts a fresh log at the start page.
//
// The ring is not safe for concurrent use; Append and Next must not
// interleave, and Append refuses with errcode.Busy while a drain is open.
package flashlog

import (
	"context"

	"nodelog/flash"
)

// Gate blocks until flash may be mutated (no radio-critical window open).
type Gate interface {
	WaitIdle(ctx context.Context) error
}

type writeCursor struct {
	page      uint32
	addr      uint32 // next free word
	pageBytes uint32 // bytes used on page
	valid     bool   // addr refers to written state
	fresh     bool   // first-write flag
}

type readCursor struct {
	page   uint32
	addr   uint32
	end    uint32
	tail   bool // still reading pages the writer wrapped past
	open   bool // first-read flag cleared, drain in progress
	done   bool
	yields uint32
}

// Ring owns the write and read cursors over a Geometry.
type Ring struct {
	geom flash.Geometry
	dev  flash.Device
	gate Gate

	w       writeCursor
	r       readCursor
	wrapped bool // write-cycle flag
	fault   error

	buf [flash.RecordWords]uint32
}

// NewRing validates g and returns an empty ring. gate may be nil.
func NewRing(g flash.Geometry, dev flash.Device, gate Gate) (*Ring, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Ring{
		geom: g,
		dev:  dev,
		gate: gate,
		w:    writeCursor{fresh: true},
		r:    readCursor{page: g.Start},
	}, nil
}

// Geometry returns the ring layout.
func (r *Ring) Geometry() flash.Geometry { return r.geom }

// Reset returns both cursors to their initial state after a completed drain.
// Flash is not touched; the next append restarts the log at the start page.
func (r *Ring) Reset() {
	r.w.fresh = true
	r.Rewind()
}

// Rewind closes any open drain so the next Next starts again from the read
// page. Use it when a drain is abandoned.
func (r *Ring) Rewind() {
	r.r.open = false
	r.r.done = false
	r.r.tail = false
	r.r.yields = 0
}

// Draining reports whether a drain iterator is open.
func (r *Ring) Draining() bool { return r.r.open && !r.r.done }

// Fault returns the sticky storage error, if any.
func (r *Ring) Fault() error { return r.fault }

// Stats is a snapshot of cursor state.
type Stats struct {
	WritePage uint32
	WriteAddr uint32
	PageBytes uint32
	ReadPage  uint32
	ReadAddr  uint32
	Wrapped   bool
	Draining  bool
	Faulted   bool
}

func (r *Ring) Stats() Stats {
	return Stats{
		WritePage: r.w.page,
		WriteAddr: r.w.addr,
		PageBytes: r.w.pageBytes,
		ReadPage:  r.r.page,
		ReadAddr:  r.r.addr,
		Wrapped:   r.wrapped,
		Draining:  r.Draining(),
		Faulted:   r.fault != nil,
	}
}

func (r *Ring) waitGate(ctx context.Context) error {
	if r.gate == nil {
		return ctx.Err()
	}
	return r.gate.WaitIdle(ctx)
}
