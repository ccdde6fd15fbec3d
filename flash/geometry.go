// Package flash describes the erasable page range backing the sensor log and
// the primitives used to mutate it.
//
// Addresses are byte offsets from the start of the device's data area. A page
// numbered p starts at p*PageSize; the log owns pages Start..End inclusive.
package flash

import "nodelog/errcode"

const (
	// WordSize is the programming unit in bytes.
	WordSize = 4
	// RecordWords is the number of words per log record.
	RecordWords = 4
	// RecordSize is the size of one log record in bytes.
	RecordSize = RecordWords * WordSize
)

// Geometry is the page layout of the cyclic log. It holds no mutable state.
type Geometry struct {
	Start    uint32 // first page owned by the log
	End      uint32 // last page owned by the log (inclusive)
	PageSize uint32 // erase unit in bytes
}

// Validate checks that the layout can hold whole records.
func (g Geometry) Validate() error {
	switch {
	case g.PageSize == 0 || g.PageSize%RecordSize != 0:
		return &errcode.E{C: errcode.InvalidParams, Op: "geometry", Msg: "page size must be a positive multiple of 16"}
	case g.End < g.Start:
		return &errcode.E{C: errcode.InvalidParams, Op: "geometry", Msg: "end page before start page"}
	}
	return nil
}

// PageBase returns the address of the first byte of page.
func (g Geometry) PageBase(page uint32) uint32 { return page * g.PageSize }

// BufferEnd returns the address one past the last page of the ring.
func (g Geometry) BufferEnd() uint32 { return g.PageBase(g.End + 1) }

// Pages is the number of pages in the ring.
func (g Geometry) Pages() uint32 { return g.End - g.Start + 1 }

func (g Geometry) RecordsPerPage() uint32 { return g.PageSize / RecordSize }

// Capacity is the number of records the ring holds when every page is full.
func (g Geometry) Capacity() uint32 { return g.Pages() * g.RecordsPerPage() }

// PageOf returns the page containing addr.
func (g Geometry) PageOf(addr uint32) uint32 { return addr / g.PageSize }

// Contains reports whether addr falls inside the ring.
func (g Geometry) Contains(addr uint32) bool {
	return addr >= g.PageBase(g.Start) && addr < g.BufferEnd()
}
