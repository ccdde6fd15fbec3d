package flashlog

import (
	"context"

	"nodelog/errcode"
	"nodelog/flash"
)

// Append writes rec at the write cursor. It performs at most one page erase
// and exactly one 4-word program. Each flash mutation waits for the gate.
//
// A page move is committed as soon as its erase succeeds, so a cancelled gate
// wait between erase and program leaves the ring consistent (an empty page).
func (r *Ring) Append(ctx context.Context, rec Record) error {
	if r.fault != nil {
		return r.fault
	}
	if r.Draining() {
		return &errcode.E{C: errcode.Busy, Op: "append", Msg: "drain in progress"}
	}

	switch {
	case r.w.fresh:
		if err := r.restart(ctx); err != nil {
			return err
		}
	case r.w.pageBytes >= r.geom.PageSize:
		if err := r.advance(ctx); err != nil {
			return err
		}
	}
	return r.program(ctx, rec)
}

// restart begins a new log at the start page.
func (r *Ring) restart(ctx context.Context) error {
	start := r.geom.Start
	if err := r.erase(ctx, start); err != nil {
		return err
	}
	r.w = writeCursor{page: start, addr: r.geom.PageBase(start), valid: true}
	r.r.page = start
	r.wrapped = false
	return nil
}

// advance moves the writer onto the next page, wrapping to the start page
// after the end page.
func (r *Ring) advance(ctx context.Context) error {
	next := r.w.page + 1
	wrap := next > r.geom.End
	if wrap {
		next = r.geom.Start
	}
	if err := r.erase(ctx, next); err != nil {
		return err
	}
	r.w.page = next
	r.w.addr = r.geom.PageBase(next)
	r.w.pageBytes = 0
	if wrap {
		r.wrapped = true
	}
	if r.wrapped {
		r.r.page = next + 1
	}
	return nil
}

func (r *Ring) erase(ctx context.Context, page uint32) error {
	if err := r.waitGate(ctx); err != nil {
		return err
	}
	if err := r.dev.ErasePage(page); err != nil {
		r.fault = &StorageError{Op: "erase", Page: page, Err: err}
		return r.fault
	}
	return nil
}

func (r *Ring) program(ctx context.Context, rec Record) error {
	if err := r.waitGate(ctx); err != nil {
		return err
	}
	r.buf = rec
	if err := r.dev.WriteWords(r.w.addr, r.buf[:]); err != nil {
		r.fault = &StorageError{Op: "write", Page: r.w.page, Addr: r.w.addr, Err: err}
		return r.fault
	}
	r.w.addr += flash.RecordSize
	r.w.pageBytes += flash.RecordSize
	return nil
}
