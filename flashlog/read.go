package flashlog

import "nodelog/flash"

// Next yields the next unexported record. ok is false once the read cursor
// has caught up with the write cursor; the drain stays complete until Rewind
// or Reset. Next never reads unwritten flash and never yields more than
// Capacity records per drain.
func (r *Ring) Next() (rec Record, ok bool, err error) {
	if r.fault != nil {
		return rec, false, r.fault
	}
	if !r.r.open {
		r.open()
	}
	if r.r.done {
		return rec, false, nil
	}

	if r.r.tail && r.r.addr >= r.r.end {
		r.r.tail = false
		r.r.addr = r.geom.PageBase(r.geom.Start)
	}
	if !r.r.tail && r.r.addr >= r.w.addr {
		r.r.done = true
		return rec, false, nil
	}
	if r.r.yields >= r.geom.Capacity() {
		r.r.done = true
		return rec, false, nil
	}

	if err := r.dev.ReadWords(r.r.addr, rec[:]); err != nil {
		r.fault = &StorageError{Op: "read", Page: r.geom.PageOf(r.r.addr), Addr: r.r.addr, Err: err}
		return Record{}, false, r.fault
	}
	r.r.addr += flash.RecordSize
	r.r.yields++
	return rec, true, nil
}

// open captures the drain start position from the read page.
func (r *Ring) open() {
	r.r.open = true
	r.r.yields = 0
	r.r.end = r.geom.BufferEnd()
	if !r.w.valid {
		// Nothing has ever been written.
		r.r.done = true
		return
	}
	r.r.addr = r.geom.PageBase(r.r.page)
	r.r.tail = r.r.page > r.w.page
	r.r.done = false
}
