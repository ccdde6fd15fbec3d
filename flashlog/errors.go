package flashlog

import (
	"fmt"

	"nodelog/errcode"
)

// StorageError reports a failed erase or program. It is fatal for the ring:
// once returned, the ring refuses further appends and reads.
type StorageError struct {
	Op   string // "erase", "write" or "read"
	Page uint32
	Addr uint32
	Err  error
}

func (e *StorageError) Error() string {
	if e.Op == "erase" {
		return fmt.Sprintf("flashlog: erase page %d: %v", e.Page, e.Err)
	}
	return fmt.Sprintf("flashlog: %s 0x%x (page %d): %v", e.Op, e.Addr, e.Page, e.Err)
}

func (e *StorageError) Unwrap() error      { return e.Err }
func (e *StorageError) Code() errcode.Code { return errcode.StorageFault }
