package flash

import (
	"encoding/binary"
	"fmt"

	"nodelog/errcode"
)

// BlockDevice is the shape of TinyGo's machine.Flash. Offsets are relative to
// the start of the flash data area.
type BlockDevice interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	EraseBlockSize() int64
	EraseBlocks(start, length int64) error
}

// Blocks adapts a BlockDevice to Device. Words are stored little-endian, the
// native order of the supported MCUs.
type Blocks struct {
	bd       BlockDevice
	pageSize uint32
	perPage  int64
	buf      [RecordSize]byte
}

// NewBlocks binds g to bd. The page size must be a whole number of erase blocks.
func NewBlocks(bd BlockDevice, g Geometry) (*Blocks, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	ebs := bd.EraseBlockSize()
	if ebs <= 0 || int64(g.PageSize)%ebs != 0 {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "flash", Msg: fmt.Sprintf("page size %d is not a multiple of erase block %d", g.PageSize, ebs)}
	}
	return &Blocks{bd: bd, pageSize: g.PageSize, perPage: int64(g.PageSize) / ebs}, nil
}

func (b *Blocks) ErasePage(page uint32) error {
	return b.bd.EraseBlocks(int64(page)*b.perPage, b.perPage)
}

func (b *Blocks) WriteWords(addr uint32, words []uint32) error {
	p := b.scratch(len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(p[i*WordSize:], w)
	}
	n, err := b.bd.WriteAt(p, int64(addr))
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("flash: short write at 0x%x: %d/%d", addr, n, len(p))
	}
	return nil
}

func (b *Blocks) ReadWords(addr uint32, dst []uint32) error {
	p := b.scratch(len(dst))
	n, err := b.bd.ReadAt(p, int64(addr))
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("flash: short read at 0x%x: %d/%d", addr, n, len(p))
	}
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint32(p[i*WordSize:])
	}
	return nil
}

// scratch avoids an allocation for the common one-record case.
func (b *Blocks) scratch(words int) []byte {
	n := words * WordSize
	if n <= len(b.buf) {
		return b.buf[:n]
	}
	return make([]byte, n)
}
