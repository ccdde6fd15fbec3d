package flash

import (
	"errors"
	"fmt"
	"sync"
)

// Device is the flash primitive set consumed by the log. Addresses are byte
// offsets and must be word aligned.
type Device interface {
	ErasePage(page uint32) error
	WriteWords(addr uint32, words []uint32) error
	ReadWords(addr uint32, dst []uint32) error
}

// Erased is the value of a word after its page has been erased.
const Erased uint32 = 0xFFFFFFFF

var (
	ErrOutOfRange = errors.New("flash: address out of range")
	ErrUnaligned  = errors.New("flash: unaligned address")
	ErrNotErased  = errors.New("flash: program over non-erased word")
)

// Mem is a RAM-backed NOR flash emulator. Erase sets a page to 0xFF, and a
// word may only be programmed once between erases.
type Mem struct {
	mu       sync.Mutex
	pageSize uint32
	words    []uint32

	erases map[uint32]int
	writes int
	reads  int

	// Fault injection; a non-nil return aborts the operation before any change.
	FailErase func(page uint32) error
	FailWrite func(addr uint32) error
}

// NewMem allocates pages 0..g.End so absolute addresses from g map directly.
func NewMem(g Geometry) *Mem {
	n := g.BufferEnd() / WordSize
	m := &Mem{pageSize: g.PageSize, words: make([]uint32, n), erases: map[uint32]int{}}
	for i := range m.words {
		m.words[i] = Erased
	}
	return m
}

func (m *Mem) ErasePage(page uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	base := page * m.pageSize
	if uint64(base)+uint64(m.pageSize) > uint64(len(m.words))*WordSize {
		return fmt.Errorf("erase page %d: %w", page, ErrOutOfRange)
	}
	if m.FailErase != nil {
		if err := m.FailErase(page); err != nil {
			return err
		}
	}
	w := m.words[base/WordSize : (base+m.pageSize)/WordSize]
	for i := range w {
		w[i] = Erased
	}
	m.erases[page]++
	return nil
}

func (m *Mem) WriteWords(addr uint32, words []uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(addr, len(words)); err != nil {
		return err
	}
	if m.FailWrite != nil {
		if err := m.FailWrite(addr); err != nil {
			return err
		}
	}
	i := addr / WordSize
	for k := range words {
		if m.words[i+uint32(k)] != Erased {
			return fmt.Errorf("write 0x%x: %w", addr+uint32(k)*WordSize, ErrNotErased)
		}
	}
	copy(m.words[i:], words)
	m.writes++
	return nil
}

func (m *Mem) ReadWords(addr uint32, dst []uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(addr, len(dst)); err != nil {
		return err
	}
	i := addr / WordSize
	copy(dst, m.words[i:i+uint32(len(dst))])
	m.reads++
	return nil
}

func (m *Mem) check(addr uint32, n int) error {
	if addr%WordSize != 0 {
		return fmt.Errorf("0x%x: %w", addr, ErrUnaligned)
	}
	if uint64(addr/WordSize)+uint64(n) > uint64(len(m.words)) {
		return fmt.Errorf("0x%x+%d: %w", addr, n, ErrOutOfRange)
	}
	return nil
}

// Erases returns how many times page has been erased.
func (m *Mem) Erases(page uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.erases[page]
}

// Ops returns the total erase, write and read call counts.
func (m *Mem) Ops() (erases, writes, reads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.erases {
		erases += n
	}
	return erases, m.writes, m.reads
}
