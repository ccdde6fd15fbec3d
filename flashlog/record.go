package flashlog

import (
	"encoding/binary"
	"fmt"

	"nodelog/errcode"
	"nodelog/flash"
)

// Record is one logged sample: date, time, a packed metric pair and a
// secondary metric. The log treats it as an opaque payload.
type Record [flash.RecordWords]uint32

func (r Record) Date() uint32   { return r[0] }
func (r Record) Time() uint32   { return r[1] }
func (r Record) Pair() uint32   { return r[2] }
func (r Record) Metric() uint32 { return r[3] }

// AppendWire appends the 16-byte big-endian wire form of r to b.
func (r Record) AppendWire(b []byte) []byte {
	for _, w := range r {
		b = binary.BigEndian.AppendUint32(b, w)
	}
	return b
}

// MarshalBinary returns the wire form.
func (r Record) MarshalBinary() ([]byte, error) {
	return r.AppendWire(make([]byte, 0, flash.RecordSize)), nil
}

// UnmarshalBinary parses exactly one wire record.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) != flash.RecordSize {
		return &errcode.E{C: errcode.InvalidPayload, Op: "record", Msg: fmt.Sprintf("length %d", len(b))}
	}
	for i := range r {
		r[i] = binary.BigEndian.Uint32(b[i*flash.WordSize:])
	}
	return nil
}

// ParseRecord is UnmarshalBinary as a function.
func ParseRecord(b []byte) (Record, error) {
	var r Record
	err := r.UnmarshalBinary(b)
	return r, err
}

func (r Record) String() string {
	return fmt.Sprintf("date=%08x time=%08x pair=%08x metric=%08x", r[0], r[1], r[2], r[3])
}
