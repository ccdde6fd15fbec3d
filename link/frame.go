// Package link is the framed notification channel between a node and its
// paired receiver. It stands in for the wireless GATT-style stack: the node
// sends notifications on handles, the receiver acknowledges each one and
// writes control values back.
//
// Frame: kind(1) | handle(2, big-endian) | len(1) | payload(len)
package link

import (
	"encoding/binary"

	"nodelog/errcode"
)

type Kind byte

const (
	KindNotify    Kind = 'N' // node -> receiver
	KindAck       Kind = 'A' // receiver -> node, transmission complete
	KindWrite     Kind = 'W' // receiver -> node, control write
	KindSubscribe Kind = 'S' // receiver -> node, payload[0] enables notifications
)

const (
	headerLen  = 4
	MaxPayload = 255
)

// Attribute handles shared by node and receiver.
const (
	HandleRecords uint16 = 0x0010 // drained log records
	HandleLive    uint16 = 0x0012 // live samples
	HandleEnable  uint16 = 0x0014 // logging enable toggle
	HandleDrain   uint16 = 0x0016 // drain request toggle
)

type Frame struct {
	Kind    Kind
	Handle  uint16
	Payload []byte
}

func validKind(k Kind) bool {
	switch k {
	case KindNotify, KindAck, KindWrite, KindSubscribe:
		return true
	}
	return false
}

// AppendFrame appends the encoded frame to b.
func AppendFrame(b []byte, f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return b, &errcode.E{C: errcode.InvalidPayload, Op: "frame", Msg: "payload too long"}
	}
	b = append(b, byte(f.Kind))
	b = binary.BigEndian.AppendUint16(b, f.Handle)
	b = append(b, byte(len(f.Payload)))
	return append(b, f.Payload...), nil
}

// Decoder reassembles frames from arbitrary chunks of a byte stream. Bytes
// that cannot start a frame are skipped.
type Decoder struct {
	buf []byte
}

// Feed appends p and calls fn for every complete frame. Frame payloads are
// only valid for the duration of fn.
func (d *Decoder) Feed(p []byte, fn func(Frame)) {
	d.buf = append(d.buf, p...)
	for {
		for len(d.buf) > 0 && !validKind(Kind(d.buf[0])) {
			d.buf = d.buf[1:]
		}
		if len(d.buf) < headerLen {
			break
		}
		n := int(d.buf[3])
		if len(d.buf) < headerLen+n {
			break
		}
		fn(Frame{
			Kind:    Kind(d.buf[0]),
			Handle:  binary.BigEndian.Uint16(d.buf[1:3]),
			Payload: d.buf[headerLen : headerLen+n],
		})
		d.buf = d.buf[headerLen+n:]
	}
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
}
