// Package drain exports the flash log through a notification channel one
// record at a time. Exactly one record is unacknowledged at any moment; the
// pipeline keeps no buffer beyond the record being transmitted.
package drain

import (
	"context"
	"errors"
	"time"

	"nodelog/errcode"
	"nodelog/flashlog"
)

// Source yields records until ok is false.
type Source interface {
	Next() (rec flashlog.Record, ok bool, err error)
}

// Notifier sends one notification and later signals its acknowledgment on
// TxComplete. Notify returns errcode.Backpressure while a previous
// notification is still unacknowledged. A successful Notify clears any
// completion token from earlier notifications: the next token on TxComplete
// acknowledges the notification just sent.
type Notifier interface {
	Notify(handle uint16, p []byte) error
	TxComplete() <-chan struct{}
}

type State uint8

const (
	StateRead State = iota
	StateTxmit
	StateReadComplete
)

func (s State) String() string {
	switch s {
	case StateRead:
		return "read"
	case StateTxmit:
		return "txmit"
	case StateReadComplete:
		return "read_complete"
	default:
		return "unknown"
	}
}

const DefaultAckTimeout = 2 * time.Second

type Config struct {
	Handle     uint16
	AckTimeout time.Duration // per acknowledgment
}

type Drainer struct {
	src Source
	tx  Notifier
	cfg Config

	state State
	cur   flashlog.Record
	wire  []byte
	sent  int
}

func New(src Source, tx Notifier, cfg Config) *Drainer {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	return &Drainer{src: src, tx: tx, cfg: cfg, wire: make([]byte, 0, 16)}
}

// State returns the machine's current state.
func (d *Drainer) State() State { return d.state }

// Run walks the source to completion and returns the number of records
// acknowledged. ctx is consulted only between records; a record in flight
// always runs to its acknowledgment or the ack timeout.
func (d *Drainer) Run(ctx context.Context) (int, error) {
	d.state = StateRead
	d.sent = 0
	for {
		switch d.state {
		case StateRead:
			if err := ctx.Err(); err != nil {
				return d.sent, err
			}
			rec, ok, err := d.src.Next()
			if err != nil {
				return d.sent, err
			}
			if !ok {
				d.state = StateReadComplete
				continue
			}
			d.cur = rec
			d.state = StateTxmit

		case StateTxmit:
			d.wire = d.cur.AppendWire(d.wire[:0])
			if err := SendAndWait(d.tx, d.cfg.Handle, d.wire, d.cfg.AckTimeout); err != nil {
				return d.sent, err
			}
			d.sent++
			d.state = StateRead

		case StateReadComplete:
			return d.sent, nil
		}
	}
}

// SendAndWait sends one notification and blocks until that notification is
// acknowledged. A notification already outstanding is waited out first.
func SendAndWait(tx Notifier, handle uint16, p []byte, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		err := tx.Notify(handle, p)
		if err == nil {
			break
		}
		if !errors.Is(err, errcode.Backpressure) {
			return err
		}
		if err := waitAck(tx, timer); err != nil {
			return err
		}
	}
	return waitAck(tx, timer)
}

func waitAck(tx Notifier, timer *time.Timer) error {
	select {
	case <-tx.TxComplete():
		return nil
	case <-timer.C:
		return &errcode.E{C: errcode.Timeout, Op: "drain", Msg: "no transmission-complete event"}
	}
}
