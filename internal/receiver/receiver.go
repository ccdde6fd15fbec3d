// Package receiver is the host end of the node link: it subscribes to
// notifications, acknowledges each one, toggles logging, and collects
// drained records into an archive.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"nodelog/flashlog"
	"nodelog/link"
)

// Store persists drained records.
type Store interface {
	Put(node string, recs []flashlog.Record, at time.Time) (int, error)
	NoteDrain(node string) (uint64, error)
}

// Result summarises one drain.
type Result struct {
	Records int    // exported by the node
	Added   int    // new to the archive
	Drains  uint64 // drains archived for this node, including this one
}

type Receiver struct {
	node  string
	port  *link.StreamPort
	store Store
	log   *slog.Logger

	wmu sync.Mutex
	out []byte

	mu        sync.Mutex
	collected []flashlog.Record
	draining  bool
	drained   chan []flashlog.Record

	live chan flashlog.Record
}

func New(node string, rw io.ReadWriter, store Store, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{
		node:    node,
		port:    link.NewStreamPort(rw),
		store:   store,
		log:     log.With("node", node),
		drained: make(chan []flashlog.Record, 1),
		live:    make(chan flashlog.Record, 16),
	}
}

// Live delivers live samples. Samples are dropped when nobody reads.
func (r *Receiver) Live() <-chan flashlog.Record { return r.live }

// Run decodes frames until ctx is cancelled or the port fails.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.port.Close()
	var dec link.Decoder
	buf := make([]byte, 256)
	for {
		n, err := r.port.RecvSomeContext(ctx, buf)
		if n > 0 {
			dec.Feed(buf[:n], func(f link.Frame) { r.handle(f) })
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiver: %w", err)
		}
	}
}

func (r *Receiver) handle(f link.Frame) {
	if f.Kind != link.KindNotify {
		r.log.Debug("ignoring frame", "kind", string(rune(f.Kind)), "handle", f.Handle)
		return
	}
	value := byte(0)
	if len(f.Payload) > 0 {
		value = f.Payload[0]
	}

	switch f.Handle {
	case link.HandleRecords:
		rec, err := flashlog.ParseRecord(f.Payload)
		if err != nil {
			r.log.Warn("bad record", "err", err, "len", len(f.Payload))
			break
		}
		r.mu.Lock()
		if r.draining {
			r.collected = append(r.collected, rec)
		}
		r.mu.Unlock()

	case link.HandleLive:
		rec, err := flashlog.ParseRecord(f.Payload)
		if err != nil {
			r.log.Warn("bad live sample", "err", err)
			break
		}
		select {
		case r.live <- rec:
		default:
		}

	case link.HandleEnable:
		r.log.Info("logging toggled", "enabled", value != 0)

	case link.HandleDrain:
		if value != 0 {
			break
		}
		r.mu.Lock()
		recs := r.collected
		wasDraining := r.draining
		r.collected, r.draining = nil, false
		r.mu.Unlock()
		if wasDraining {
			select {
			case r.drained <- recs:
			default:
			}
		}

	default:
		r.log.Debug("notification on unknown handle", "handle", f.Handle)
	}

	// Acknowledge after the notification has been handled.
	if err := r.send(link.Frame{Kind: link.KindAck, Handle: f.Handle}); err != nil {
		r.log.Warn("ack failed", "err", err)
	}
}

func (r *Receiver) send(f link.Frame) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	var err error
	r.out, err = link.AppendFrame(r.out[:0], f)
	if err != nil {
		return err
	}
	_, err = r.port.Write(r.out)
	return err
}

// Subscribe enables or disables notifications from the node.
func (r *Receiver) Subscribe(on bool) error {
	return r.send(link.Frame{Kind: link.KindSubscribe, Payload: []byte{boolByte(on)}})
}

// SetLogging writes the node's logging toggle.
func (r *Receiver) SetLogging(on bool) error {
	return r.send(link.Frame{Kind: link.KindWrite, Handle: link.HandleEnable, Payload: []byte{boolByte(on)}})
}

// Drain asks the node to export its log, waits for the node to report the
// drain toggle cleared and archives what arrived.
func (r *Receiver) Drain(ctx context.Context) (Result, error) {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return Result{}, errors.New("receiver: drain already in progress")
	}
	r.draining = true
	r.collected = nil
	r.mu.Unlock()

	abort := func() {
		r.mu.Lock()
		r.draining, r.collected = false, nil
		r.mu.Unlock()
	}

	start := time.Now()
	if err := r.send(link.Frame{Kind: link.KindWrite, Handle: link.HandleDrain, Payload: []byte{1}}); err != nil {
		abort()
		return Result{}, fmt.Errorf("receiver: request drain: %w", err)
	}

	var recs []flashlog.Record
	select {
	case recs = <-r.drained:
	case <-ctx.Done():
		abort()
		return Result{}, fmt.Errorf("receiver: waiting for drain: %w", ctx.Err())
	}

	res := Result{Records: len(recs)}
	if r.store == nil {
		return res, nil
	}
	added, err := r.store.Put(r.node, recs, time.Now())
	if err != nil {
		return res, err
	}
	res.Added = added
	if res.Drains, err = r.store.NoteDrain(r.node); err != nil {
		return res, err
	}
	r.log.Info("drain archived", "records", res.Records, "added", res.Added,
		"drains", res.Drains, "elapsed", time.Since(start))
	return res, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
