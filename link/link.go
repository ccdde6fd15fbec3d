package link

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"nodelog/errcode"
)

// Port is a byte stream with a cancellable receive, as provided by the UART
// drivers.
type Port interface {
	Write(p []byte) (int, error)
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

// Write is a control value written by the receiver.
type Write struct {
	Handle uint16
	Value  []byte
}

type Config struct {
	ReadTimeout time.Duration // per receive; bounds shutdown latency
	WriteQueue  int
	// TxActive, if set, is called with true before each frame goes out and
	// with false once it has been written.
	TxActive func(active bool)
}

// Link is the node side of the channel. At most one notification is
// outstanding: Notify refuses with errcode.Backpressure until the receiver
// acknowledges the previous one.
type Link struct {
	port Port
	cfg  Config

	wmu        sync.Mutex
	out        []byte
	subscribed atomic.Bool

	// pmu orders acknowledgments against new notifications so a completion
	// token always belongs to the notification currently outstanding.
	pmu     sync.Mutex
	pending bool

	txDone chan struct{}
	writes chan Write

	sent  atomic.Uint32
	acked atomic.Uint32
}

func New(port Port, cfg Config) *Link {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 250 * time.Millisecond
	}
	if cfg.WriteQueue <= 0 {
		cfg.WriteQueue = 8
	}
	return &Link{
		port:   port,
		cfg:    cfg,
		txDone: make(chan struct{}, 1),
		writes: make(chan Write, cfg.WriteQueue),
	}
}

// Start launches the receive loop. It returns when ctx is cancelled.
func (l *Link) Start(ctx context.Context) {
	go l.recvLoop(ctx)
}

func (l *Link) recvLoop(ctx context.Context) {
	var dec Decoder
	buf := make([]byte, 64)
	for {
		if ctx.Err() != nil {
			return
		}
		rctx, cancel := context.WithTimeout(ctx, l.cfg.ReadTimeout)
		n, err := l.port.RecvSomeContext(rctx, buf)
		cancel()
		if n > 0 {
			dec.Feed(buf[:n], l.handle)
			continue
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			// Port failing or closed; back off instead of spinning.
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.cfg.ReadTimeout):
			}
		}
	}
}

func (l *Link) handle(f Frame) {
	switch f.Kind {
	case KindAck:
		l.pmu.Lock()
		if l.pending {
			l.pending = false
			l.acked.Add(1)
			select {
			case l.txDone <- struct{}{}:
			default:
			}
		}
		l.pmu.Unlock()
	case KindSubscribe:
		on := len(f.Payload) > 0 && f.Payload[0] != 0
		l.subscribed.Store(on)
		if !on {
			// Nothing will acknowledge an outstanding notification now.
			l.setPending(false)
		}
	case KindWrite:
		w := Write{Handle: f.Handle, Value: append([]byte(nil), f.Payload...)}
		select {
		case l.writes <- w:
		default:
			// drop oldest if consumer is slow
			select {
			case <-l.writes:
			default:
			}
			l.writes <- w
		}
	}
}

// Notify sends p on handle. It does not wait for the acknowledgment; observe
// TxComplete for that. A successful Notify discards any completion token
// left by an earlier notification, so the next token on TxComplete is for p.
func (l *Link) Notify(handle uint16, p []byte) error {
	if !l.subscribed.Load() {
		return errcode.TransportUnavailable
	}
	l.pmu.Lock()
	if l.pending {
		l.pmu.Unlock()
		return errcode.Backpressure
	}
	l.pending = true
	select {
	case <-l.txDone:
	default:
	}
	l.pmu.Unlock()

	l.wmu.Lock()
	var err error
	l.out, err = AppendFrame(l.out[:0], Frame{Kind: KindNotify, Handle: handle, Payload: p})
	if err == nil {
		if l.cfg.TxActive != nil {
			l.cfg.TxActive(true)
		}
		_, err = l.port.Write(l.out)
		if l.cfg.TxActive != nil {
			l.cfg.TxActive(false)
		}
	}
	l.wmu.Unlock()

	if err != nil {
		l.setPending(false)
		return &errcode.E{C: errcode.TransportUnavailable, Op: "notify", Err: err}
	}
	l.sent.Add(1)
	return nil
}

func (l *Link) setPending(v bool) {
	l.pmu.Lock()
	l.pending = v
	l.pmu.Unlock()
}

// Pending reports whether a notification is awaiting its acknowledgment.
func (l *Link) Pending() bool {
	l.pmu.Lock()
	defer l.pmu.Unlock()
	return l.pending
}

// TxComplete signals each acknowledged notification.
func (l *Link) TxComplete() <-chan struct{} { return l.txDone }

// Writes delivers control writes from the receiver.
func (l *Link) Writes() <-chan Write { return l.writes }

func (l *Link) Subscribed() bool { return l.subscribed.Load() }

// Counters returns notifications sent and acknowledged.
func (l *Link) Counters() (sent, acked uint32) { return l.sent.Load(), l.acked.Load() }
