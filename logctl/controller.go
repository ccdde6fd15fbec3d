// Package logctl owns the logging and drain toggles of a node and sequences
// the flash log between the producer tick and an export.
//
// Calls that touch flash (OnProducerTick, RequestDrain) are expected from a
// single service goroutine; SetLoggingEnabled and State may be called from
// anywhere.
package logctl

import (
	"context"
	"sync"
	"time"

	"nodelog/drain"
	"nodelog/errcode"
	"nodelog/flashlog"
	"nodelog/link"
	"nodelog/sensor"
)

type Mode uint8

const (
	Idle Mode = iota
	Logging
	Draining
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Logging:
		return "logging"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// State is a snapshot of the controller.
type State struct {
	Mode           Mode
	DrainRequested bool
	LogEvery       uint32
	Ticks          uint32
	Appended       uint32 // records written since boot
	Drains         uint32 // completed drains
	LastDrained    int    // records exported by the last completed drain
}

type Config struct {
	LogEvery   uint32        // ticks per logged record; 0 means 1
	AckTimeout time.Duration // per notification during a drain

	RecordsHandle uint16
	LiveHandle    uint16
	EnableHandle  uint16
	DrainHandle   uint16
}

func (c *Config) defaults() {
	if c.LogEvery == 0 {
		c.LogEvery = 1
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = drain.DefaultAckTimeout
	}
	if c.RecordsHandle == 0 {
		c.RecordsHandle = link.HandleRecords
	}
	if c.LiveHandle == 0 {
		c.LiveHandle = link.HandleLive
	}
	if c.EnableHandle == 0 {
		c.EnableHandle = link.HandleEnable
	}
	if c.DrainHandle == 0 {
		c.DrainHandle = link.HandleDrain
	}
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Ring    *flashlog.Ring
	Tx      drain.Notifier
	Sampler sensor.Sampler
	Clock   sensor.Clock // defaults to time.Now
}

type Controller struct {
	ring    *flashlog.Ring
	tx      drain.Notifier
	sampler sensor.Sampler
	clock   sensor.Clock

	// ringMu serialises flash access; mu guards st and cfg.
	ringMu sync.Mutex
	mu     sync.Mutex
	cfg    Config
	st     State

	live []byte
}

func New(d Deps, cfg Config) *Controller {
	cfg.defaults()
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return &Controller{
		ring:    d.Ring,
		tx:      d.Tx,
		sampler: d.Sampler,
		clock:   d.Clock,
		cfg:     cfg,
		st:      State{LogEvery: cfg.LogEvery},
		live:    make([]byte, 0, 16),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// SetLogEvery changes how many producer ticks pass between logged records.
func (c *Controller) SetLogEvery(n uint32) error {
	if n == 0 {
		return &errcode.E{C: errcode.InvalidParams, Op: "log_every", Msg: "must be positive"}
	}
	c.mu.Lock()
	c.cfg.LogEvery = n
	c.st.LogEvery = n
	c.mu.Unlock()
	return nil
}

// SetAckTimeout changes the per-notification timeout used by later drains.
func (c *Controller) SetAckTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.cfg.AckTimeout = d
	c.mu.Unlock()
}

// SetLoggingEnabled starts or stops logging. It fails with errcode.Busy
// while a drain is in progress.
func (c *Controller) SetLoggingEnabled(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.Mode == Draining {
		return &errcode.E{C: errcode.Busy, Op: "enable", Msg: "drain in progress"}
	}
	if on {
		c.st.Mode = Logging
	} else {
		c.st.Mode = Idle
	}
	return nil
}

// RequestDrain exports the whole log and blocks until every record has been
// acknowledged. On success the log is reset and the enable and drain toggles
// are reported cleared; the next logged record starts a fresh log. On
// failure the log is left as it was and a later drain starts over.
func (c *Controller) RequestDrain(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.st.Mode == Draining {
		c.mu.Unlock()
		return 0, &errcode.E{C: errcode.Busy, Op: "drain", Msg: "already draining"}
	}
	c.st.Mode = Draining
	c.st.DrainRequested = true
	cfg := c.cfg
	c.mu.Unlock()

	c.ringMu.Lock()
	n, err := drain.New(c.ring, c.tx, drain.Config{
		Handle:     cfg.RecordsHandle,
		AckTimeout: cfg.AckTimeout,
	}).Run(ctx)
	if err != nil {
		c.ring.Rewind()
	} else {
		c.ring.Reset()
	}
	c.ringMu.Unlock()

	c.mu.Lock()
	c.st.Mode = Idle
	c.st.DrainRequested = false
	if err == nil {
		c.st.Drains++
		c.st.LastDrained = n
	}
	c.mu.Unlock()
	if err != nil {
		return n, err
	}

	// Report both toggles cleared, each waiting for its own acknowledgment.
	if err := drain.SendAndWait(c.tx, cfg.EnableHandle, []byte{0}, cfg.AckTimeout); err != nil {
		return n, err
	}
	if err := drain.SendAndWait(c.tx, cfg.DrainHandle, []byte{0}, cfg.AckTimeout); err != nil {
		return n, err
	}
	return n, nil
}

// OnProducerTick takes one sample, logs it every LogEvery ticks while logging
// is enabled and offers it as a live update. Ticks during a drain are counted
// and otherwise ignored. A storage fault disables logging.
func (c *Controller) OnProducerTick(ctx context.Context) error {
	c.mu.Lock()
	c.st.Ticks++
	mode := c.st.Mode
	due := mode == Logging && c.st.Ticks%c.cfg.LogEvery == 0
	liveHandle := c.cfg.LiveHandle
	c.mu.Unlock()

	if mode == Draining {
		return nil
	}

	reading, err := c.sampler.Sample(ctx)
	if err != nil {
		return &errcode.E{C: errcode.Of(err), Op: "sample", Err: err}
	}
	rec := sensor.NewRecord(c.clock(), reading)

	if due {
		c.ringMu.Lock()
		// A drain may have run or been requested since due was computed.
		c.mu.Lock()
		logging := c.st.Mode == Logging
		c.mu.Unlock()
		if !logging {
			c.ringMu.Unlock()
			return nil
		}
		err := c.ring.Append(ctx, rec)
		c.ringMu.Unlock()
		switch {
		case err == nil:
			c.mu.Lock()
			c.st.Appended++
			c.mu.Unlock()
		case errcode.IsFatal(err):
			c.mu.Lock()
			if c.st.Mode == Logging {
				c.st.Mode = Idle
			}
			c.mu.Unlock()
			return err
		default:
			return err
		}
	}

	c.live = rec.AppendWire(c.live[:0])
	if err := c.tx.Notify(liveHandle, c.live); err != nil {
		switch errcode.Of(err) {
		case errcode.TransportUnavailable, errcode.Backpressure:
		default:
			return err
		}
	}
	return nil
}
