// Package radio publishes the radio-activity window that gates flash
// mutations. The radio stack (typically an interrupt handler) calls
// SetActive around time-critical slots; flash users call WaitIdle.
package radio

import (
	"context"
	"sync/atomic"
)

type Window struct {
	active atomic.Bool
	quiet  chan struct{} // active->idle edge
	waits  atomic.Uint32
}

func New() *Window {
	return &Window{quiet: make(chan struct{}, 1)}
}

// SetActive is safe to call from interrupt context: it never blocks or
// allocates.
func (w *Window) SetActive(on bool) {
	was := w.active.Swap(on)
	if was && !on {
		select {
		case w.quiet <- struct{}{}:
		default:
		}
	}
}

func (w *Window) Active() bool { return w.active.Load() }

// WaitIdle returns once the radio is not in an active window. It parks on
// the idle edge rather than spinning.
func (w *Window) WaitIdle(ctx context.Context) error {
	for w.active.Load() {
		w.waits.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.quiet:
		}
	}
	return ctx.Err()
}

// Waits counts how many times a caller had to park.
func (w *Window) Waits() uint32 { return w.waits.Load() }
