package link

import (
	"context"
	"io"
	"sync"
)

// StreamPort adapts a blocking io.ReadWriter (a pipe, a host serial port) to
// Port. A single goroutine owns the blocking reads; it exits when the stream
// fails or, after Close, once its current Read returns. Close does not close
// the stream itself.
type StreamPort struct {
	rw     io.ReadWriter
	chunks chan []byte
	rest   []byte
	err    chan error

	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewStreamPort(rw io.ReadWriter) *StreamPort {
	p := &StreamPort{
		rw:      rw,
		chunks:  make(chan []byte, 4),
		err:     make(chan error, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.pump()
	return p
}

func (p *StreamPort) pump() {
	defer close(p.stopped)
	for {
		buf := make([]byte, 64)
		n, err := p.rw.Read(buf)
		if n > 0 {
			select {
			case p.chunks <- buf[:n]:
			case <-p.done:
				return
			}
		}
		if err != nil {
			p.err <- err
			close(p.chunks)
			return
		}
	}
}

// Close releases the reader goroutine. It is safe to call more than once.
func (p *StreamPort) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *StreamPort) Write(b []byte) (int, error) { return p.rw.Write(b) }

func (p *StreamPort) RecvSomeContext(ctx context.Context, dst []byte) (int, error) {
	if len(p.rest) == 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case c, ok := <-p.chunks:
			if !ok {
				return 0, p.closedErr()
			}
			p.rest = c
		}
	}
	n := copy(dst, p.rest)
	p.rest = p.rest[n:]
	return n, nil
}

func (p *StreamPort) closedErr() error {
	select {
	case err := <-p.err:
		// Keep reporting the same error on later calls.
		p.err <- err
		return err
	default:
		return io.EOF
	}
}
