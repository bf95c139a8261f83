package tcpserver

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rzbill/tubed/internal/core"
	"github.com/rzbill/tubed/internal/runtime"
)

const (
	readChunk   = 4096
	inboxLimit  = 64 << 10
	outboxLimit = 64 << 10

	// lingerTimeout bounds the final flush after the core closes a connection.
	lingerTimeout = time.Second
)

// endpoint adapts a net.Conn to runtime.Endpoint.
type endpoint struct {
	nc      net.Conn
	rt      *runtime.Runtime
	remote  string
	onClose func(*endpoint)

	mu       sync.Mutex
	cond     *sync.Cond
	c        *core.Conn
	interest core.Interest
	signaled bool
	in       []byte
	rerr     error
	out      []byte
	werr     error
	closed   bool
}

func newEndpoint(nc net.Conn, rt *runtime.Runtime, onClose func(*endpoint)) *endpoint {
	e := &endpoint{nc: nc, rt: rt, remote: nc.RemoteAddr().String(), onClose: onClose}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *endpoint) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.in) > 0 {
		n := copy(p, e.in)
		e.in = e.in[n:]
		if len(e.in) == 0 {
			e.in = nil
		}
		e.cond.Broadcast()
		return n, nil
	}
	if e.rerr != nil {
		if errors.Is(e.rerr, io.EOF) {
			return 0, io.EOF
		}
		return 0, e.rerr
	}
	return 0, core.ErrWouldBlock
}

func (e *endpoint) Writev(bufs [][]byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.werr != nil {
		return 0, e.werr
	}
	if e.closed {
		return 0, net.ErrClosed
	}
	space := outboxLimit - len(e.out)
	if space <= 0 {
		return 0, core.ErrWouldBlock
	}
	n := 0
	for _, b := range bufs {
		k := min(len(b), space-n)
		e.out = append(e.out, b[:k]...)
		n += k
		if n == space {
			break
		}
	}
	e.cond.Broadcast()
	return n, nil
}

// Close is called by the core. Buffered output is still flushed before the
// socket goes away.
func (e *endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	if e.onClose != nil {
		e.onClose(e)
	}
	return nil
}

func (e *endpoint) RemoteAddr() string { return e.remote }

func (e *endpoint) Arm(c *core.Conn, interest core.Interest) runtime.Readiness {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.c = c
	e.interest = interest
	return e.readyLocked()
}

func (e *endpoint) Ack() {
	e.mu.Lock()
	e.signaled = false
	e.mu.Unlock()
}

// readyLocked returns the event the loop should get now, if any, and marks
// it as signaled.
func (e *endpoint) readyLocked() runtime.Readiness {
	if e.c == nil || e.signaled || e.closed {
		return runtime.NotReady
	}
	ev := runtime.NotReady
	switch e.interest {
	case core.InterestRead:
		if len(e.in) > 0 || e.rerr != nil {
			ev = runtime.Readable
		}
	case core.InterestWrite:
		if e.werr != nil || len(e.out) < outboxLimit {
			ev = runtime.Writable
		}
	default:
		if e.rerr != nil || e.werr != nil {
			ev = runtime.Hangup
		}
	}
	if ev != runtime.NotReady {
		e.signaled = true
	}
	return ev
}

func (e *endpoint) notify() {
	e.mu.Lock()
	ev, c := e.readyLocked(), e.c
	e.mu.Unlock()
	if ev != runtime.NotReady {
		e.rt.Notify(c, ev)
	}
}

func (e *endpoint) readLoop() {
	buf := make([]byte, readChunk)
	for {
		n, err := e.nc.Read(buf)
		e.mu.Lock()
		if n > 0 {
			e.in = append(e.in, buf[:n]...)
		}
		if err != nil && e.rerr == nil {
			e.rerr = err
		}
		e.mu.Unlock()
		e.notify()
		if err != nil {
			return
		}

		e.mu.Lock()
		for len(e.in) >= inboxLimit && !e.closed {
			e.cond.Wait()
		}
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return
		}
	}
}

func (e *endpoint) writeLoop() {
	defer e.nc.Close()
	for {
		e.mu.Lock()
		for len(e.out) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.out) == 0 {
			e.mu.Unlock()
			return
		}
		chunk, closing := e.out, e.closed
		e.mu.Unlock()

		if closing {
			_ = e.nc.SetWriteDeadline(time.Now().Add(lingerTimeout))
		}
		_, err := e.nc.Write(chunk)

		e.mu.Lock()
		e.out = e.out[len(chunk):]
		if len(e.out) == 0 {
			e.out = nil
		}
		if err != nil {
			e.werr = err
		}
		e.mu.Unlock()
		e.notify()
		if err != nil {
			return
		}
	}
}

// shutdown drops the socket without flushing.
func (e *endpoint) shutdown() {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	_ = e.nc.Close()
}
