package core

import (
	"bytes"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	in      bytes.Buffer
	out     bytes.Buffer
	eof     bool
	blocked bool
	closed  bool
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	if f.in.Len() == 0 {
		if f.eof {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}
	return f.in.Read(p)
}

func (f *fakeTransport) Writev(bufs [][]byte) (int, error) {
	if f.blocked {
		return 0, ErrWouldBlock
	}
	n := 0
	for _, b := range bufs {
		f.out.Write(b)
		n += len(b)
	}
	return n, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "test" }

type fakeEvents struct {
	interest map[*Conn]Interest
}

func (e *fakeEvents) Register(c *Conn, i Interest) error {
	e.interest[c] = i
	return nil
}

type harness struct {
	t   *testing.T
	srv *Server
	ev  *fakeEvents
	now time.Time
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	h := &harness{
		t:   t,
		ev:  &fakeEvents{interest: map[*Conn]Interest{}},
		now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	opts := Options{Clock: func() time.Time { return h.now }, Events: h.ev}
	for _, m := range mutate {
		m(&opts)
	}
	h.srv = New(opts)
	t.Cleanup(h.check)
	return h
}

func (h *harness) check() {
	h.t.Helper()
	require.NoError(h.t, h.srv.CheckInvariants())
}

// advance moves the clock forward and runs a tick.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.now = h.now.Add(d)
	h.srv.OnTick(h.now)
	h.check()
}

type client struct {
	h  *harness
	tr *fakeTransport
	c  *Conn
}

func (h *harness) connect() *client {
	tr := &fakeTransport{}
	c := h.srv.Accept(tr)
	return &client{h: h, tr: tr, c: c}
}

// send delivers raw bytes and lets the server read them.
func (cl *client) send(s string) {
	cl.h.t.Helper()
	cl.tr.in.WriteString(s)
	cl.h.srv.OnReadable(cl.c)
	cl.h.check()
}

// take returns and clears everything written to the client so far.
func (cl *client) take() string {
	s := cl.tr.out.String()
	cl.tr.out.Reset()
	return s
}

// do sends one command line and returns the reply.
func (cl *client) do(line string) string {
	cl.h.t.Helper()
	cl.send(line + "\r\n")
	return cl.take()
}

func (cl *client) put(pri, delay, ttr int, body string) string {
	cl.h.t.Helper()
	cl.send(fmt.Sprintf("put %d %d %d %d\r\n%s\r\n", pri, delay, ttr, len(body), body))
	return cl.take()
}

func (cl *client) hangup() {
	cl.tr.eof = true
	cl.h.srv.OnHangup(cl.c)
	cl.h.check()
}
