// Package core holds the job queue state machine: jobs, tubes, connections,
// dispatch and timeout processing.
//
// Nothing in this package is safe for concurrent use. A Server is owned by a
// single event loop that feeds it readiness events (Accept, OnReadable,
// OnWritable, OnHangup) and periodic ticks (OnTick). Every handler runs to
// completion without blocking; transports report ErrWouldBlock instead.
package core

import (
	"errors"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/tubed/internal/heap"
	"github.com/rzbill/tubed/pkg/id"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

// SafetyMargin is how close to its deadline a reservation must be before a
// blocked reserve is answered with DEADLINE_SOON.
const SafetyMargin = time.Second

// DefaultMaxJobSize is the largest accepted job body, CRLF excluded.
const DefaultMaxJobSize = 65535

// ErrWouldBlock is returned by a Transport when an operation cannot make
// progress without blocking.
var ErrWouldBlock = errors.New("core: would block")

// Interest is the readiness a connection is waiting for.
type Interest int

const (
	InterestNone Interest = iota
	InterestRead
	InterestWrite
)

func (i Interest) String() string {
	switch i {
	case InterestRead:
		return "read"
	case InterestWrite:
		return "write"
	default:
		return "none"
	}
}

// Transport is a non-blocking byte stream.
type Transport interface {
	// Read returns ErrWouldBlock when no data is buffered and io.EOF once the
	// peer has closed.
	Read(p []byte) (int, error)
	// Writev writes as much of bufs as possible without blocking and returns
	// the byte count. ErrWouldBlock means nothing could be written.
	Writev(bufs [][]byte) (int, error)
	Close() error
	RemoteAddr() string
}

// EventSource delivers readiness for registered connections. Hangups are
// reported regardless of interest.
type EventSource interface {
	Register(c *Conn, interest Interest) error
}

// Options configures a Server.
type Options struct {
	MaxJobSize     int64
	MaxJobsPerTube int // 0 is unbounded
	MaxJobs        int // registry-wide; 0 is unbounded
	Version        string
	Clock          func() time.Time
	Events         EventSource
	Logger         logpkg.Logger
}

// Server is the root of all queue state.
type Server struct {
	opts   Options
	clock  func() time.Time
	log    logpkg.Logger
	events EventSource

	ids      *id.Generator
	jobs     map[uint64]*Job
	tubes    []*Tube
	defTube  *Tube
	conns    map[*Conn]struct{}
	wake     *heap.Heap[*Conn]
	pending  []*Conn
	nextConn uint64
	copies   int

	stats      serverStats
	draining   bool
	instanceID string
	hostname   string
	startedAt  time.Time
}

// New builds a Server holding only the default tube.
func New(opts Options) *Server {
	if opts.MaxJobSize <= 0 {
		opts.MaxJobSize = DefaultMaxJobSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	l := opts.Logger
	if l == nil {
		l = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	host, _ := os.Hostname()
	s := &Server{
		opts:       opts,
		clock:      opts.Clock,
		log:        l.WithComponent("core"),
		events:     opts.Events,
		ids:        id.NewGenerator(),
		jobs:       make(map[uint64]*Job),
		conns:      make(map[*Conn]struct{}),
		instanceID: uuid.NewString(),
		hostname:   host,
	}
	s.startedAt = s.clock()
	s.wake = heap.New(connLess, heap.WithRecord(func(c *Conn, i int) { c.wakePos = i }))
	t, _ := s.findOrCreateTube(DefaultTubeName)
	s.increfTube(t)
	s.defTube = t
	return s
}

// SetDraining toggles drain mode. While draining, put is refused.
func (s *Server) SetDraining(v bool) {
	if v != s.draining {
		s.log.Info("drain mode changed", logpkg.Bool("draining", v))
	}
	s.draining = v
}

// Draining reports whether drain mode is on.
func (s *Server) Draining() bool { return s.draining }

// ID returns the random instance id reported by stats.
func (s *Server) ID() string { return s.instanceID }

// Conns returns the number of open connections.
func (s *Server) Conns() int { return len(s.conns) }

// Accept adopts a new transport and starts reading from it.
func (s *Server) Accept(t Transport) *Conn {
	s.nextConn++
	c := newConn(s, s.nextConn, t)
	s.conns[c] = struct{}{}
	s.stats.totalConns++
	c.log.Debug("connection opened", logpkg.Str("remote", t.RemoteAddr()))
	c.process()
	s.runPending()
	return c
}

// OnReadable reads what is available and runs every complete request.
func (s *Server) OnReadable(c *Conn) {
	if c.state == StateClosed {
		return
	}
	c.readAvailable()
	s.runPending()
}

// OnWritable resumes a blocked reply.
func (s *Server) OnWritable(c *Conn) {
	if c.state == StateClosed {
		return
	}
	c.process()
	s.runPending()
}

// OnHangup tears the connection down.
func (s *Server) OnHangup(c *Conn) {
	if c.state == StateClosed {
		return
	}
	c.close()
	s.runPending()
}

// schedule queues c to have its state machine advanced once the current
// handler finishes.
func (s *Server) schedule(c *Conn) {
	if c.scheduled {
		return
	}
	c.scheduled = true
	s.pending = append(s.pending, c)
}

func (s *Server) runPending() {
	for len(s.pending) > 0 {
		c := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		c.scheduled = false
		if c.state != StateClosed {
			c.process()
		}
	}
	s.pending = nil
}

func logTube(t *Tube) logpkg.Field { return logpkg.Str(logpkg.TubeKey, t.Name) }

func logJob(j *Job) logpkg.Field { return logpkg.Uint64(logpkg.JobKey, j.ID) }
