package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	cfgpkg "github.com/rzbill/tubed/internal/config"
	"github.com/rzbill/tubed/internal/core"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

var (
	// ErrClosed is returned once the loop has stopped.
	ErrClosed = errors.New("runtime: closed")
	// ErrDraining is reported by CheckHealth while drain mode is on.
	ErrDraining = errors.New("runtime: draining")
)

// Readiness is an I/O event delivered to a connection.
type Readiness int

const (
	NotReady Readiness = iota
	Readable
	Writable
	Hangup
)

func (r Readiness) String() string {
	switch r {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Hangup:
		return "hangup"
	default:
		return "none"
	}
}

// Endpoint is a transport whose readiness is tracked outside the loop.
//
// Arm is called on the loop goroutine whenever the connection's interest
// changes; it returns readiness that is already pending so the loop can
// deliver it without waiting for the endpoint to notify. Ack is called right
// before an event is handled so the endpoint may signal again.
type Endpoint interface {
	core.Transport
	Arm(c *core.Conn, interest core.Interest) Readiness
	Ack()
}

// Options for building the Runtime.
type Options struct {
	Config  cfgpkg.Config
	Version string
	Logger  logpkg.Logger
	Clock   func() time.Time
}

// Runtime runs a core.Server on its own goroutine.
type Runtime struct {
	srv    *core.Server
	config cfgpkg.Config
	log    logpkg.Logger
	clock  func() time.Time

	events chan func()
	local  []func() // loop-only
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	draining atomic.Bool
}

// Open validates the config, builds the core and starts the loop.
func Open(opts Options) (*Runtime, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	l := opts.Logger
	if l == nil {
		l = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	r := &Runtime{
		config: opts.Config,
		log:    l.WithComponent("runtime"),
		clock:  clock,
		events: make(chan func(), 1024),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	r.srv = core.New(core.Options{
		MaxJobSize:     opts.Config.MaxJobSize,
		MaxJobsPerTube: opts.Config.MaxJobsPerTube,
		MaxJobs:        opts.Config.MaxJobs,
		Version:        opts.Version,
		Clock:          clock,
		Events:         r,
		Logger:         l,
	})
	go r.loop(opts.Config.Tick.Duration)
	r.log.Debug("loop started", logpkg.Duration("tick", opts.Config.Tick.Duration))
	return r, nil
}

// Close stops the loop. Connections still open are left to their front-end.
func (r *Runtime) Close() error {
	r.once.Do(func() { close(r.quit) })
	<-r.done
	return nil
}

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// CheckHealth reports whether the loop is running, responsive and accepting
// new jobs.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if err := r.Do(ctx, func(*core.Server) {}); err != nil {
		return err
	}
	if r.draining.Load() {
		return ErrDraining
	}
	return nil
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (r *Runtime) Do(ctx context.Context, fn func(s *core.Server)) error {
	finished := make(chan struct{})
	if err := r.post(ctx, func() {
		fn(r.srv)
		close(finished)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}
}

// Snapshot returns current server and tube statistics.
func (r *Runtime) Snapshot(ctx context.Context) (core.Snapshot, error) {
	var snap core.Snapshot
	err := r.Do(ctx, func(s *core.Server) { snap = s.Snapshot() })
	return snap, err
}

// SetDraining toggles drain mode.
func (r *Runtime) SetDraining(ctx context.Context, v bool) error {
	if err := r.Do(ctx, func(s *core.Server) { s.SetDraining(v) }); err != nil {
		return err
	}
	r.draining.Store(v)
	return nil
}

// Draining reports the last drain mode set through SetDraining.
func (r *Runtime) Draining() bool { return r.draining.Load() }

// Accept hands a new transport to the core.
func (r *Runtime) Accept(ctx context.Context, t core.Transport) error {
	return r.post(ctx, func() { r.srv.Accept(t) })
}

// Notify delivers ev to c from any goroutine. It blocks while the event
// queue is full and gives up once the loop has stopped.
func (r *Runtime) Notify(c *core.Conn, ev Readiness) {
	_ = r.post(context.Background(), func() { r.fire(c, ev) })
}

// Register implements core.EventSource. Transports that are not Endpoints
// never signal.
func (r *Runtime) Register(c *core.Conn, interest core.Interest) error {
	ep, ok := c.Transport().(Endpoint)
	if !ok {
		return nil
	}
	if ev := ep.Arm(c, interest); ev != NotReady {
		r.local = append(r.local, func() { r.fire(c, ev) })
	}
	return nil
}

func (r *Runtime) post(ctx context.Context, fn func()) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	select {
	case r.events <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}
}

func (r *Runtime) fire(c *core.Conn, ev Readiness) {
	if ep, ok := c.Transport().(Endpoint); ok {
		ep.Ack()
	}
	switch ev {
	case Readable:
		r.srv.OnReadable(c)
	case Writable:
		r.srv.OnWritable(c)
	case Hangup:
		r.srv.OnHangup(c)
	}
}

func (r *Runtime) loop(tick time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case fn := <-r.events:
			fn()
		case <-ticker.C:
			r.srv.OnTick(r.clock())
		case <-r.quit:
			r.log.Debug("loop stopped")
			return
		}
		r.runLocal()
	}
}

func (r *Runtime) runLocal() {
	for len(r.local) > 0 {
		fn := r.local[0]
		r.local[0] = nil
		r.local = r.local[1:]
		fn()
	}
	r.local = nil
}
