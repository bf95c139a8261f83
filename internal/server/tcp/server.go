package tcpserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rzbill/tubed/internal/runtime"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

// Server owns the job protocol listener and its connections.
type Server struct {
	rt      *runtime.Runtime
	log     logpkg.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	lis    net.Listener
	conns  map[*endpoint]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New constructs a Server. Accepts are throttled when the runtime config sets
// an accept rate.
func New(rt *runtime.Runtime, l logpkg.Logger) *Server {
	if l == nil {
		l = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	s := &Server{rt: rt, log: l.WithComponent("tcp"), conns: make(map[*endpoint]struct{})}
	cfg := rt.Config()
	if cfg.AcceptRate > 0 {
		burst := cfg.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}
	return s
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := s.Listen(addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, l) }()
	select {
	case <-ctx.Done():
		s.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

// Listen binds addr so that Addr is valid before Serve runs.
func (s *Server) Listen(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = l.Close()
		return nil, net.ErrClosed
	}
	s.lis = l
	return l, nil
}

// Serve accepts connections on l until l is closed or ctx is done. A server
// closed before Serve runs returns nil.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = l.Close()
		return nil
	}
	s.lis = l
	s.mu.Unlock()
	s.log.Info("listening", logpkg.Str("addr", l.Addr().String()))

	var backoff time.Duration
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		nc, err := l.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.log.Warn("accept failed; retrying", logpkg.Err(err), logpkg.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0
		if err := s.adopt(ctx, nc); err != nil {
			if errors.Is(err, runtime.ErrClosed) {
				return nil
			}
			s.log.Debug("adopt failed", logpkg.Err(err))
		}
	}
}

func (s *Server) adopt(ctx context.Context, nc net.Conn) error {
	ep := newEndpoint(nc, s.rt, s.forget)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nc.Close()
	}
	s.conns[ep] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ep.readLoop()
	}()
	go func() {
		defer s.wg.Done()
		ep.writeLoop()
	}()
	if err := s.rt.Accept(ctx, ep); err != nil {
		s.forget(ep)
		ep.shutdown()
		return err
	}
	return nil
}

func (s *Server) forget(ep *endpoint) {
	s.mu.Lock()
	delete(s.conns, ep)
	s.mu.Unlock()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Addr returns the bound address, or nil before Listen or Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Close stops accepting, drops every open connection and waits for their
// goroutines to exit.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.lis != nil {
		_ = s.lis.Close()
	}
	eps := make([]*endpoint, 0, len(s.conns))
	for ep := range s.conns {
		eps = append(eps, ep)
	}
	s.conns = make(map[*endpoint]struct{})
	s.mu.Unlock()

	for _, ep := range eps {
		ep.shutdown()
	}
	s.wg.Wait()
}
