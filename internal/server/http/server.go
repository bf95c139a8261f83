package httpserver

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rzbill/tubed/internal/runtime"
	"github.com/rzbill/tubed/internal/server/http/controllers"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

// Server is the HTTP admin surface.
type Server struct {
	rt       *runtime.Runtime
	srv      *http.Server
	lis      net.Listener
	log      logpkg.Logger
	requests *prometheus.CounterVec
}

// New builds the admin server and registers every controller.
func New(rt *runtime.Runtime, l logpkg.Logger) *Server {
	if l == nil {
		l = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	l = l.WithComponent("http")
	mux := http.NewServeMux()
	registry := controllers.NewControllerRegistry(rt, l)
	registry.RegisterAllRoutes(mux)

	s := &Server{rt: rt, log: l}
	s.requests = promauto.With(registry.Metrics().Registry()).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubed_admin_http_requests_total",
			Help: "Admin HTTP requests by path and status code.",
		},
		[]string{"path", "code"},
	)
	s.srv = &http.Server{
		Handler:           cors(s.count(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logpkg.ToStdLogger(l),
	}
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.log.Info("listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// count records every request that hits a registered route.
func (s *Server) count(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := "other"
		if _, pattern := next.Handler(r); pattern != "" {
			path = pattern
		}
		s.requests.WithLabelValues(path, strconv.Itoa(rec.code)).Inc()
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
