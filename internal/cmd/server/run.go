package serverrun

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rzbill/tubed/internal/config"
	"github.com/rzbill/tubed/internal/runtime"
	grpcserver "github.com/rzbill/tubed/internal/server/grpc"
	httpserver "github.com/rzbill/tubed/internal/server/http"
	tcpserver "github.com/rzbill/tubed/internal/server/tcp"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

// Options configures Run.
type Options struct {
	Config  config.Config
	Version string
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
	// Started, when set, is called with the job protocol address once it is
	// bound.
	Started func(addr net.Addr)
}

// Run starts the runtime and servers and blocks until ctx is done, a signal
// arrives or a server fails.
func Run(ctx context.Context, opts Options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(&cfg.Log)
		if err != nil {
			l = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel), logpkg.WithFormatter(&logpkg.TextFormatter{}))
			l.Warn("invalid log config; using defaults", logpkg.Err(err))
		}
		logger = l
		logpkg.RedirectStdLog(logger)
	}
	procLogger := logger.WithComponent("server")

	rt, err := runtime.Open(runtime.Options{Config: cfg, Version: opts.Version, Logger: logger})
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer rt.Close()

	lis, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}
	if cfg.User != "" {
		if err := dropPrivileges(cfg.User); err != nil {
			_ = lis.Close()
			return fmt.Errorf("drop privileges to %q: %w", cfg.User, err)
		}
		procLogger.Info("dropped privileges", logpkg.Str("user", cfg.User))
	}

	procLogger.Info("Starting tubed server",
		logpkg.Str("addr", lis.Addr().String()),
		logpkg.Str("version", opts.Version),
		logpkg.Int64("max_job_size", cfg.MaxJobSize),
		logpkg.Str("admin_http", cfg.Admin.HTTP),
		logpkg.Str("admin_grpc", cfg.Admin.GRPC),
	)
	if opts.Started != nil {
		opts.Started(lis.Addr())
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	serve := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && sctx.Err() == nil {
				errCh <- fmt.Errorf("%s server: %w", name, err)
			}
		}()
	}

	tcp := tcpserver.New(rt, logger)
	serve("tcp", func() error { return tcp.Serve(sctx, lis) })

	var hs *httpserver.Server
	if cfg.Admin.HTTP != "" {
		hs = httpserver.New(rt, logger)
		serve("http", func() error { return hs.ListenAndServe(sctx, cfg.Admin.HTTP) })
	}
	var gs *grpcserver.Server
	if cfg.Admin.GRPC != "" {
		gs = grpcserver.New(rt, logger)
		serve("grpc", func() error { return gs.ListenAndServe(sctx, cfg.Admin.GRPC) })
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		watchDrain(sctx, rt, procLogger)
	}()

	var runErr error
	select {
	case <-sctx.Done():
	case runErr = <-errCh:
		procLogger.Error("server failed", logpkg.Err(runErr))
	}
	procLogger.Info("shutting down")
	cancel()
	tcp.Close()
	if hs != nil {
		hs.Close()
	}
	if gs != nil {
		gs.Close()
	}
	wg.Wait()
	return runErr
}

// watchDrain enters drain mode on every drain signal until ctx is done.
func watchDrain(ctx context.Context, rt *runtime.Runtime, l logpkg.Logger) {
	ch := make(chan os.Signal, 1)
	notifyDrain(ch)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if err := rt.SetDraining(ctx, true); err != nil {
				l.Warn("enter drain mode", logpkg.Err(err))
				continue
			}
			l.Info("entered drain mode; new jobs are refused")
		}
	}
}
