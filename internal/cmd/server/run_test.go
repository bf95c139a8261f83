package serverrun

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rzbill/tubed/internal/config"
	"github.com/rzbill/tubed/internal/protocol"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

func quietLogger(t *testing.T) logpkg.Logger {
	t.Helper()
	l, err := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text", Output: "null"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestRunServesAndStops(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1"
	cfg.Port = 0
	cfg.Admin.HTTP = freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{Config: cfg, Version: "test", Logger: quietLogger(t), Started: func(a net.Addr) { started <- a }})
	}()

	var addr net.Addr
	select {
	case addr = <-started:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not start")
	}

	cctx, ccancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer ccancel()
	c, err := protocol.Dial(cctx, addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	id, err := c.Put(cctx, 1, 0, time.Second, []byte("ping"))
	if err != nil || id != 1 {
		t.Fatalf("put: id=%d err=%v", id, err)
	}

	var resp *http.Response
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err = http.Get("http://" + cfg.Admin.HTTP + "/v1/healthz")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("admin http: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Port = -1
	if err := Run(context.Background(), Options{Config: cfg, Logger: quietLogger(t)}); err == nil {
		t.Fatal("expected config error")
	}
}

func TestRunListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	cfg := config.Default()
	cfg.Listen = "127.0.0.1"
	cfg.Port = l.Addr().(*net.TCPAddr).Port
	err = Run(context.Background(), Options{Config: cfg, Logger: quietLogger(t)})
	if err == nil || !strings.Contains(err.Error(), "listen") {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestRunUnknownUser(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1"
	cfg.Port = 0
	cfg.User = "tubed-no-such-user"
	err := Run(context.Background(), Options{Config: cfg, Logger: quietLogger(t)})
	if err == nil || !strings.Contains(err.Error(), "drop privileges") {
		t.Fatalf("expected privilege error, got %v", err)
	}
}

func TestBuildConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tubed.yaml")
	data := "port: 12000\nmaxJobSize: 1000\nlisten: 10.0.0.1\nlog:\n  level: warn\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TUBED_PORT", "12001")
	t.Setenv("TUBED_MAX_JOB_SIZE", "2000")

	cmd := NewCommand("test")
	start, _, err := cmd.Find([]string{"start"})
	if err != nil {
		t.Fatalf("find start: %v", err)
	}
	if err := start.ParseFlags([]string{"--config", path, "-p", "12002", "--tick", "50ms", "--admin-grpc", ":9090"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := buildConfig(start.Flags())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.Port != 12002 {
		t.Fatalf("flag should win for port, got %d", cfg.Port)
	}
	if cfg.MaxJobSize != 2000 {
		t.Fatalf("env should win for max job size, got %d", cfg.MaxJobSize)
	}
	if cfg.Listen != "10.0.0.1" || cfg.Log.Level != "warn" {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.Tick.Duration != 50*time.Millisecond || cfg.Admin.GRPC != ":9090" {
		t.Fatalf("flag values lost: %+v", cfg)
	}
}

func TestBuildConfigInvalid(t *testing.T) {
	t.Setenv("TUBED_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	cmd := NewCommand("test")
	start, _, _ := cmd.Find([]string{"start"})
	if _, err := buildConfig(start.Flags()); err == nil {
		t.Fatal("expected error for missing config file")
	}
	t.Setenv("TUBED_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := start.ParseFlags([]string{"--max-job-size", "0"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := buildConfig(start.Flags()); err == nil {
		t.Fatal("expected validation error")
	}
}
