package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/tubed/internal/config"
	"github.com/rzbill/tubed/internal/runtime"
	grpcserver "github.com/rzbill/tubed/internal/server/grpc"
	tcpserver "github.com/rzbill/tubed/internal/server/tcp"
)

func startServer(t *testing.T) string {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{Config: cfgpkg.Default(), Version: "test"})
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	s := tcpserver.New(rt, nil)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = s.Serve(context.Background(), l) }()
	t.Cleanup(func() {
		s.Close()
		_ = rt.Close()
	})
	return l.Addr().String()
}

// run executes one CLI invocation against addr and returns its output.
func run(t *testing.T, addr, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--addr", addr}, args...))
	err := root.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, addr, stdin string, args ...string) string {
	t.Helper()
	out, err := run(t, addr, stdin, args...)
	if err != nil {
		t.Fatalf("%v: %v (output %q)", args, err, out)
	}
	return out
}

func TestPutAndReserve(t *testing.T) {
	addr := startServer(t)
	if out := mustRun(t, addr, "", "put", "--tube", "emails", "--data", "hello"); out != "inserted 1\n" {
		t.Fatalf("put output: %q", out)
	}
	if out := mustRun(t, addr, "from stdin", "put"); out != "inserted 2\n" {
		t.Fatalf("put stdin output: %q", out)
	}
	out := mustRun(t, addr, "", "reserve", "--watch", "emails", "--wait", "0s", "--then", "delete")
	if out != "id: 1\nhello\ndelete 1\n" {
		t.Fatalf("reserve output: %q", out)
	}
	out = mustRun(t, addr, "", "reserve", "--wait", "0s", "--then", "bury")
	if out != "id: 2\nfrom stdin\nbury 2\n" {
		t.Fatalf("reserve bury output: %q", out)
	}
	if _, err := run(t, addr, "", "reserve", "--watch", "emails", "--wait", "0s"); err == nil || !strings.Contains(err.Error(), "TIMED_OUT") {
		t.Fatalf("expected TIMED_OUT, got %v", err)
	}
}

func TestKickPeekDelete(t *testing.T) {
	addr := startServer(t)
	mustRun(t, addr, "", "put", "--data", "x")
	mustRun(t, addr, "", "reserve", "--then", "bury")

	if out := mustRun(t, addr, "", "peek", "--buried"); out != "id: 1\nx\n" {
		t.Fatalf("peek buried: %q", out)
	}
	if out := mustRun(t, addr, "", "kick-job", "1"); out != "kicked 1\n" {
		t.Fatalf("kick-job: %q", out)
	}
	if out := mustRun(t, addr, "", "peek", "1"); out != "id: 1\nx\n" {
		t.Fatalf("peek id: %q", out)
	}
	if out := mustRun(t, addr, "", "kick", "5"); out != "kicked 0\n" {
		t.Fatalf("kick: %q", out)
	}
	if out := mustRun(t, addr, "", "delete", "1"); out != "deleted 1\n" {
		t.Fatalf("delete: %q", out)
	}
	if _, err := run(t, addr, "", "delete", "1"); err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if _, err := run(t, addr, "", "peek", "--ready", "--buried"); err == nil {
		t.Fatal("expected flag conflict error")
	}
}

func TestStatsOutput(t *testing.T) {
	addr := startServer(t)
	mustRun(t, addr, "", "put", "--tube", "jobs", "--delay", "10s", "--data", "later")

	out := mustRun(t, addr, "", "stats")
	if !strings.HasPrefix(out, "---\n") || !strings.Contains(out, "total-jobs: 1") {
		t.Fatalf("stats yaml: %q", out)
	}

	out = mustRun(t, addr, "", "stats-tube", "jobs", "-o", "json")
	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("stats-tube json: %v (%q)", err, out)
	}
	if doc["name"] != "jobs" || doc["current-jobs-delayed"].(float64) != 1 {
		t.Fatalf("stats-tube doc: %v", doc)
	}

	out = mustRun(t, addr, "", "stats-job", "1")
	if !strings.Contains(out, "state: delayed") {
		t.Fatalf("stats-job: %q", out)
	}

	out = mustRun(t, addr, "", "list-tubes", "-o", "json")
	var tubes []string
	if err := json.Unmarshal([]byte(out), &tubes); err != nil {
		t.Fatalf("list-tubes json: %v (%q)", err, out)
	}
	if len(tubes) != 2 {
		t.Fatalf("list-tubes: %v", tubes)
	}

	if _, err := run(t, addr, "", "stats-tube", "-bad"); err == nil {
		t.Fatal("expected invalid tube name error")
	}
	if _, err := run(t, addr, "", "stats", "-o", "xml"); err == nil {
		t.Fatal("expected bad format error")
	}
}

func TestPauseTube(t *testing.T) {
	addr := startServer(t)
	if out := mustRun(t, addr, "", "pause-tube", "default", "30s"); out != "paused default for 30s\n" {
		t.Fatalf("pause-tube: %q", out)
	}
	out := mustRun(t, addr, "", "stats-tube", "default")
	if !strings.Contains(out, "pause: 30") {
		t.Fatalf("pause not reported: %q", out)
	}
	if _, err := run(t, addr, "", "pause-tube", "default", "soon"); err == nil {
		t.Fatal("expected delay parse error")
	}
}

func TestAddrFromEnv(t *testing.T) {
	t.Setenv("TUBED_ADDR", "")
	if got := addrFromEnv(); got != defaultAddr {
		t.Fatalf("default addr: %s", got)
	}
	t.Setenv("TUBED_ADDR", "10.0.0.2:11301")
	if got := addrFromEnv(); got != "10.0.0.2:11301" {
		t.Fatalf("env addr: %s", got)
	}
}

func TestHealthCommand(t *testing.T) {
	rt, err := runtime.Open(runtime.Options{Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	defer rt.Close()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	gs := grpcserver.New(rt, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = gs.ListenAndServe(ctx, addr) }()
	defer gs.Close()

	var out string
	deadline := time.Now().Add(3 * time.Second)
	for {
		out, err = run(t, "unused:0", "", "health", "--grpc", addr)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health: %v (%q)", err, out)
	}
	if !strings.Contains(out, `"status":"SERVING"`) && !strings.Contains(out, `"status": "SERVING"`) {
		t.Fatalf("health output: %q", out)
	}

	if err := rt.SetDraining(context.Background(), true); err != nil {
		t.Fatalf("drain: %v", err)
	}
	out, err = run(t, "unused:0", "", "health", "--grpc", addr)
	if err == nil || !strings.Contains(out, "NOT_SERVING") {
		t.Fatalf("expected NOT_SERVING failure, got %v (%q)", err, out)
	}
}
