package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/rzbill/tubed/internal/config"
	"github.com/rzbill/tubed/internal/core"
	"github.com/rzbill/tubed/internal/runtime"
	"github.com/rzbill/tubed/internal/server/http/controllers"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

func newServer(t *testing.T) (*runtime.Runtime, *Server) {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{Config: cfgpkg.Default(), Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text", Output: "null"})
	require.NoError(t, err)
	return rt, New(rt, logger)
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	_, s := newServer(t)
	w := do(s, http.MethodGet, "/v1/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestDrainToggle(t *testing.T) {
	rt, s := newServer(t)

	w := do(s, http.MethodPost, "/v1/drain", `{"draining":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, rt.Draining())

	w = do(s, http.MethodGet, "/v1/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"draining"}`, w.Body.String())

	w = do(s, http.MethodGet, "/v1/drain", "")
	assert.JSONEq(t, `{"draining":true}`, w.Body.String())

	w = do(s, http.MethodPost, "/v1/drain", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(s, http.MethodDelete, "/v1/drain", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	do(s, http.MethodPost, "/v1/drain", `{"draining":false}`)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/v1/healthz", "").Code)
}

func TestHealthAfterClose(t *testing.T) {
	rt, s := newServer(t)
	require.NoError(t, rt.Close())
	w := do(s, http.MethodGet, "/v1/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"not_serving"}`, w.Body.String())
}

func TestStatsHandler(t *testing.T) {
	_, s := newServer(t)
	w := do(s, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap core.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "test", snap.Server.Version)
	assert.Equal(t, 1, snap.Server.CurrentTubes)
	require.Len(t, snap.Tubes, 1)
	assert.Equal(t, "default", snap.Tubes[0].Name)

	assert.Equal(t, http.StatusMethodNotAllowed, do(s, http.MethodPost, "/v1/stats", "").Code)
}

func TestTubesHandler(t *testing.T) {
	_, s := newServer(t)
	w := do(s, http.MethodGet, "/v1/tubes?name=default", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tubes []core.TubeStats `json:"tubes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tubes, 1)
	assert.Equal(t, "default", resp.Tubes[0].Name)

	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/v1/tubes?name=nope", "").Code)
}

func TestMetricsHandler(t *testing.T) {
	_, s := newServer(t)
	do(s, http.MethodGet, "/v1/healthz", "")
	w := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	for _, want := range []string{
		"tubed_up 1",
		"tubed_jobs_total 0",
		`tubed_jobs{state="ready"} 0`,
		`tubed_tube_jobs{state="buried",tube="default"} 0`,
		`tubed_commands_total{command="put"} 0`,
		`tubed_admin_http_requests_total{code="200",path="/v1/healthz"} 1`,
		"go_goroutines",
	} {
		assert.Contains(t, body, want)
	}
}

func TestCollectorReportsDown(t *testing.T) {
	rt, err := runtime.Open(runtime.Options{Config: cfgpkg.Default()})
	require.NoError(t, err)
	c := controllers.NewQueueCollector(rt)
	assert.Greater(t, testutil.CollectAndCount(c), 10)
	require.NoError(t, rt.Close())
	assert.Equal(t, 1, testutil.CollectAndCount(c))
	assert.Equal(t, float64(0), testutil.ToFloat64(c))
}

func TestCORSPreflight(t *testing.T) {
	_, s := newServer(t)
	w := do(s, http.MethodOptions, "/v1/stats", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
