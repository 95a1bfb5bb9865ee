// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/evsync/internal/bus"
	"github.com/ManuGH/evsync/internal/health"
	"github.com/ManuGH/evsync/internal/session"
	"github.com/ManuGH/evsync/internal/session/store"
	"github.com/ManuGH/evsync/internal/topology"
)

type fakeSessions struct {
	mu        sync.Mutex
	status    *session.Status
	capturing bool
	aborted   []string
	restarts  int
	canRetry  bool
}

func (f *fakeSessions) Status() (session.Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		return session.Status{}, false
	}
	return *f.status, true
}

func (f *fakeSessions) Capturing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capturing
}

func (f *fakeSessions) Abort(cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		return session.ErrNoSession
	}
	f.aborted = append(f.aborted, cause.Error())
	return nil
}

func (f *fakeSessions) Restart() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.canRetry {
		return false
	}
	f.restarts++
	return true
}

type fixture struct {
	srv      *Server
	sessions *fakeSessions
	history  *store.MemoryStore
	bus      *bus.Bus
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		sessions: &fakeSessions{},
		history:  store.NewMemoryStore(16),
		bus:      bus.New(bus.Options{}),
	}
	t.Cleanup(func() { _ = f.bus.Close() })

	hm := health.NewManager("test")
	hm.RegisterReadinessChecker(health.NewCaptureChecker(f.sessions.Capturing))
	f.srv = New(cfg, Deps{Health: hm, Sessions: f.sessions, History: f.history, Bus: f.bus})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestProbes(t *testing.T) {
	f := newFixture(t, Config{})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/readyz", "").Code)

	f.sessions.capturing = true
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	f.do(t, http.MethodGet, "/healthz", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "evsync_http_request_duration_seconds")
	assert.Contains(t, rec.Body.String(), "evsync_session_active")
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Config{Version: "1.2.3"})

	var resp StatusResponse
	rec := f.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Nil(t, resp.Session)

	f.sessions.status = &session.Status{ID: "sess-1", Topology: "rig", Attempt: 2, Outcome: store.OutcomeRunning}
	f.sessions.capturing = true
	rec = f.do(t, http.MethodGet, "/api/v1/status", "")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Session)
	assert.Equal(t, "sess-1", resp.Session.ID)
	assert.Equal(t, 2, resp.Session.Attempt)
	assert.True(t, resp.Capturing)
}

func TestSessionsHistory(t *testing.T) {
	f := newFixture(t, Config{})
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.history.Put(context.Background(), store.Record{
			ID:        id,
			Topology:  "rig",
			Attempt:   1,
			Outcome:   store.OutcomeCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	var recs []store.Record
	rec := f.do(t, http.MethodGet, "/api/v1/sessions?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/sessions?limit=-1", "").Code)

	var one store.Record
	rec = f.do(t, http.MethodGet, "/api/v1/sessions/b", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&one))
	assert.Equal(t, "b", one.ID)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/sessions/zzz", "").Code)
}

func TestAbort(t *testing.T) {
	f := newFixture(t, Config{})

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/v1/session/abort", "").Code)

	f.sessions.status = &session.Status{ID: "sess-1"}
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/v1/session/abort", `{"reason":"lens cap on"}`).Code)
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/v1/session/abort", "").Code)
	assert.Equal(t, []string{"lens cap on", "aborted via admin API"}, f.sessions.aborted)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/session/abort", `{"why":1}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/v1/session/abort", "").Code)
}

func TestRestart(t *testing.T) {
	f := newFixture(t, Config{})
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/v1/session/restart", "").Code)

	f.sessions.canRetry = true
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/v1/session/restart", "").Code)
	assert.Equal(t, 1, f.sessions.restarts)
}

func TestTopology(t *testing.T) {
	f := newFixture(t, Config{})
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/api/v1/topology", "").Code)

	topo, err := topology.Build(topology.Descriptor{Name: "rig", Nodes: []topology.NodeSpec{
		{Name: "p", Role: topology.RolePrimary, NumSecondaryNodes: 1},
		{Name: "s", Role: topology.RoleSecondary, SecondaryIndex: 0, ReadyTo: "p"},
	}})
	require.NoError(t, err)
	f.srv.SetTopology(topo)

	var resp TopologyResponse
	rec := f.do(t, http.MethodGet, "/api/v1/topology", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "rig", resp.Name)
	require.Len(t, resp.Nodes, 2)
	require.NotNil(t, resp.Nodes[1].SecondaryIndex)
	assert.Equal(t, 0, *resp.Nodes[1].SecondaryIndex)
	assert.Equal(t, 1, resp.Nodes[0].Secondaries)
	assert.Len(t, resp.Wires, 1)
}

func TestBusTopics(t *testing.T) {
	f := newFixture(t, Config{})
	sub, err := f.bus.Subscribe("/sensors/p/events", bus.SubscribeOptions{Name: "recorder"})
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	var stats []bus.Stats
	rec := f.do(t, http.MethodGet, "/api/v1/bus/topics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "/sensors/p/events", stats[0].Topic)
	require.Len(t, stats[0].Subscribers, 1)
	assert.Equal(t, "recorder", stats[0].Subscribers[0].Name)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimitRPS: 2})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, f.do(t, http.MethodGet, "/healthz", "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestMissingDeps(t *testing.T) {
	srv := New(Config{}, Deps{Health: health.NewManager("test")})
	for _, path := range []string{"/api/v1/status", "/api/v1/sessions", "/api/v1/bus/topics"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}
