package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connkeeper/internal/config"
	"connkeeper/internal/connectivity"
	"connkeeper/internal/metrics"
	"connkeeper/internal/models"
	"connkeeper/internal/monitor"
	"connkeeper/internal/storage"
)

type testEnv struct {
	srv      *httptest.Server
	manager  *connectivity.Manager
	recorder *monitor.Recorder
	healthy  *atomic.Bool
}

func newTestEnv(t *testing.T, perMinute int) testEnv {
	t.Helper()

	clock := clockwork.NewFakeClock()
	backend, err := storage.NewFileBackend(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)
	cache := storage.NewCache(backend, clock, nil)

	healthy := &atomic.Bool{}
	prober := monitor.ProberFunc(func(context.Context) models.ProbeResult {
		if healthy.Load() {
			return models.ProbeResult{Target: "health", OK: true, CheckedAt: time.Now().UTC()}
		}
		return models.ProbeResult{Target: "health", Reason: models.ReasonServerUnreachable, Error: "http 503", CheckedAt: time.Now().UTC()}
	})
	recorder := monitor.NewRecorder(prober, monitor.NewHistory(50), nil, nil)
	collector := metrics.NewCollector()

	manager, err := connectivity.New(config.DefaultConfig(), connectivity.Options{
		Prober:   recorder,
		Cache:    cache,
		Clock:    clock,
		Observer: collector,
	})
	require.NoError(t, err)
	manager.Start()

	s := New("127.0.0.1:0", Options{
		Manager:            manager,
		Probes:             recorder.History(),
		Cache:              cache,
		Gatherer:           collector.Registry(),
		ReconnectPerMinute: perMinute,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		manager.Dispose()
		srv.Close()
	})
	return testEnv{srv: srv, manager: manager, recorder: recorder, healthy: healthy}
}

func (e testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestConnectivityEndpoint(t *testing.T) {
	env := newTestEnv(t, 6)

	resp, body := env.do(t, http.MethodGet, "/api/connectivity", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view map[string]any
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, "online", view["status"])
	assert.Equal(t, "none", view["level"])
	assert.Equal(t, false, view["grace_expired"])
	assert.Equal(t, 72.0, view["grace_remaining_hours"])
	features, ok := view["features"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, features, 5)
}

func TestSignalEndpoint(t *testing.T) {
	env := newTestEnv(t, 6)

	resp, _ := env.do(t, http.MethodPost, "/api/connectivity/signal", `{"online": false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusOffline, env.manager.Status())

	resp, _ = env.do(t, http.MethodPost, "/api/connectivity/signal", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/connectivity/signal", `{"online": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusOnline, env.manager.Status())

	resp, _ = env.do(t, http.MethodGet, "/api/connectivity/signal", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestReconnectEndpoint_RateLimited(t *testing.T) {
	env := newTestEnv(t, 1)
	env.manager.HandleSignal(false)
	env.healthy.Store(true)

	resp, body := env.do(t, http.MethodPost, "/api/connectivity/reconnect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"online"`)

	resp, _ = env.do(t, http.MethodPost, "/api/connectivity/reconnect", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestProbesUptimeAndTimeline(t *testing.T) {
	env := newTestEnv(t, 0)
	for i := 0; i < 3; i++ {
		env.manager.ManualReconnect(context.Background())
	}

	resp, body := env.do(t, http.MethodGet, "/api/probes?limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var probes []models.ProbeResult
	require.NoError(t, json.Unmarshal(body, &probes))
	assert.Len(t, probes, 2)

	resp, body = env.do(t, http.MethodGet, "/api/uptime", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var uptime []metrics.Availability
	require.NoError(t, json.Unmarshal(body, &uptime))
	require.Len(t, uptime, 1)
	assert.Equal(t, 3, uptime[0].TotalChecks)

	resp, body = env.do(t, http.MethodGet, "/api/timeline?points=12", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var timeline models.ConnectivityTimeline
	require.NoError(t, json.Unmarshal(body, &timeline))
	assert.Len(t, timeline.Timeline, 12)
	assert.Equal(t, "state-error", timeline.Timeline[11].ClassName)
}

func TestCacheEndpoints(t *testing.T) {
	env := newTestEnv(t, 6)

	resp, _ := env.do(t, http.MethodGet, "/api/cache/app-state", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, "/api/cache/app-state", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, "/api/cache/app-state", `{"drafts":[1,2]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/api/cache/app-state", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entry models.CacheEntry
	require.NoError(t, json.Unmarshal(body, &entry))
	assert.Equal(t, "app-state", entry.Key)
	assert.JSONEq(t, `{"drafts":[1,2]}`, string(entry.Payload))

	restored := env.manager.RestoreState()
	require.NotNil(t, restored)
	assert.JSONEq(t, `{"drafts":[1,2]}`, string(restored.Payload))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 6)
	env.manager.HandleSignal(false)

	resp, body := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `connkeeper_status{status="offline"} 1`)
	assert.Contains(t, string(body), `connkeeper_transitions_total{from="online",to="offline"} 1`)
}

func TestStream_SnapshotThenEvents(t *testing.T) {
	env := newTestEnv(t, 6)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/connectivity/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first streamMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, streamTypeSnapshot, first.Type)
	assert.Equal(t, models.StatusOnline, first.View.Status)
	assert.Nil(t, first.Event)

	env.manager.HandleSignal(false)

	var next streamMessage
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, string(connectivity.EventStatusChanged), next.Type)
	require.NotNil(t, next.Event)
	assert.Equal(t, models.StatusOffline, next.Event.Snapshot.Status)
	assert.NotEmpty(t, next.Event.ID)
}

func TestStream_RejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, 6)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/connectivity/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestParseLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/probes?limit=500", nil)
	assert.Equal(t, 200, parseLimit(req, 200))
	req = httptest.NewRequest(http.MethodGet, "/api/probes?limit=abc", nil)
	assert.Equal(t, 200, parseLimit(req, 200))
	req = httptest.NewRequest(http.MethodGet, "/api/probes?limit=5", nil)
	assert.Equal(t, 5, parseLimit(req, 200))
}
