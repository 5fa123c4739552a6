package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdeforest/ClodWeave/internal/builtin"
	"github.com/rdeforest/ClodWeave/internal/config"
	"github.com/rdeforest/ClodWeave/internal/coordinator"
	"github.com/rdeforest/ClodWeave/internal/host"
	"github.com/rdeforest/ClodWeave/internal/natsbus"
	"github.com/rdeforest/ClodWeave/internal/registry"
	"github.com/rdeforest/ClodWeave/internal/store"
	"github.com/rdeforest/ClodWeave/internal/vault"
)

type testServer struct {
	*Server
	http *httptest.Server
}

func newTestServer(t *testing.T, auth string, client *natsbus.Client) *testServer {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	v, err := vault.New("test passphrase")
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, builtin.Register(reg, coordinator.Defaults{Timeout: time.Second}, s, nil))

	h, err := host.New(host.Options{Types: reg, Recorder: s, RequestTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(h.Close)

	srv := NewServer(s, h, client, vault.NewSecrets(v, s), config.WebConfig{Enabled: true, Auth: auth}, "test")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: srv, http: ts}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if ts.cfg.Auth != "" {
		req.SetBasicAuth("admin", ts.cfg.Auth)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	var raw json.RawMessage
	if json.NewDecoder(resp.Body).Decode(&raw) == nil && len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	} else if len(raw) > 0 {
		out = map[string]any{"items": nil}
		var items []any
		if json.Unmarshal(raw, &items) == nil {
			out["items"] = items
		}
	}
	return resp, out
}

func TestComponentLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, "", nil)

	resp, body := ts.do(t, "POST", "/api/components", map[string]any{
		"id": "alpha", "type": "echo", "config": map[string]any{"reply": "a"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "ready", body["state"])
	assert.Equal(t, "echo", body["type"])

	resp, body = ts.do(t, "POST", "/api/components", map[string]any{"id": "alpha", "type": "echo"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, body)

	resp, body = ts.do(t, "POST", "/api/components", map[string]any{
		"id": "bad", "type": "echo", "config": map[string]any{"delay": true},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body["problems"], "Field delay must be of type duration")

	resp, _ = ts.do(t, "POST", "/api/components", map[string]any{"id": "x", "type": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, "POST", "/api/components", map[string]any{"id": "*", "type": "echo"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, "POST", "/api/components/alpha/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "running", body["state"])

	resp, body = ts.do(t, "GET", "/api/components/alpha", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := body["events"].([]any)
	assert.Len(t, events, 2)

	resp, body = ts.do(t, "POST", "/api/components/alpha/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stopped", body["state"])

	resp, _ = ts.do(t, "POST", "/api/components/alpha/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = ts.do(t, "DELETE", "/api/components/alpha", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, "GET", "/api/components/alpha", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecuteCoordinatorOverHTTP(t *testing.T) {
	ts := newTestServer(t, "", nil)

	for _, c := range []map[string]any{
		{"id": "a", "type": "echo", "config": map[string]any{"reply": "from a"}},
		{"id": "b", "type": "echo"},
		{"id": "coord", "type": "coordinator", "config": map[string]any{"participants": []string{"a", "b"}, "mode": "sequential"}},
	} {
		resp, body := ts.do(t, "POST", "/api/components", c)
		require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	}
	for _, target := range []string{"a", "b"} {
		resp, body := ts.do(t, "POST", "/api/connections", map[string]any{"source": "coord", "target": target})
		require.Equal(t, http.StatusCreated, resp.StatusCode, body)
		assert.Equal(t, "request-reply", body["pattern"])
	}
	resp, body := ts.do(t, "GET", "/api/connections", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 2)

	require.NoError(t, ts.host.StartAll(context.Background()))

	resp, body = ts.do(t, "POST", "/api/coordinators/coord/execute", map[string]any{"params": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "from a", body["output"])
	runID := body["run_id"].(string)

	resp, body = ts.do(t, "GET", "/api/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.RunCompleted, body["status"])

	resp, body = ts.do(t, "GET", "/api/runs?coordinator=coord", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 1)

	resp, _ = ts.do(t, "POST", "/api/coordinators/coord/execute", map[string]any{"mode": "chaos"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, "POST", "/api/coordinators/a/execute", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, "DELETE", "/api/connections?source=coord&target=b", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, "DELETE", "/api/connections?source=coord&target=b", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// b is no longer reachable, so the chain fails after a and reports it.
	resp, body = ts.do(t, "POST", "/api/coordinators/coord/execute", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body["error"], "No connection to target: b")
	require.NotNil(t, body["result"])
}

func TestSchedulesOverHTTP(t *testing.T) {
	ts := newTestServer(t, "", nil)

	resp, body := ts.do(t, "POST", "/api/schedules", map[string]any{
		"coordinator": "coord",
		"schedule":    "every 10m",
		"params":      map[string]any{"topic": "news"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "every 10 minutes", body["description"])
	assert.Equal(t, "coord every 10 minutes", body["name"])
	id := body["id"].(string)

	resp, _ = ts.do(t, "POST", "/api/schedules", map[string]any{"coordinator": "coord", "schedule": "whenever"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, "POST", "/api/schedules", map[string]any{"coordinator": "coord", "schedule": "every 1m", "mode": "chaos"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, "POST", "/api/schedules/"+id+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.SchedulePaused, body["status"])

	resp, body = ts.do(t, "POST", "/api/schedules/"+id+"/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.ScheduleActive, body["status"])

	resp, body = ts.do(t, "GET", "/api/schedules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 1)

	resp, _ = ts.do(t, "DELETE", "/api/schedules/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, "POST", "/api/schedules/"+id+"/pause", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSecretsAreWriteOnly(t *testing.T) {
	ts := newTestServer(t, "", nil)

	resp, body := ts.do(t, "POST", "/api/secrets", map[string]any{"name": "api-key", "value": "s3cret"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.NotContains(t, body, "value")

	resp, body = ts.do(t, "GET", "/api/secrets", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.NotContains(t, items[0], "value")

	resp, body = ts.do(t, "POST", "/api/components", map[string]any{
		"id": "e", "type": "echo", "config": map[string]any{"reply": "secret:api-key"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	resp, _ = ts.do(t, "DELETE", "/api/secrets/api-key", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, "hunter2", nil)

	resp, err := http.Get(ts.http.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := ts.do(t, "GET", "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test", body["version"])

	resp, err = http.Post(ts.http.URL+"/api/login", "application/json", strings.NewReader(`{"password":"wrong"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Post(ts.http.URL+"/api/login", "application/json", strings.NewReader(`{"password":"hunter2"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookies := resp.Cookies()
	require.NotEmpty(t, cookies)

	req, _ := http.NewRequest("GET", ts.http.URL+"/api/types", nil)
	req.AddCookie(cookies[0])
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketForwardsBusEvents(t *testing.T) {
	bus, err := natsbus.New(config.NATSConfig{Port: natsserver.RANDOM_PORT, DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(bus.Close)
	client, err := natsbus.NewClient(bus)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	ts := newTestServer(t, "", client)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ts.hub.Run(ctx)
	require.NoError(t, ts.subscribeEvents())

	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return ts.hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	natsbus.NewEvents(client).PublishComponentEvent("alpha", "component_started", nil)
	require.NoError(t, client.Flush())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event natsbus.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "component_started", event.Type)
	assert.Equal(t, "component", event.Kind)
	assert.Equal(t, "alpha", event.ID)
}
