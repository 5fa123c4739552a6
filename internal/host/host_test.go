package host

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdeforest/ClodWeave/internal/builtin"
	"github.com/rdeforest/ClodWeave/internal/component"
	"github.com/rdeforest/ClodWeave/internal/config"
	"github.com/rdeforest/ClodWeave/internal/connection"
	"github.com/rdeforest/ClodWeave/internal/coordinator"
	"github.com/rdeforest/ClodWeave/internal/envelope"
	"github.com/rdeforest/ClodWeave/internal/natsbus"
	"github.com/rdeforest/ClodWeave/internal/registry"
	"github.com/rdeforest/ClodWeave/internal/store"
	"github.com/rdeforest/ClodWeave/internal/vault"
)

// tracked records start order and can be told to fail on start.
type tracked struct {
	id      string
	log     *startLog
	failing bool
}

type startLog struct {
	mu    sync.Mutex
	order []string
}

func (l *startLog) add(id string) {
	l.mu.Lock()
	l.order = append(l.order, id)
	l.mu.Unlock()
}

func (l *startLog) index(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, v := range l.order {
		if v == id {
			return i
		}
	}
	return -1
}

func trackedDescriptor() component.Descriptor {
	return component.Descriptor{
		Type:         "tracked",
		Capabilities: component.NewSet("track"),
		Requirements: component.NewSet("echo"),
	}
}

func (c *tracked) Descriptor() component.Descriptor { return trackedDescriptor() }

func (c *tracked) Initialize(_ context.Context, cfg map[string]any, ic component.InitContext) error {
	c.id = ic.ID
	c.failing, _ = cfg["fail_start"].(bool)
	return nil
}

func (c *tracked) Start(context.Context) error {
	if c.failing {
		return errors.New("cannot start")
	}
	c.log.add(c.id)
	return nil
}

func (c *tracked) Stop(context.Context) error { return nil }
func (c *tracked) Health() component.Health   { return component.Health{Status: component.StatusOK} }
func (c *tracked) Handle(_ context.Context, env *envelope.Envelope) (any, error) {
	return nil, envelope.MethodNotFound(env.Method)
}

type memoryRecorder struct {
	mu     sync.Mutex
	events map[string][]string
}

func (m *memoryRecorder) RecordComponentEvent(id, eventType string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		m.events = map[string][]string{}
	}
	m.events[id] = append(m.events[id], eventType)
	return nil
}

func (m *memoryRecorder) of(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events[id]...)
}

type testHost struct {
	*Host
	log      *startLog
	recorder *memoryRecorder
}

func newTestHost(t *testing.T, opts Options) *testHost {
	t.Helper()
	log := &startLog{}
	reg := registry.New()
	require.NoError(t, builtin.Register(reg, coordinator.Defaults{Timeout: time.Second}, nil, nil))
	require.NoError(t, reg.Register(trackedDescriptor(), func() component.Connector {
		return &tracked{log: log}
	}))

	rec := &memoryRecorder{}
	opts.Types = reg
	opts.Recorder = rec
	opts.RequestTimeout = time.Second
	h, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return &testHost{Host: h, log: log, recorder: rec}
}

func TestAddBuildsAndInitializes(t *testing.T) {
	h := newTestHost(t, Options{})
	ctx := context.Background()

	rt, err := h.Add(ctx, "e1", builtin.EchoType, map[string]any{"reply": "hi"})
	require.NoError(t, err)
	assert.Equal(t, component.StateReady, rt.State())
	assert.Equal(t, []string{"e1"}, h.IDs())
	assert.Equal(t, []string{component.EventInitialized}, h.recorder.of("e1"))

	_, err = h.Add(ctx, "e1", builtin.EchoType, nil)
	assert.ErrorIs(t, err, ErrExists)

	_, err = h.Add(ctx, "x", "nope", nil)
	assert.ErrorIs(t, err, registry.ErrUnknownType)

	_, err = h.Add(ctx, "bad", builtin.EchoType, map[string]any{"delay": 5})
	assert.ErrorIs(t, err, component.ErrConfiguration)
	_, ok := h.Get("bad")
	assert.False(t, ok)
	assert.Contains(t, h.recorder.of("bad"), component.EventFailed)

	_, err = h.Add(ctx, "*", builtin.EchoType, nil)
	assert.ErrorIs(t, err, component.ErrInvalidID)
	assert.Equal(t, []string{"e1"}, h.IDs())
}

func TestAddResolvesSecrets(t *testing.T) {
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	v, err := vault.New("correct horse battery staple")
	require.NoError(t, err)
	secrets := vault.NewSecrets(v, s)
	require.NoError(t, secrets.Put("api-key", "upstream key", []byte("s3cret")))

	h := newTestHost(t, Options{Secrets: secrets})
	ctx := context.Background()

	rt, err := h.Add(ctx, "e1", builtin.EchoType, map[string]any{"reply": "secret:api-key"})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", rt.Config()["reply"])

	_, err = h.Add(ctx, "e2", builtin.EchoType, map[string]any{"reply": "secret:missing"})
	assert.Error(t, err)

	plain := newTestHost(t, Options{})
	_, err = plain.Add(ctx, "e3", builtin.EchoType, map[string]any{"reply": "secret:api-key"})
	assert.Error(t, err)
}

func TestConnectRequiresHostedEndpoints(t *testing.T) {
	h := newTestHost(t, Options{})
	ctx := context.Background()
	_, err := h.Add(ctx, "a", builtin.EchoType, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, h.Connect("a", "ghost", "", connection.RequestReply), ErrNotFound)
	assert.ErrorIs(t, h.Connect("ghost", "a", "", connection.RequestReply), ErrNotFound)

	_, err = h.Add(ctx, "t", "tracked", nil)
	require.NoError(t, err)

	// tracked requires "echo"; a covers it.
	require.NoError(t, h.Connect("t", "a", "jsonrpc", ""))
	c, ok := h.Connections().Resolve("t", "a")
	require.True(t, ok)
	assert.Equal(t, connection.RequestReply, c.Pattern)

	// a requires nothing; the reverse edge is also fine.
	require.NoError(t, h.Connect("a", "t", "", connection.FireAndForget))
	assert.ErrorIs(t, h.Connect("a", "t", "", connection.RequestReply), connection.ErrExists)

	assert.True(t, h.Disconnect("a", "t"))
	assert.False(t, h.Disconnect("a", "t"))
}

func TestStartAllStartsTargetsFirst(t *testing.T) {
	h := newTestHost(t, Options{})
	ctx := context.Background()
	for _, id := range []string{"front", "middle", "back"} {
		_, err := h.Add(ctx, id, "tracked", nil)
		require.NoError(t, err)
	}
	require.NoError(t, h.Connect("front", "middle", "", ""))
	require.NoError(t, h.Connect("middle", "back", "", ""))

	require.NoError(t, h.StartAll(ctx))
	assert.Less(t, h.log.index("back"), h.log.index("middle"))
	assert.Less(t, h.log.index("middle"), h.log.index("front"))

	for _, rep := range h.Health() {
		assert.Equal(t, component.StateRunning, rep.State, rep.ID)
		assert.Equal(t, component.StatusOK, rep.Status, rep.ID)
	}

	require.NoError(t, h.StopAll(ctx))
	for _, rep := range h.Health() {
		assert.Equal(t, component.StateStopped, rep.State, rep.ID)
	}
	assert.Zero(t, h.Connections().Len())
}

func TestStartAllRejectsCycles(t *testing.T) {
	h := newTestHost(t, Options{})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := h.Add(ctx, id, "tracked", nil)
		require.NoError(t, err)
	}
	require.NoError(t, h.Connect("a", "b", "", ""))
	require.NoError(t, h.Connect("b", "c", "", ""))
	require.NoError(t, h.Connect("c", "a", "", ""))

	assert.Error(t, h.StartAll(ctx))
	assert.Empty(t, h.log.order)
}

func TestStartAllReportsFailures(t *testing.T) {
	h := newTestHost(t, Options{})
	ctx := context.Background()
	_, err := h.Add(ctx, "bad", "tracked", map[string]any{"fail_start": true})
	require.NoError(t, err)

	require.Error(t, h.StartAll(ctx))

	rt, ok := h.Get("bad")
	require.True(t, ok)
	assert.Equal(t, component.StateFailed, rt.State())
	assert.Equal(t, component.StatusFailing, rt.Health().Status)
	assert.Contains(t, h.recorder.of("bad"), component.EventFailed)
}

func TestRemove(t *testing.T) {
	h := newTestHost(t, Options{})
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := h.Add(ctx, id, builtin.EchoType, nil)
		require.NoError(t, err)
	}
	require.NoError(t, h.Connect("a", "b", "", ""))
	require.NoError(t, h.Start(ctx, "b"))

	require.NoError(t, h.Remove(ctx, "b"))
	assert.Equal(t, []string{"a"}, h.IDs())
	assert.Zero(t, h.Connections().Len())
	assert.ErrorIs(t, h.Remove(ctx, "b"), ErrNotFound)

	// The id is free again.
	_, err := h.Add(ctx, "b", builtin.EchoType, nil)
	assert.NoError(t, err)
}

func setupCoordinator(t *testing.T, h *Host, mode string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.Add(ctx, "alpha", builtin.EchoType, map[string]any{"reply": map[string]any{"v": "alpha"}})
	require.NoError(t, err)
	_, err = h.Add(ctx, "beta", builtin.EchoType, nil)
	require.NoError(t, err)
	_, err = h.Add(ctx, "coord", coordinator.TypeName, map[string]any{
		"participants": []any{"alpha", "beta"},
		"mode":         mode,
	})
	require.NoError(t, err)
	require.NoError(t, h.Connect("coord", "alpha", "", ""))
	require.NoError(t, h.Connect("coord", "beta", "", ""))
	require.NoError(t, h.StartAll(ctx))
}

func TestExecute(t *testing.T) {
	h := newTestHost(t, Options{})
	setupCoordinator(t, h.Host, "parallel")

	res, err := h.Execute(context.Background(), "coord", coordinator.Request{Params: []byte(`"ping"`)})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 2)
	assert.JSONEq(t, `{"v":"alpha"}`, string(res.Outcomes["alpha"].Result))
	assert.JSONEq(t, `"ping"`, string(res.Outcomes["beta"].Result))

	_, err = h.Execute(context.Background(), "alpha", coordinator.Request{})
	assert.ErrorIs(t, err, ErrNotCoordinator)
	_, err = h.Execute(context.Background(), "ghost", coordinator.Request{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecuteOverNATS(t *testing.T) {
	bus, err := natsbus.New(config.NATSConfig{Port: natsserver.RANDOM_PORT, DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	client, err := natsbus.NewClient(bus)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	// A tiny threshold forces every envelope through compression.
	transport, err := natsbus.NewTransport(client, 1)
	require.NoError(t, err)
	t.Cleanup(transport.Close)

	h := newTestHost(t, Options{Transport: transport})
	setupCoordinator(t, h.Host, "sequential")

	res, err := h.Execute(context.Background(), "coord", coordinator.Request{Params: []byte(`{"q":1}`)})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, res.Path())
	assert.JSONEq(t, `{"v":"alpha"}`, string(res.Output))
}
