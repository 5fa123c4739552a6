package builtin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdeforest/ClodWeave/internal/component"
	"github.com/rdeforest/ClodWeave/internal/envelope"
)

func newEcho(t *testing.T, cfg map[string]any) *Echo {
	t.Helper()
	e := &Echo{}
	require.NoError(t, e.Initialize(context.Background(), cfg, component.InitContext{ID: "echo"}))
	return e
}

func TestEchoDelayAcceptsBothForms(t *testing.T) {
	for _, tc := range []struct {
		name  string
		delay any
	}{
		{"string", "40ms"},
		{"duration", 40 * time.Millisecond},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEcho(t, map[string]any{"delay": tc.delay})
			assert.Equal(t, 40*time.Millisecond, e.delay)

			start := time.Now()
			_, err := e.Handle(context.Background(), &envelope.Envelope{Method: "ping"})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
		})
	}
}

func TestEchoDelayRespectsCancellation(t *testing.T) {
	e := newEcho(t, map[string]any{"delay": time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Handle(ctx, &envelope.Envelope{Method: "ping"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEchoReplies(t *testing.T) {
	params := json.RawMessage(`{"q":"hi"}`)

	got, err := newEcho(t, nil).Handle(context.Background(), &envelope.Envelope{Params: params})
	require.NoError(t, err)
	assert.Equal(t, params, got)

	got, err = newEcho(t, map[string]any{"reply": "fixed"}).Handle(context.Background(), &envelope.Envelope{Params: params})
	require.NoError(t, err)
	assert.JSONEq(t, `"fixed"`, string(got.(json.RawMessage)))

	_, err = newEcho(t, map[string]any{"fail": "model overloaded"}).Handle(context.Background(), &envelope.Envelope{})
	var envErr *envelope.Error
	require.ErrorAs(t, err, &envErr)
	assert.Equal(t, "model overloaded", envErr.Message)
}
