package builtin

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rdeforest/ClodWeave/internal/component"
	"github.com/rdeforest/ClodWeave/internal/envelope"
	"github.com/rdeforest/ClodWeave/internal/schema"
)

const EchoType = "echo"

func EchoDescriptor() component.Descriptor {
	return component.Descriptor{
		Type:        EchoType,
		Description: "Replies with its params, or with a fixed reply when one is configured",
		Schema: schema.Schema{
			Fields: map[string]schema.Field{
				"reply": {},
				"delay": {Type: schema.TypeDuration},
				"fail":  {Type: schema.TypeString},
			},
		},
		Capabilities: component.NewSet("echo"),
		Requirements: component.NewSet(),
	}
}

// Echo is a participant for wiring checks and demos.
type Echo struct {
	reply   json.RawMessage
	delay   time.Duration
	fail    string
	handled atomic.Int64
}

func (e *Echo) Descriptor() component.Descriptor { return EchoDescriptor() }

func (e *Echo) Initialize(_ context.Context, cfg map[string]any, _ component.InitContext) error {
	if v, ok := cfg["reply"]; ok && v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return &component.ConfigurationError{Problems: []string{"reply: " + err.Error()}}
		}
		e.reply = data
	}
	if d, ok := schema.Duration(cfg["delay"]); ok {
		e.delay = d
	}
	e.fail, _ = cfg["fail"].(string)
	return nil
}

func (e *Echo) Start(context.Context) error { return nil }
func (e *Echo) Stop(context.Context) error  { return nil }

func (e *Echo) Health() component.Health {
	return component.Health{
		Status:  component.StatusOK,
		Details: map[string]any{"handled": e.handled.Load()},
	}
}

func (e *Echo) Handle(ctx context.Context, env *envelope.Envelope) (any, error) {
	e.handled.Add(1)
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.fail != "" {
		return nil, &envelope.Error{Code: envelope.CodeInternal, Message: e.fail}
	}
	if e.reply != nil {
		return e.reply, nil
	}
	if len(env.Params) == 0 {
		return nil, nil
	}
	return env.Params, nil
}
