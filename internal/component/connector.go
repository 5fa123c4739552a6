package component

import (
	"context"
	"log/slog"

	"github.com/rdeforest/ClodWeave/internal/envelope"
)

// Connector is the unit of behavior a Runtime wraps. Implementations hold
// no lifecycle bookkeeping of their own; the Runtime owns state, routing
// and correlation.
//
// Health must return promptly.
type Connector interface {
	Descriptor() Descriptor
	Initialize(ctx context.Context, config map[string]any, ic InitContext) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() Health
	Handle(ctx context.Context, env *envelope.Envelope) (any, error)
}

// InitContext is handed to a connector at initialization.
type InitContext struct {
	ID     string
	Logger *slog.Logger
	Sender Sender
}

// Sender issues envelopes on behalf of a component.
type Sender interface {
	Send(ctx context.Context, target, method string, params any, opts ...SendOption) (*envelope.Envelope, error)
	Notify(ctx context.Context, target, method string, params any) error
}

// Supervisor is told when a component cannot come up.
type Supervisor interface {
	ComponentFailed(id string, err error)
}

// EventPublisher receives lifecycle events.
type EventPublisher interface {
	PublishComponentEvent(id, eventType string, data map[string]any)
}

// Lifecycle event types.
const (
	EventInitialized = "component_initialized"
	EventStarted     = "component_started"
	EventStopped     = "component_stopped"
	EventFailed      = "component_failed"
)
