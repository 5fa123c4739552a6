package component

import (
	"context"
	"fmt"
	"sync"

	"github.com/rdeforest/ClodWeave/internal/envelope"
)

// Transport moves envelopes between bound endpoints.
type Transport interface {
	Bind(id string, deliver envelope.DeliverFunc) (unbind func(), err error)
	Send(ctx context.Context, env *envelope.Envelope) error
}

type binding struct {
	deliver envelope.DeliverFunc
}

// LocalTransport delivers envelopes in-process.
type LocalTransport struct {
	mu        sync.RWMutex
	endpoints map[string]*binding
}

func NewLocalTransport() *LocalTransport {
	return &LocalTransport{endpoints: make(map[string]*binding)}
}

func (t *LocalTransport) Bind(id string, deliver envelope.DeliverFunc) (func(), error) {
	b := &binding{deliver: deliver}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.endpoints[id]; ok {
		return nil, fmt.Errorf("endpoint %s already bound", id)
	}
	t.endpoints[id] = b

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.endpoints[id] == b {
			delete(t.endpoints, id)
		}
	}, nil
}

func (t *LocalTransport) Send(ctx context.Context, env *envelope.Envelope) error {
	t.mu.RLock()
	b, ok := t.endpoints[env.Meta.Target]
	t.mu.RUnlock()
	if !ok {
		return &envelope.Error{
			Code:    envelope.CodeNoRoute,
			Message: fmt.Sprintf("no endpoint bound for %s", env.Meta.Target),
		}
	}
	return b.deliver(ctx, env)
}
