package component

import (
	"context"
	"fmt"
	"time"

	"github.com/rdeforest/ClodWeave/internal/connection"
	"github.com/rdeforest/ClodWeave/internal/envelope"
)

type sendOptions struct {
	timeout      time.Duration
	notification bool
}

// SendOption tunes a single Send call.
type SendOption func(*sendOptions)

// WithTimeout overrides the runtime's default request timeout.
func WithTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// AsNotification sends without a correlation id; no reply is awaited.
func AsNotification() SendOption {
	return func(o *sendOptions) { o.notification = true }
}

// Send delivers method/params to target over the connection this runtime
// owns and waits for the reply. A remote error reply is returned both as
// the reply envelope and as its *envelope.Error. Notifications return a
// nil envelope once handed to the transport.
func (r *Runtime) Send(ctx context.Context, target, method string, params any, opts ...SendOption) (*envelope.Envelope, error) {
	o := sendOptions{timeout: r.timeout}
	for _, opt := range opts {
		opt(&o)
	}

	if s := r.State(); !s.canSend() {
		return nil, &LifecycleError{Component: r.id, Op: "send", From: s}
	}

	conn, ok := r.conns.Resolve(r.id, target)
	if !ok {
		return nil, &ConnectionError{Target: target}
	}
	notify := o.notification || conn.Pattern == connection.FireAndForget

	var env *envelope.Envelope
	var err error
	if notify {
		env, err = envelope.NewNotification(r.id, target, method, params)
	} else {
		env, err = envelope.NewRequest(r.id, target, method, params)
	}
	if err != nil {
		return nil, err
	}
	env.Meta.TraceID = envelope.TraceIDFromContext(ctx)
	if env.Meta.TraceID == "" {
		env.Meta.TraceID = envelope.NewTraceID()
	}

	if notify {
		if err := r.transport.Send(ctx, env); err != nil {
			return nil, &ConnectionError{Target: target, Err: err}
		}
		return nil, nil
	}

	ch := make(chan *envelope.Envelope, 1)
	r.pendingMu.Lock()
	r.pending[env.ID] = ch
	r.pendingMu.Unlock()
	defer r.dropPending(env.ID)

	if err := r.transport.Send(ctx, env); err != nil {
		return nil, &ConnectionError{Target: target, Err: err}
	}

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if reply.Error != nil {
			return reply, reply.Error
		}
		return reply, nil
	case <-timer.C:
		r.logger.Warn("request timed out", "target", target, "method", method, "id", env.ID)
		return nil, &TimeoutError{Target: target, Method: method, ID: env.ID, After: o.timeout}
	case <-ctx.Done():
		return nil, fmt.Errorf("send %s to %s: %w", method, target, ctx.Err())
	}
}

// Notify sends a notification to target.
func (r *Runtime) Notify(ctx context.Context, target, method string, params any) error {
	_, err := r.Send(ctx, target, method, params, AsNotification())
	return err
}

// PendingCount is the number of requests awaiting a reply.
func (r *Runtime) PendingCount() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

func (r *Runtime) dropPending(id string) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

func (r *Runtime) resolvePending(env *envelope.Envelope) {
	r.pendingMu.Lock()
	ch, ok := r.pending[env.ID]
	if ok {
		delete(r.pending, env.ID)
	}
	r.pendingMu.Unlock()

	if !ok {
		r.logger.Warn("dropping unmatched reply", "id", env.ID, "source", env.Meta.Source)
		return
	}
	ch <- env
}
