package component

import (
	"context"
	"sync"

	"github.com/rdeforest/ClodWeave/internal/envelope"
)

// Handler processes one inbound envelope. Its result becomes the reply.
type Handler func(ctx context.Context, env *envelope.Envelope) (any, error)

// Subscription is the handle returned by Receive.
type Subscription struct {
	r       *Runtime
	handler Handler
	once    sync.Once
}

// Cancel deregisters the handler. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.r.handlersMu.Lock()
		defer s.r.handlersMu.Unlock()
		for i, h := range s.r.handlers {
			if h == s {
				s.r.handlers = append(s.r.handlers[:i], s.r.handlers[i+1:]...)
				return
			}
		}
	})
}

// Receive registers h for inbound envelopes. The most recently registered
// active handler receives each envelope.
func (r *Runtime) Receive(h Handler) *Subscription {
	sub := &Subscription{r: r, handler: h}
	r.handlersMu.Lock()
	r.handlers = append(r.handlers, sub)
	r.handlersMu.Unlock()
	return sub
}

func (r *Runtime) activeHandler() Handler {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	if len(r.handlers) == 0 {
		return nil
	}
	return r.handlers[len(r.handlers)-1].handler
}

// deliver is the transport entry point. Replies complete pending requests
// directly; everything else goes through the mailbox.
func (r *Runtime) deliver(_ context.Context, env *envelope.Envelope) error {
	if env.IsReply() {
		r.resolvePending(env)
		return nil
	}

	start, err := r.mailbox.push(env)
	if err != nil {
		r.logger.Warn("inbound envelope rejected", "method", env.Method, "source", env.Meta.Source, "error", err)
		return err
	}
	if start {
		go r.drain(env.Meta.Source)
	}
	return nil
}

// drain hands source's envelopes to the handler one at a time, in the
// order they were sent.
func (r *Runtime) drain(source string) {
	for {
		env, ok := r.mailbox.next(source)
		if !ok {
			return
		}
		r.dispatch(env)
	}
}

func (r *Runtime) dispatch(env *envelope.Envelope) {
	h := r.activeHandler()
	if h == nil {
		r.logger.Warn("unrouted envelope", "method", env.Method, "source", env.Meta.Source, "id", env.ID)
		return
	}

	ctx := r.baseCtx
	if env.Meta.TraceID != "" {
		ctx = envelope.WithTraceID(ctx, env.Meta.TraceID)
	}
	r.invoke(ctx, h, env)
}

func (r *Runtime) invoke(ctx context.Context, h Handler, env *envelope.Envelope) {
	result, err := r.call(ctx, h, env)

	if env.IsNotification() {
		if err != nil {
			r.logger.Warn("notification handler failed", "method", env.Method, "source", env.Meta.Source, "error", err)
		}
		return
	}

	var reply *envelope.Envelope
	if err != nil {
		r.logger.Debug("handler failed", "method", env.Method, "source", env.Meta.Source, "error", err)
		reply = envelope.NewError(env, envelope.AsError(err))
	} else {
		reply, err = envelope.NewResult(env, result)
		if err != nil {
			reply = envelope.NewError(env, envelope.AsError(err))
		}
	}

	// Replies go straight back to the requester; they need no connection
	// of their own.
	if err := r.transport.Send(ctx, reply); err != nil {
		r.logger.Warn("reply not delivered", "method", env.Method, "target", env.Meta.Source, "error", err)
	}
}

func (r *Runtime) call(ctx context.Context, h Handler, env *envelope.Envelope) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panic", "method", env.Method, "panic", p)
			err = &HandlerError{Method: env.Method, Value: p}
		}
	}()
	return h(ctx, env)
}
