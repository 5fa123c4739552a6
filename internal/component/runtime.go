// Package component wraps connectors in a managed runtime: lifecycle state
// machine, health aggregation, and envelope send/receive with request
// correlation.
package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rdeforest/ClodWeave/internal/connection"
	"github.com/rdeforest/ClodWeave/internal/envelope"
	"github.com/rdeforest/ClodWeave/internal/schema"
)

const DefaultRequestTimeout = 30 * time.Second

// Options configures a Runtime. Connections and Transport are required.
type Options struct {
	Connections    *connection.Registry
	Transport      Transport
	Supervisor     Supervisor
	Events         EventPublisher
	Logger         *slog.Logger
	RequestTimeout time.Duration
	MailboxSize    int
}

// Runtime owns one connector instance.
type Runtime struct {
	id        string
	connector Connector
	desc      Descriptor
	conns     *connection.Registry
	transport Transport
	super     Supervisor
	events    EventPublisher
	logger    *slog.Logger
	timeout   time.Duration

	// lifeMu serializes lifecycle calls; mu guards the fields below and is
	// only ever held briefly.
	lifeMu    sync.Mutex
	mu        sync.RWMutex
	state     State
	config    map[string]any
	startedAt time.Time
	lastErr   error
	ownSub    *Subscription

	pendingMu sync.Mutex
	pending   map[string]chan *envelope.Envelope

	handlersMu sync.Mutex
	handlers   []*Subscription

	mailbox *mailbox
	unbind  func()
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New builds a runtime for connector c and binds it to the transport under id.
func New(id string, c Connector, opts Options) (*Runtime, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if opts.Connections == nil || opts.Transport == nil {
		return nil, errors.New("connections and transport are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		id:        id,
		connector: c,
		desc:      c.Descriptor(),
		conns:     opts.Connections,
		transport: opts.Transport,
		super:     opts.Supervisor,
		events:    opts.Events,
		logger:    logger.With("component", id),
		timeout:   timeout,
		pending:   make(map[string]chan *envelope.Envelope),
		mailbox:   &mailbox{limit: opts.MailboxSize},
		baseCtx:   ctx,
		cancel:    cancel,
	}

	unbind, err := opts.Transport.Bind(id, r.deliver)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("bind %s: %w", id, err)
	}
	r.unbind = unbind
	return r, nil
}

// ValidateID checks that id can address a component on any transport. Ids
// must be non-empty and free of whitespace and of the subject
// metacharacters '.', '*' and '>'.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidID)
	}
	for _, c := range id {
		if strings.ContainsRune(".*>", c) || unicode.IsSpace(c) || unicode.IsControl(c) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidID, id, c)
		}
	}
	return nil
}

func (r *Runtime) ID() string             { return r.id }
func (r *Runtime) Descriptor() Descriptor { return r.desc }
func (r *Runtime) Connector() Connector   { return r.connector }

func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Config returns a copy of the effective configuration.
func (r *Runtime) Config() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.config)
}

// Targets lists the components this runtime may send to.
func (r *Runtime) Targets() []string {
	return r.conns.Targets(r.id)
}

// Initialize validates config against the connector's schema and hands the
// effective config to the connector.
func (r *Runtime) Initialize(ctx context.Context, config map[string]any) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if s := r.State(); s != StateUninitialized {
		return &LifecycleError{Component: r.id, Op: "initialize", From: s}
	}

	res := schema.Validate(config, r.desc.Schema)
	if !res.Valid {
		err := &ConfigurationError{Component: r.id, Problems: res.Errors}
		r.logger.Error("invalid configuration", "errors", res.Errors)
		r.report(err)
		return err
	}

	ic := InitContext{ID: r.id, Logger: r.logger, Sender: r}
	if err := r.connector.Initialize(ctx, res.Config, ic); err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			if cfgErr.Component == "" {
				cfgErr.Component = r.id
			}
			r.logger.Error("connector rejected configuration", "error", err)
			r.report(err)
			return err
		}
		r.fail(err)
		return fmt.Errorf("initialize %s: %w", r.id, err)
	}

	r.mu.Lock()
	r.config = res.Config
	r.state = StateReady
	r.mu.Unlock()

	r.publish(EventInitialized, map[string]any{"type": r.desc.Type})
	return nil
}

// Start moves a ready runtime to running and begins dispatching inbound
// envelopes to the connector.
func (r *Runtime) Start(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	switch s := r.State(); s {
	case StateRunning:
		return nil
	case StateReady:
	default:
		return &LifecycleError{Component: r.id, Op: "start", From: s}
	}

	if err := r.connector.Start(ctx); err != nil {
		r.fail(err)
		return fmt.Errorf("start %s: %w", r.id, err)
	}

	sub := r.Receive(r.connector.Handle)

	r.mu.Lock()
	r.ownSub = sub
	r.startedAt = time.Now()
	r.state = StateRunning
	r.mu.Unlock()

	r.logger.Info("component started")
	r.publish(EventStarted, nil)
	return nil
}

// Stop moves a running runtime through stopping to stopped. Every
// connection touching this runtime is torn down.
func (r *Runtime) Stop(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	switch s := r.State(); s {
	case StateStopping, StateStopped:
		return nil
	case StateRunning:
	default:
		return &LifecycleError{Component: r.id, Op: "stop", From: s}
	}

	r.mu.Lock()
	r.state = StateStopping
	sub := r.ownSub
	r.ownSub = nil
	r.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if removed := r.conns.RemoveEndpoint(r.id); len(removed) > 0 {
		r.logger.Info("connections removed", "count", len(removed))
	}

	if err := r.connector.Stop(ctx); err != nil {
		r.fail(err)
		return fmt.Errorf("stop %s: %w", r.id, err)
	}

	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()

	r.logger.Info("component stopped")
	r.publish(EventStopped, nil)
	return nil
}

// Close unbinds the runtime from its transport and cancels in-flight
// handler contexts. It does not change lifecycle state.
func (r *Runtime) Close() {
	r.cancel()
	if r.unbind != nil {
		r.unbind()
	}
}

// Health never blocks on lifecycle calls and never fails.
func (r *Runtime) Health() Report {
	r.mu.RLock()
	state := r.state
	startedAt := r.startedAt
	lastErr := r.lastErr
	r.mu.RUnlock()

	rep := Report{ID: r.id, State: state, Details: map[string]any{}}

	switch state {
	case StateFailed:
		rep.Status = StatusFailing
		if lastErr != nil {
			rep.Details["error"] = lastErr.Error()
		}
	case StateReady, StateRunning:
		rep.Status = StatusOK
		h := r.connectorHealth()
		rep.Status = rep.Status.Worse(h.Status)
		maps.Copy(rep.Details, h.Details)
	default:
		rep.Status = StatusDegraded
	}

	if state == StateRunning && !startedAt.IsZero() {
		rep.Uptime = time.Since(startedAt)
	}
	rep.Details["pending"] = r.PendingCount()
	rep.Details["mailbox"] = r.mailbox.len()
	return rep
}

func (r *Runtime) connectorHealth() (h Health) {
	defer func() {
		if p := recover(); p != nil {
			h = Health{
				Status:  StatusFailing,
				Details: map[string]any{"health_error": fmt.Sprint(p)},
			}
		}
	}()
	h = r.connector.Health()
	if h.Status == "" {
		h.Status = StatusOK
	}
	return h
}

func (r *Runtime) fail(err error) {
	r.mu.Lock()
	r.state = StateFailed
	r.lastErr = err
	r.mu.Unlock()

	r.logger.Error("component failed", "error", err)
	r.report(err)
}

func (r *Runtime) report(err error) {
	r.publish(EventFailed, map[string]any{"error": err.Error()})
	if r.super != nil {
		r.super.ComponentFailed(r.id, err)
	}
}

func (r *Runtime) publish(eventType string, data map[string]any) {
	if r.events != nil {
		r.events.PublishComponentEvent(r.id, eventType, data)
	}
}
