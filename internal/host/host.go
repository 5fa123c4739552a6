// Package host assembles components from registered types, wires their
// connections and drives their lifecycles as a group.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rdeforest/ClodWeave/internal/component"
	"github.com/rdeforest/ClodWeave/internal/connection"
	"github.com/rdeforest/ClodWeave/internal/coordinator"
	"github.com/rdeforest/ClodWeave/internal/registry"
	"github.com/rdeforest/ClodWeave/internal/vault"
)

var (
	ErrNotFound       = errors.New("component not found")
	ErrExists         = errors.New("component already exists")
	ErrNotCoordinator = errors.New("component is not a coordinator")
)

// EventRecorder persists component events.
type EventRecorder interface {
	RecordComponentEvent(component, eventType string, data map[string]any) error
}

// Options configures a Host. Types is required; Transport defaults to an
// in-process transport.
type Options struct {
	Types          *registry.Registry
	Transport      component.Transport
	Secrets        *vault.Secrets
	Events         component.EventPublisher
	Recorder       EventRecorder
	Logger         *slog.Logger
	RequestTimeout time.Duration
	MailboxSize    int
}

type Host struct {
	opts   Options
	conns  *connection.Registry
	logger *slog.Logger

	mu       sync.RWMutex
	runtimes map[string]*component.Runtime
}

func New(opts Options) (*Host, error) {
	if opts.Types == nil {
		return nil, errors.New("type registry is required")
	}
	if opts.Transport == nil {
		opts.Transport = component.NewLocalTransport()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		opts:     opts,
		conns:    connection.NewRegistry(),
		logger:   logger,
		runtimes: make(map[string]*component.Runtime),
	}, nil
}

func (h *Host) Types() *registry.Registry         { return h.opts.Types }
func (h *Host) Connections() *connection.Registry { return h.conns }

// Add builds a component of type typ under id and initializes it. Config
// values of the form secret:<name> are resolved first. A component that
// fails to initialize is not kept.
func (h *Host) Add(ctx context.Context, id, typ string, cfg map[string]any) (*component.Runtime, error) {
	if err := component.ValidateID(id); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if _, ok := h.runtimes[id]; ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	// Reserve the id while the component initializes.
	h.runtimes[id] = nil
	h.mu.Unlock()

	rt, err := h.build(ctx, id, typ, cfg)

	h.mu.Lock()
	if err != nil {
		delete(h.runtimes, id)
	} else {
		h.runtimes[id] = rt
	}
	h.mu.Unlock()
	return rt, err
}

func (h *Host) build(ctx context.Context, id, typ string, cfg map[string]any) (*component.Runtime, error) {
	c, err := h.opts.Types.Build(typ)
	if err != nil {
		return nil, err
	}

	if vault.HasRefs(cfg) {
		if h.opts.Secrets == nil {
			return nil, fmt.Errorf("component %s references secrets but no vault is configured", id)
		}
		if cfg, err = h.opts.Secrets.Resolve(cfg); err != nil {
			return nil, fmt.Errorf("resolve secrets for %s: %w", id, err)
		}
	}

	rt, err := component.New(id, c, component.Options{
		Connections:    h.conns,
		Transport:      h.opts.Transport,
		Supervisor:     h,
		Events:         h,
		Logger:         h.logger,
		RequestTimeout: h.opts.RequestTimeout,
		MailboxSize:    h.opts.MailboxSize,
	})
	if err != nil {
		return nil, err
	}
	if err := rt.Initialize(ctx, cfg); err != nil {
		rt.Close()
		return nil, err
	}

	h.logger.Info("component added", "id", id, "type", typ)
	return rt, nil
}

func (h *Host) Get(id string) (*component.Runtime, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rt, ok := h.runtimes[id]
	return rt, ok && rt != nil
}

// IDs returns the hosted component ids, sorted.
func (h *Host) IDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.runtimes))
	for id, rt := range h.runtimes {
		if rt != nil {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (h *Host) mustGet(id string) (*component.Runtime, error) {
	rt, ok := h.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rt, nil
}

// Connect adds an edge from source to target. Both must be hosted. A
// target whose capabilities do not cover the source's requirements is
// connected anyway, with a warning.
func (h *Host) Connect(source, target, protocol string, pattern connection.Pattern) error {
	src, err := h.mustGet(source)
	if err != nil {
		return err
	}
	dst, err := h.mustGet(target)
	if err != nil {
		return err
	}

	if err := h.conns.Add(connection.Connection{
		Source:   source,
		Target:   target,
		Protocol: protocol,
		Pattern:  pattern,
	}); err != nil {
		return err
	}

	if ok, missing := registry.Compatible(dst.Descriptor(), src.Descriptor()); !ok {
		h.logger.Warn("connected components are not compatible",
			"source", source, "target", target, "missing", missing)
	}
	return nil
}

func (h *Host) Disconnect(source, target string) bool {
	return h.conns.Remove(source, target)
}

// Start starts a single component.
func (h *Host) Start(ctx context.Context, id string) error {
	rt, err := h.mustGet(id)
	if err != nil {
		return err
	}
	return rt.Start(ctx)
}

// Stop stops a single component.
func (h *Host) Stop(ctx context.Context, id string) error {
	rt, err := h.mustGet(id)
	if err != nil {
		return err
	}
	return rt.Stop(ctx)
}

// Remove stops id if it is running, drops its connections and unbinds it.
func (h *Host) Remove(ctx context.Context, id string) error {
	rt, err := h.mustGet(id)
	if err != nil {
		return err
	}

	var stopErr error
	if rt.State() == component.StateRunning {
		stopErr = rt.Stop(ctx)
	}
	h.conns.RemoveEndpoint(id)
	rt.Close()

	h.mu.Lock()
	delete(h.runtimes, id)
	h.mu.Unlock()

	h.logger.Info("component removed", "id", id)
	return stopErr
}

// StartAll starts every ready component, targets before their sources.
// Components in one tier start concurrently; a failing tier stops the
// rollout.
func (h *Host) StartAll(ctx context.Context) error {
	plan, err := BuildPlan(h.IDs(), h.conns.List())
	if err != nil {
		return fmt.Errorf("plan startup: %w", err)
	}

	for i, tier := range plan.Tiers {
		err := h.eachConcurrently(tier, func(rt *component.Runtime) error {
			if rt.State() != component.StateReady {
				return nil
			}
			return rt.Start(ctx)
		})
		if err != nil {
			return fmt.Errorf("start tier %d: %w", i, err)
		}
	}
	return nil
}

// StopAll stops every running component, sources before their targets.
func (h *Host) StopAll(ctx context.Context) error {
	ids := h.IDs()
	var tiers [][]string
	if plan, err := BuildPlan(ids, h.conns.List()); err == nil {
		tiers = plan.Tiers
	} else {
		tiers = [][]string{ids}
	}

	var errs []error
	for _, tier := range slices.Backward(tiers) {
		errs = append(errs, h.eachConcurrently(tier, func(rt *component.Runtime) error {
			if rt.State() != component.StateRunning {
				return nil
			}
			return rt.Stop(ctx)
		}))
	}
	return errors.Join(errs...)
}

func (h *Host) eachConcurrently(ids []string, fn func(*component.Runtime) error) error {
	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup

	for _, id := range ids {
		rt, ok := h.Get(id)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(rt); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close unbinds every component without stopping it.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, rt := range h.runtimes {
		if rt != nil {
			rt.Close()
		}
		delete(h.runtimes, id)
	}
}

// Health reports every component, sorted by id.
func (h *Host) Health() []component.Report {
	ids := h.IDs()
	out := make([]component.Report, 0, len(ids))
	for _, id := range ids {
		if rt, ok := h.Get(id); ok {
			out = append(out, rt.Health())
		}
	}
	return out
}

// Execute runs the hosted coordinator id.
func (h *Host) Execute(ctx context.Context, id string, req coordinator.Request) (*coordinator.Result, error) {
	rt, err := h.mustGet(id)
	if err != nil {
		return nil, err
	}
	engine, ok := rt.Connector().(*coordinator.Engine)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCoordinator, id)
	}
	return engine.Execute(ctx, req)
}

// ComponentFailed records a failure reported by a runtime.
func (h *Host) ComponentFailed(id string, err error) {
	h.logger.Error("component failure reported", "id", id, "error", err)
	h.record(id, component.EventFailed, map[string]any{"error": err.Error()})
}

// PublishComponentEvent forwards lifecycle events and records them.
// Failures are recorded by ComponentFailed.
func (h *Host) PublishComponentEvent(id, eventType string, data map[string]any) {
	if h.opts.Events != nil {
		h.opts.Events.PublishComponentEvent(id, eventType, data)
	}
	if eventType != component.EventFailed {
		h.record(id, eventType, data)
	}
}

func (h *Host) record(id, eventType string, data map[string]any) {
	if h.opts.Recorder == nil {
		return
	}
	if err := h.opts.Recorder.RecordComponentEvent(id, eventType, data); err != nil {
		h.logger.Warn("record component event", "id", id, "event", eventType, "error", err)
	}
}
