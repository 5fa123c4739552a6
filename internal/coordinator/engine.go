// Package coordinator orchestrates several participant components under
// one of five execution modes. An Engine is itself a component connector:
// it is hosted by a runtime and reaches participants through the runtime's
// connections.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rdeforest/ClodWeave/internal/component"
	"github.com/rdeforest/ClodWeave/internal/envelope"
	"github.com/rdeforest/ClodWeave/internal/schema"
	"github.com/rdeforest/ClodWeave/internal/store"
)

const (
	TypeName          = "coordinator"
	MethodExecute     = "execute"
	DefaultMethod     = "process"
	DefaultRouteField = "next"
)

// Event types published per run.
const (
	EventStarted              = "coordinator_started"
	EventParticipantCompleted = "participant_completed"
	EventCompleted            = "coordinator_completed"
	EventFailed               = "coordinator_failed"
)

// Defaults fill in mode parameters a coordinator's config leaves out.
type Defaults struct {
	Timeout      time.Duration
	DebateRounds int
	HandoffHops  int
}

// RunStore records coordinator runs.
type RunStore interface {
	SaveCoordinatorRun(run *store.CoordinatorRun) error
	FinishCoordinatorRun(id, status string, result json.RawMessage, errMsg string) error
}

// EventPublisher receives run events.
type EventPublisher interface {
	PublishCoordinatorEvent(runID, eventType string, data map[string]any)
}

type Engine struct {
	defaults Defaults
	runs     RunStore
	events   EventPublisher

	id           string
	sender       component.Sender
	logger       *slog.Logger
	participants []string
	mode         Mode
	method       string
	timeout      time.Duration

	mu       sync.Mutex
	active   int
	total    int
	failures int
	lastErr  string
}

// New returns an uninitialized engine. runs and events may be nil.
func New(defaults Defaults, runs RunStore, events EventPublisher) *Engine {
	if defaults.Timeout <= 0 {
		defaults.Timeout = component.DefaultRequestTimeout
	}
	if defaults.DebateRounds <= 0 {
		defaults.DebateRounds = 3
	}
	if defaults.HandoffHops <= 0 {
		defaults.HandoffHops = 10
	}
	return &Engine{defaults: defaults, runs: runs, events: events}
}

// Descriptor is the static declaration shared by every coordinator.
func Descriptor() component.Descriptor {
	return component.Descriptor{
		Type:        TypeName,
		Description: "Coordinates several participants under a parallel, sequential, debate, synthesis or handoff mode",
		Schema: schema.Schema{
			Required: []string{"participants"},
			Fields: map[string]schema.Field{
				"participants": {Type: schema.TypeArray},
				"mode":         {Type: schema.TypeString, Enum: []any{"parallel", "sequential", "debate", "synthesis", "handoff"}, Default: string(Parallel)},
				"method":       {Type: schema.TypeString, Default: DefaultMethod},
				"rounds":       {Type: schema.TypeInteger, Minimum: schema.Float(1)},
				"converge":     {Type: schema.TypeString, Enum: []any{"unanimous", "stable"}},
				"synthesizer":  {Type: schema.TypeString},
				"initial":      {Type: schema.TypeString},
				"max_hops":     {Type: schema.TypeInteger, Minimum: schema.Float(1)},
				"route_field":  {Type: schema.TypeString, Default: DefaultRouteField},
				"timeout":      {Type: schema.TypeDuration},
			},
		},
		Capabilities: component.NewSet("coordinate"),
		Requirements: component.NewSet(),
	}
}

func (e *Engine) Descriptor() component.Descriptor { return Descriptor() }

func (e *Engine) Initialize(_ context.Context, cfg map[string]any, ic component.InitContext) error {
	e.id = ic.ID
	e.sender = ic.Sender
	e.logger = ic.Logger
	if e.logger == nil {
		e.logger = slog.Default()
	}

	var problems []string
	participants, err := stringList(cfg["participants"])
	if err != nil {
		problems = append(problems, "participants: "+err.Error())
	}
	for i, p := range participants {
		if slices.Contains(participants[:i], p) {
			problems = append(problems, fmt.Sprintf("participant %s listed twice", p))
		}
	}

	kind, err := ParseMode(stringOr(cfg["mode"], string(Parallel)))
	if err != nil {
		problems = append(problems, err.Error())
	}

	mode := Mode{
		Kind:        kind,
		Rounds:      intOr(cfg["rounds"], e.defaults.DebateRounds),
		Converge:    stringOr(cfg["converge"], ""),
		Synthesizer: stringOr(cfg["synthesizer"], ""),
		Initial:     stringOr(cfg["initial"], ""),
		MaxHops:     intOr(cfg["max_hops"], e.defaults.HandoffHops),
		RouteField:  stringOr(cfg["route_field"], DefaultRouteField),
	}
	if kind != "" {
		problems = append(problems, mode.problems(participants)...)
	}

	timeout := e.defaults.Timeout
	if d, ok := schema.Duration(cfg["timeout"]); ok && d > 0 {
		timeout = d
	}

	if len(problems) > 0 {
		return &component.ConfigurationError{Component: ic.ID, Problems: problems}
	}

	e.participants = participants
	e.mode = mode
	e.method = stringOr(cfg["method"], DefaultMethod)
	e.timeout = timeout
	return nil
}

func (e *Engine) Start(context.Context) error {
	e.logger.Info("coordinator ready", "mode", e.mode.Kind, "participants", e.participants)
	return nil
}

func (e *Engine) Stop(context.Context) error { return nil }

func (e *Engine) Health() component.Health {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := component.Health{
		Status: component.StatusOK,
		Details: map[string]any{
			"mode":         e.mode.Kind,
			"participants": len(e.participants),
			"active_runs":  e.active,
			"runs":         e.total,
			"failures":     e.failures,
		},
	}
	if e.lastErr != "" {
		h.Details["last_error"] = e.lastErr
	}
	return h
}

// Handle serves the execute method. A failed run carries its partial
// result in the error data.
func (e *Engine) Handle(ctx context.Context, env *envelope.Envelope) (any, error) {
	if env.Method != MethodExecute {
		return nil, envelope.MethodNotFound(env.Method)
	}

	var req Request
	if err := env.DecodeParams(&req); err != nil {
		return nil, err
	}

	res, err := e.Execute(ctx, req)
	if err != nil {
		envErr := envelope.AsError(err)
		if res != nil {
			if data, mErr := json.Marshal(res); mErr == nil {
				envErr = &envelope.Error{Code: envErr.Code, Message: envErr.Message, Data: data}
			}
		}
		return nil, envErr
	}
	return res, nil
}

// Participants returns the configured participant ids in declared order.
func (e *Engine) Participants() []string { return slices.Clone(e.participants) }

// Mode returns the configured mode.
func (e *Engine) Mode() Mode { return e.mode }

type execution struct {
	e            *Engine
	runID        string
	mode         Mode
	participants []string
	method       string
	params       json.RawMessage
}

// Execute runs one coordination. Partial results accompany errors from
// sequential, synthesis and handoff chains.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	if e.sender == nil {
		return nil, errors.New("coordinator is not initialized")
	}

	mode := e.mode
	if req.Mode != "" {
		kind, err := ParseMode(req.Mode)
		if err != nil {
			return nil, err
		}
		mode.Kind = kind
		if problems := mode.problems(e.participants); len(problems) > 0 {
			return nil, &component.ConfigurationError{Component: e.id, Problems: problems}
		}
	}
	run, ok := strategies[mode.Kind]
	if !ok {
		return nil, &UnknownModeError{Name: string(mode.Kind)}
	}

	x := &execution{
		e:            e,
		runID:        uuid.New().String(),
		mode:         mode,
		participants: e.participants,
		method:       req.Method,
		params:       req.Params,
	}
	if x.method == "" {
		x.method = e.method
	}
	if envelope.TraceIDFromContext(ctx) == "" {
		ctx = envelope.WithTraceID(ctx, x.runID)
	}

	e.begin(x)
	res, err := run(ctx, x)
	if res != nil {
		res.RunID = x.runID
		res.Mode = mode.Kind
	}
	e.finish(x, res, err)
	return res, err
}

func (x *execution) call(ctx context.Context, participant string, params any) (json.RawMessage, error) {
	start := time.Now()
	reply, err := x.e.sender.Send(ctx, participant, x.method, params, component.WithTimeout(x.e.timeout))

	data := map[string]any{
		"participant": participant,
		"duration_ms": time.Since(start).Milliseconds(),
		"ok":          err == nil,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	x.e.publish(x.runID, EventParticipantCompleted, data)

	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, nil
	}
	return reply.Result, nil
}

func (e *Engine) begin(x *execution) {
	e.mu.Lock()
	e.active++
	e.total++
	e.mu.Unlock()

	e.logger.Info("coordinator run started", "run", x.runID, "mode", x.mode.Kind, "participants", len(x.participants))

	if e.runs != nil {
		err := e.runs.SaveCoordinatorRun(&store.CoordinatorRun{
			ID:          x.runID,
			Coordinator: e.id,
			Mode:        string(x.mode.Kind),
			Method:      x.method,
			Params:      x.params,
			Status:      store.RunRunning,
		})
		if err != nil {
			e.logger.Warn("save coordinator run", "run", x.runID, "error", err)
		}
	}

	e.publish(x.runID, EventStarted, map[string]any{
		"coordinator":  e.id,
		"mode":         x.mode.Kind,
		"participants": x.participants,
	})
}

func (e *Engine) finish(x *execution, res *Result, runErr error) {
	status := store.RunCompleted
	errMsg := ""
	if runErr != nil {
		status = store.RunFailed
		errMsg = runErr.Error()
	}

	e.mu.Lock()
	e.active--
	if runErr != nil {
		e.failures++
		e.lastErr = errMsg
	}
	e.mu.Unlock()

	var resultJSON json.RawMessage
	if res != nil {
		if data, err := json.Marshal(res); err == nil {
			resultJSON = data
		}
	}

	if e.runs != nil {
		if err := e.runs.FinishCoordinatorRun(x.runID, status, resultJSON, errMsg); err != nil {
			e.logger.Warn("update coordinator run", "run", x.runID, "error", err)
		}
	}

	if runErr != nil {
		e.logger.Warn("coordinator run failed", "run", x.runID, "error", runErr)
		e.publish(x.runID, EventFailed, map[string]any{"coordinator": e.id, "error": errMsg})
		return
	}
	e.logger.Info("coordinator run completed", "run", x.runID)
	e.publish(x.runID, EventCompleted, map[string]any{"coordinator": e.id})
}

func (e *Engine) publish(runID, eventType string, data map[string]any) {
	if e.events != nil {
		e.events.PublishCoordinatorEvent(runID, eventType, data)
	}
}
