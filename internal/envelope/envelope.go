// Package envelope defines the message unit exchanged between component
// runtimes and the request/reply correlation rules.
package envelope

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the only version accepted on the wire.
const ProtocolVersion = "2.0"

// Envelope is the wire message. A missing ID marks a notification; a
// populated Result or Error marks a reply.
type Envelope struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Method          string          `json:"method"`
	Params          json.RawMessage `json:"params,omitempty"`
	ID              string          `json:"id,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *Error          `json:"error,omitempty"`
	Meta            Meta            `json:"meta"`
}

// Meta carries routing and tracing information.
type Meta struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"traceId,omitempty"`
}

// DeliverFunc hands an inbound envelope to its destination.
type DeliverFunc func(ctx context.Context, env *Envelope) error

// NewRequest builds a request with a fresh correlation id.
func NewRequest(source, target, method string, params any) (*Envelope, error) {
	env, err := newEnvelope(source, target, method, params)
	if err != nil {
		return nil, err
	}
	env.ID = uuid.New().String()
	return env, nil
}

// NewNotification builds an envelope that expects no reply.
func NewNotification(source, target, method string, params any) (*Envelope, error) {
	return newEnvelope(source, target, method, params)
}

func newEnvelope(source, target, method string, params any) (*Envelope, error) {
	raw, err := marshalPayload(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return &Envelope{
		ProtocolVersion: ProtocolVersion,
		Method:          method,
		Params:          raw,
		Meta: Meta{
			Source:    source,
			Target:    target,
			Timestamp: time.Now().UTC(),
		},
	}, nil
}

// NewResult builds the success reply to req.
func NewResult(req *Envelope, v any) (*Envelope, error) {
	raw, err := marshalPayload(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if raw == nil {
		raw = json.RawMessage("null")
	}
	reply := replyTo(req)
	reply.Result = raw
	return reply, nil
}

// NewError builds the error reply to req.
func NewError(req *Envelope, e *Error) *Envelope {
	reply := replyTo(req)
	reply.Error = e
	return reply
}

func replyTo(req *Envelope) *Envelope {
	return &Envelope{
		ProtocolVersion: ProtocolVersion,
		Method:          req.Method,
		ID:              req.ID,
		Meta: Meta{
			Source:    req.Meta.Target,
			Target:    req.Meta.Source,
			Timestamp: time.Now().UTC(),
			TraceID:   req.Meta.TraceID,
		},
	}
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	return json.Marshal(v)
}

// IsNotification reports whether no reply is expected.
func (e *Envelope) IsNotification() bool { return e.ID == "" }

// IsReply reports whether e answers an earlier request.
func (e *Envelope) IsReply() bool { return e.Result != nil || e.Error != nil }

// IsRequest reports whether e expects a reply.
func (e *Envelope) IsRequest() bool { return !e.IsReply() && !e.IsNotification() }

// DecodeParams unmarshals the params payload into v.
func (e *Envelope) DecodeParams(v any) error {
	if len(e.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Params, v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// DecodeResult unmarshals the result payload into v. An error reply is
// returned as its *Error.
func (e *Envelope) DecodeResult(v any) error {
	if e.Error != nil {
		return e.Error
	}
	if len(e.Result) == 0 {
		return nil
	}
	return json.Unmarshal(e.Result, v)
}

// Encode serializes e to its wire form.
func Encode(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses and validates a wire envelope.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &Error{Code: CodeParseError, Message: fmt.Sprintf("parse envelope: %v", err)}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks the structural rules of the protocol.
func (e *Envelope) Validate() error {
	var problem string
	switch {
	case e.ProtocolVersion != ProtocolVersion:
		problem = fmt.Sprintf("unsupported protocol version %q", e.ProtocolVersion)
	case e.Meta.Source == "" || e.Meta.Target == "":
		problem = "meta.source and meta.target are required"
	case e.Result != nil && e.Error != nil:
		problem = "reply carries both result and error"
	case e.IsReply() && e.ID == "":
		problem = "reply without id"
	case !e.IsReply() && e.Method == "":
		problem = "method is required"
	}
	if problem == "" {
		return nil
	}
	return &Error{Code: CodeInvalidRequest, Message: problem}
}

type traceKey struct{}

// WithTraceID attaches a trace id that outbound envelopes inherit.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceIDFromContext returns the trace id carried by ctx, if any.
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// NewTraceID returns a fresh trace id.
func NewTraceID() string { return uuid.New().String() }
