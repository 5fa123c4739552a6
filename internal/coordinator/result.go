package coordinator

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/rdeforest/ClodWeave/internal/envelope"
)

// Request is what a coordinator executes. Mode overrides the configured
// mode kind for this run only.
type Request struct {
	Mode   string          `json:"mode,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Outcome is one participant's reply or error.
type Outcome struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *envelope.Error `json:"error,omitempty"`
}

// Turn is one participant's contribution to a debate round.
type Turn struct {
	Round       int             `json:"round"`
	Participant string          `json:"participant"`
	Reply       json.RawMessage `json:"reply,omitempty"`
	Error       *envelope.Error `json:"error,omitempty"`
}

// Stage is one completed step of a sequential or handoff chain.
type Stage struct {
	Participant string          `json:"participant"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type Result struct {
	RunID      string             `json:"run_id"`
	Mode       ModeKind           `json:"mode"`
	Outcomes   map[string]Outcome `json:"outcomes,omitempty"`
	Stages     []Stage            `json:"stages,omitempty"`
	Transcript []Turn             `json:"transcript,omitempty"`
	Rounds     int                `json:"rounds,omitempty"`
	Converged  bool               `json:"converged,omitempty"`
	Output     json.RawMessage    `json:"output,omitempty"`
}

// Path returns the participants visited by a chain, in order.
func (r *Result) Path() []string {
	out := make([]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		out = append(out, s.Participant)
	}
	return out
}

// sameJSON compares two payloads structurally.
func sameJSON(a, b json.RawMessage) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return bytes.Equal(a, b)
	}
	return reflect.DeepEqual(va, vb)
}
