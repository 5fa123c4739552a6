package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/rdeforest/ClodWeave/internal/envelope"
)

func runParallel(ctx context.Context, x *execution) (*Result, error) {
	outcomes := x.fanOut(ctx, x.participants, x.params)
	out, err := json.Marshal(outcomes)
	if err != nil {
		return nil, fmt.Errorf("encode outcomes: %w", err)
	}
	return &Result{Outcomes: outcomes, Output: out}, nil
}

// fanOut calls every participant concurrently and waits for all of them.
// Each call is bounded by its own timeout.
func (x *execution) fanOut(ctx context.Context, participants []string, params any) map[string]Outcome {
	outcomes := make(map[string]Outcome, len(participants))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range participants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := x.call(ctx, p, params)
			o := Outcome{Result: reply}
			if err != nil {
				o = Outcome{Error: envelope.AsError(err)}
			}
			mu.Lock()
			outcomes[p] = o
			mu.Unlock()
		}()
	}
	wg.Wait()
	return outcomes
}

func runSequential(ctx context.Context, x *execution) (*Result, error) {
	res := &Result{}
	var params any = x.params

	for i, p := range x.participants {
		reply, err := x.call(ctx, p, params)
		if err != nil {
			return res, &StageError{Stage: i, Participant: p, Err: err}
		}
		res.Stages = append(res.Stages, Stage{Participant: p, Result: reply})
		res.Output = reply
		params = reply
	}
	return res, nil
}

type debateParams struct {
	Message    json.RawMessage `json:"message,omitempty"`
	Round      int             `json:"round"`
	Transcript []Turn          `json:"transcript"`
}

func runDebate(ctx context.Context, x *execution) (*Result, error) {
	res := &Result{Transcript: []Turn{}}
	converge := predicates[x.mode.Converge]

	var prev []Turn
	for round := 1; round <= x.mode.Rounds; round++ {
		params := debateParams{Message: x.params, Round: round, Transcript: res.Transcript}
		turns := make([]Turn, len(x.participants))

		var wg sync.WaitGroup
		for i, p := range x.participants {
			wg.Add(1)
			go func() {
				defer wg.Done()
				reply, err := x.call(ctx, p, params)
				turns[i] = Turn{Round: round, Participant: p, Reply: reply, Error: envelope.AsError(err)}
			}()
		}
		wg.Wait()

		res.Transcript = append(res.Transcript, turns...)
		res.Rounds = round

		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("debate round %d: %w", round, err)
		}
		if converge != nil && round >= 2 && converge(prev, turns) {
			res.Converged = true
			break
		}
		prev = turns
	}

	out, err := json.Marshal(res.Transcript)
	if err != nil {
		return res, fmt.Errorf("encode transcript: %w", err)
	}
	res.Output = out
	return res, nil
}

type synthesisParams struct {
	Message  json.RawMessage    `json:"message,omitempty"`
	Outcomes map[string]Outcome `json:"outcomes"`
}

func runSynthesis(ctx context.Context, x *execution) (*Result, error) {
	contributors := make([]string, 0, len(x.participants)-1)
	for _, p := range x.participants {
		if p != x.mode.Synthesizer {
			contributors = append(contributors, p)
		}
	}

	outcomes := x.fanOut(ctx, contributors, x.params)
	res := &Result{Outcomes: outcomes}

	reply, err := x.call(ctx, x.mode.Synthesizer, synthesisParams{Message: x.params, Outcomes: outcomes})
	if err != nil {
		return res, &StageError{Stage: 1, Participant: x.mode.Synthesizer, Err: err}
	}
	res.Stages = []Stage{{Participant: x.mode.Synthesizer, Result: reply}}
	res.Output = reply
	return res, nil
}

func runHandoff(ctx context.Context, x *execution) (*Result, error) {
	res := &Result{}
	current := x.mode.Initial
	if current == "" {
		current = x.participants[0]
	}
	route := x.mode.RouteField
	if route == "" {
		route = DefaultRouteField
	}

	var params any = x.params
	hops := 0
	for {
		reply, err := x.call(ctx, current, params)
		if err != nil {
			return res, &StageError{Stage: len(res.Stages), Participant: current, Err: err}
		}
		res.Stages = append(res.Stages, Stage{Participant: current, Result: reply})

		var fields map[string]json.RawMessage
		if json.Unmarshal(reply, &fields) != nil {
			// Not an object: nothing to route on.
			res.Output = reply
			return res, nil
		}

		var next string
		var done bool
		if err := decodeField(fields, route, &next); err != nil {
			return res, &StageError{Stage: len(res.Stages) - 1, Participant: current, Err: err}
		}
		if err := decodeField(fields, "done", &done); err != nil {
			return res, &StageError{Stage: len(res.Stages) - 1, Participant: current, Err: err}
		}

		if done || next == "" {
			res.Output = reply
			if out, ok := fields["output"]; ok {
				res.Output = out
			}
			return res, nil
		}

		if !slices.Contains(x.participants, next) {
			return res, &StageError{
				Stage:       len(res.Stages) - 1,
				Participant: current,
				Err:         fmt.Errorf("%w: %s", ErrUnknownParticipant, next),
			}
		}

		hops++
		if hops > x.mode.MaxHops {
			return res, &HandoffLimitError{Limit: x.mode.MaxHops, Path: append(res.Path(), next)}
		}

		if msg, ok := fields["message"]; ok {
			params = msg
		} else {
			params = reply
		}
		current = next
	}
}

// decodeField decodes fields[name] into dst. An absent or null field leaves
// dst untouched; a field of the wrong type is an error.
func decodeField(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid %s field %s: %w", name, raw, err)
	}
	return nil
}
