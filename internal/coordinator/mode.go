package coordinator

import (
	"context"
	"fmt"
	"slices"
)

// ModeKind tags a coordination strategy.
type ModeKind string

const (
	Parallel   ModeKind = "parallel"
	Sequential ModeKind = "sequential"
	Debate     ModeKind = "debate"
	Synthesis  ModeKind = "synthesis"
	Handoff    ModeKind = "handoff"
)

// Mode is a strategy tag plus the parameters the strategy reads.
type Mode struct {
	Kind        ModeKind `json:"kind"`
	Rounds      int      `json:"rounds,omitempty"`
	Converge    string   `json:"converge,omitempty"`
	Synthesizer string   `json:"synthesizer,omitempty"`
	Initial     string   `json:"initial,omitempty"`
	MaxHops     int      `json:"max_hops,omitempty"`
	RouteField  string   `json:"route_field,omitempty"`
}

type strategy func(ctx context.Context, x *execution) (*Result, error)

var strategies = map[ModeKind]strategy{
	Parallel:   runParallel,
	Sequential: runSequential,
	Debate:     runDebate,
	Synthesis:  runSynthesis,
	Handoff:    runHandoff,
}

// Modes lists the supported mode names.
func Modes() []string {
	return []string{string(Parallel), string(Sequential), string(Debate), string(Synthesis), string(Handoff)}
}

// ParseMode maps a mode name to its tag.
func ParseMode(name string) (ModeKind, error) {
	k := ModeKind(name)
	if _, ok := strategies[k]; !ok {
		return "", &UnknownModeError{Name: name}
	}
	return k, nil
}

// problems reports every inconsistency between m and the participant list.
func (m Mode) problems(participants []string) []string {
	var out []string
	if len(participants) == 0 {
		out = append(out, "at least one participant is required")
	}
	switch m.Kind {
	case Debate:
		if m.Rounds < 1 {
			out = append(out, "debate requires rounds >= 1")
		}
		if m.Converge != "" {
			if _, ok := predicates[m.Converge]; !ok {
				out = append(out, fmt.Sprintf("unknown convergence predicate %q", m.Converge))
			}
		}
	case Synthesis:
		switch {
		case m.Synthesizer == "":
			out = append(out, "synthesis requires a synthesizer")
		case !slices.Contains(participants, m.Synthesizer):
			out = append(out, fmt.Sprintf("synthesizer %s is not a participant", m.Synthesizer))
		case len(participants) < 2:
			out = append(out, "synthesis requires at least one participant besides the synthesizer")
		}
	case Handoff:
		if m.Initial != "" && !slices.Contains(participants, m.Initial) {
			out = append(out, fmt.Sprintf("initial participant %s is not a participant", m.Initial))
		}
		if m.MaxHops < 1 {
			out = append(out, "handoff requires max_hops >= 1")
		}
	}
	return out
}
