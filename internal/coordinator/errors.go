package coordinator

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownParticipant = errors.New("unknown participant")

// UnknownModeError is returned before any participant is contacted.
type UnknownModeError struct {
	Name string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown coordinator mode %q", e.Name)
}

// HandoffLimitError means participants kept handing off past MaxHops.
type HandoffLimitError struct {
	Limit int
	Path  []string
}

func (e *HandoffLimitError) Error() string {
	return fmt.Sprintf("handoff limit of %d exceeded: %s", e.Limit, strings.Join(e.Path, " -> "))
}

// StageError aborts a sequential or handoff chain.
type StageError struct {
	Stage       int
	Participant string
	Err         error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Stage, e.Participant, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
