package component

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rdeforest/ClodWeave/internal/envelope"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrConnection    = errors.New("connection error")
	ErrLifecycle     = errors.New("lifecycle error")
	ErrTimeout       = errors.New("request timed out")
	ErrInvalidID     = errors.New("invalid component id")
)

// ConfigurationError lists every schema violation found at initialize.
type ConfigurationError struct {
	Component string
	Problems  []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Component, strings.Join(e.Problems, "; "))
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ConnectionError means there is no usable route to Target.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send to %s: %v", e.Target, e.Err)
	}
	return "No connection to target: " + e.Target
}

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }
func (e *ConnectionError) Unwrap() error        { return e.Err }
func (e *ConnectionError) EnvelopeCode() int    { return envelope.CodeNoRoute }

// LifecycleError is an invalid state transition request.
type LifecycleError struct {
	Component string
	Op        string
	From      State
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("cannot %s %s while %s", e.Op, e.Component, e.From)
}

func (e *LifecycleError) Is(target error) bool { return target == ErrLifecycle }

// TimeoutError means a request went unanswered.
type TimeoutError struct {
	Target string
	Method string
	ID     string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s to %s timed out after %s", e.Method, e.Target, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
func (e *TimeoutError) EnvelopeCode() int    { return envelope.CodeTimeout }

// HandlerError wraps a panic recovered from a handler.
type HandlerError struct {
	Method string
	Value  any
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s panicked: %v", e.Method, e.Value)
}
