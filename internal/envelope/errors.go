package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Protocol error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeTimeout        = -32000
	CodeNoRoute        = -32001
)

// Error is the error member of a reply envelope.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("envelope error %d: %s", e.Code, e.Message)
}

// MethodNotFound builds the reply error for an unhandled method.
func MethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
}

// AsError classifies err as a protocol error. Errors that are not already
// protocol errors become CodeInternal with err's message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var coded interface{ EnvelopeCode() int }
	if errors.As(err, &coded) {
		return &Error{Code: coded.EnvelopeCode(), Message: err.Error()}
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}
