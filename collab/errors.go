package collab

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeAuthenticationRequired ErrorCode = "AUTHENTICATION_REQUIRED"
	CodeAccessDenied           ErrorCode = "ACCESS_DENIED"
	CodeNotAMember             ErrorCode = "NOT_A_MEMBER"
	CodePersistenceFailure     ErrorCode = "PERSISTENCE_FAILURE"
	CodeMalformedPayload       ErrorCode = "MALFORMED_PAYLOAD"
)

// EventError is reported to the originating connection only, as an "error" event.
type EventError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EventError) Unwrap() error { return e.Err }

func errAccessDenied() *EventError {
	return &EventError{Code: CodeAccessDenied, Message: "Access denied to whiteboard"}
}

func errJoinFailed(err error) *EventError {
	return &EventError{Code: CodeAccessDenied, Message: "Failed to join whiteboard", Err: err}
}

func errNotAMember() *EventError {
	return &EventError{Code: CodeNotAMember, Message: "Not connected to this whiteboard"}
}

func errSendFailed(err error) *EventError {
	return &EventError{Code: CodePersistenceFailure, Message: "Failed to send message", Err: err}
}

func errMalformed(format string, args ...any) *EventError {
	return &EventError{Code: CodeMalformedPayload, Message: "Invalid payload: " + fmt.Sprintf(format, args...)}
}

// AsEventError converts any error into the taxonomy, defaulting to a persistence failure.
func AsEventError(err error) *EventError {
	var evErr *EventError
	if errors.As(err, &evErr) {
		return evErr
	}
	return &EventError{Code: CodePersistenceFailure, Message: "Internal error", Err: err}
}
