package main

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when a session operation is called out of order.
var ErrInvalidState = errors.New("session: operation not valid in current state")

// ErrorKind classifies why a recording session ended in Failed.
type ErrorKind int

const (
	ErrorPermissionDenied ErrorKind = iota + 1
	ErrorEmptyRecording
	ErrorEncodingFailure
	ErrorNetworkFailure
	ErrorServerError
	ErrorCaptureFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorPermissionDenied:
		return "permission_denied"
	case ErrorEmptyRecording:
		return "empty_recording"
	case ErrorEncodingFailure:
		return "encoding_failure"
	case ErrorNetworkFailure:
		return "network_failure"
	case ErrorServerError:
		return "server_error"
	case ErrorCaptureFailure:
		return "capture_failure"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// UserMessage is the text shown to the learner for a failure of this kind.
// Every kind has its own wording so the caller can tell them apart.
func (k ErrorKind) UserMessage() string {
	switch k {
	case ErrorPermissionDenied:
		return "Microphone access is required to record. Allow it and try again."
	case ErrorEmptyRecording:
		return "No audio was captured. Hold the microphone closer and record again."
	case ErrorEncodingFailure:
		return "The recording could not be prepared for upload."
	case ErrorNetworkFailure:
		return "Could not reach the evaluation server. Check your connection and try again."
	case ErrorServerError:
		return "The evaluation server could not score this recording."
	case ErrorCaptureFailure:
		return "The microphone stopped delivering audio mid-recording. Check the device and record again."
	default:
		return "Something went wrong."
	}
}

// SessionError is the error carried by a Failed session.
// errors.Is matches any SessionError of the same Kind, so callers can test
// against the Err* sentinels below.
type SessionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *SessionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.UserMessage()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *SessionError) Unwrap() error { return e.Err }

func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	return ok && t.Kind == e.Kind
}

var (
	ErrPermissionDenied = &SessionError{Kind: ErrorPermissionDenied}
	ErrEmptyRecording   = &SessionError{Kind: ErrorEmptyRecording}
	ErrEncodingFailure  = &SessionError{Kind: ErrorEncodingFailure}
	ErrNetworkFailure   = &SessionError{Kind: ErrorNetworkFailure}
	ErrServerError      = &SessionError{Kind: ErrorServerError}
	ErrCaptureFailure   = &SessionError{Kind: ErrorCaptureFailure}
)

func newSessionError(kind ErrorKind, err error, format string, args ...any) *SessionError {
	return &SessionError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// asSessionError classifies err, treating anything unrecognised as fallback.
func asSessionError(err error, fallback ErrorKind) *SessionError {
	var se *SessionError
	if errors.As(err, &se) {
		return se
	}
	return &SessionError{Kind: fallback, Message: fallback.UserMessage(), Err: err}
}
