// Unified error handling for the microplot client
//
// Copyright (C) 2026  Microplot Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Remote execution surface errors
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	ErrDeviceBusy        ErrorCode = "DEVICE_BUSY"
	ErrMalformedResponse ErrorCode = "MALFORMED_RESPONSE"

	// Streaming errors
	ErrSessionActive ErrorCode = "SESSION_ACTIVE"

	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Capture surface errors
	ErrCaptureSource ErrorCode = "CAPTURE_SOURCE"
)

// ClientError is the unified error type for the client controller
type ClientError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Endpoint is the remote endpoint involved (if applicable)
	Endpoint string

	// StatusCode is the HTTP status returned by the device (if applicable)
	StatusCode int

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *ClientError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ClientError) Unwrap() error {
	return e.Err
}

// SetEndpoint sets the remote endpoint context
func (e *ClientError) SetEndpoint(endpoint string) *ClientError {
	e.Endpoint = endpoint
	return e
}

// SetStatusCode sets the HTTP status context
func (e *ClientError) SetStatusCode(code int) *ClientError {
	e.StatusCode = code
	return e
}

// New creates a new ClientError
func New(code ErrorCode, message string) *ClientError {
	return &ClientError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *ClientError {
	return &ClientError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode reports whether err (or any error it wraps) carries the code
func IsCode(err error, code ErrorCode) bool {
	var ce *ClientError
	if stderrors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// Remote errors

// RemoteUnavailableError creates an error for a failed remote call
func RemoteUnavailableError(endpoint string, cause error) *ClientError {
	return Wrap(cause, ErrRemoteUnavailable, "execution surface unavailable").
		SetEndpoint(endpoint)
}

// RemoteStatusError creates an error for a non-2xx device response
func RemoteStatusError(endpoint string, statusCode int, body string) *ClientError {
	return New(ErrRemoteUnavailable, fmt.Sprintf("device returned %d: %s", statusCode, body)).
		SetEndpoint(endpoint).
		SetStatusCode(statusCode)
}

// DeviceBusyError creates an error for a 503 busy response. Busy is an
// expected operator-retryable condition, not a bug.
func DeviceBusyError(endpoint string) *ClientError {
	return New(ErrDeviceBusy, "device busy").
		SetEndpoint(endpoint).
		SetStatusCode(503)
}

// MalformedResponseError creates an error for a status payload missing
// required fields
func MalformedResponseError(endpoint, field string) *ClientError {
	return New(ErrMalformedResponse, fmt.Sprintf("status response missing field '%s'", field)).
		SetEndpoint(endpoint)
}

// Streaming errors

// SessionActiveError creates an error for a second streaming session
// attempted while one is in flight
func SessionActiveError() *ClientError {
	return New(ErrSessionActive, "a streaming session is already in progress")
}

// Capture errors

// CaptureSourceError creates an error for a failed capture source
func CaptureSourceError(device string, cause error) *ClientError {
	return Wrap(cause, ErrCaptureSource, fmt.Sprintf("capture source %s failed", device))
}
