package download

import (
	"errors"
	"fmt"
)

var (
	errMalformedContentRange = errors.New("malformed content range")
	// ErrInconsistentTotal is reported when a resumed transfer does not add up
	// to the object size the server advertised.
	ErrInconsistentTotal = errors.New("resumed transfer does not match advertised size")
)

// HTTPStatusError is returned for any non-2xx response. It is never retried.
type HTTPStatusError struct {
	StatusCode int
}

func ErrUnexpectedHTTPStatus(statusCode int) error {
	return &HTTPStatusError{StatusCode: statusCode}
}

var _ error = &HTTPStatusError{}

func (c *HTTPStatusError) Error() string {
	return fmt.Sprintf("status code %d", c.StatusCode)
}

// TransientTransportError wraps a connection level failure: reset, timeout,
// premature close.
type TransientTransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransientTransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport error (%s)", e.Kind)
	}
	return fmt.Sprintf("transport error (%s): %v", e.Kind, e.Err)
}

func (e *TransientTransportError) Unwrap() error {
	return e.Err
}

// ShortTransferError means the body ended before the declared length.
type ShortTransferError struct {
	Declared uint64
	Written  uint64
}

func (e *ShortTransferError) Error() string {
	return fmt.Sprintf("short transfer: received %d of %d bytes", e.Written, e.Declared)
}

// ProtocolViolationError means the response contradicted its own headers.
// Retrying would not help, so it is surfaced immediately.
type ProtocolViolationError struct {
	Declared uint64
	Written  uint64
	Detail   string
}

func (e *ProtocolViolationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("protocol violation: %s", e.Detail)
	}
	return fmt.Sprintf("protocol violation: received more than the %d bytes declared (%d)", e.Declared, e.Written)
}

// LocalWriteError wraps a failure writing the destination.
type LocalWriteError struct {
	Path string
	Err  error
}

func (e *LocalWriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *LocalWriteError) Unwrap() error {
	return e.Err
}

// AttemptsExhaustedError is returned when every attempt in the budget was
// used without success. Err is the reason the last attempt was retried.
//
// Use errors.As to extract it and inspect Last for diagnostics.
type AttemptsExhaustedError struct {
	Attempts uint
	Last     TransferOutcome
	Err      error
}

func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AttemptsExhaustedError) Unwrap() error {
	return e.Err
}
