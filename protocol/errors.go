package protocol

import (
	"errors"
	"fmt"
)

// Error types for text protocol operations.
// They let clients decide whether a connection can be reused after a failure
// and let the server tell malformed requests apart from I/O problems.

// ClientError represents a CLIENT_ERROR response.
// The server rejected the request data; the stream position is uncertain.
//
// Connection handling: CLOSE connection
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return "CLIENT_ERROR: " + e.Message
}

// ShouldCloseConnection returns true - the stream may be desynchronized
func (e *ClientError) ShouldCloseConnection() bool {
	return true
}

// ServerError represents a SERVER_ERROR response.
// The request was understood but the server could not serve it.
//
// Connection handling: Connection can be REUSED
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "SERVER_ERROR: " + e.Message
}

// ShouldCloseConnection returns false - the protocol state is intact
func (e *ServerError) ShouldCloseConnection() bool {
	return false
}

// GenericError represents a bare ERROR response.
// The server answers ERROR to unknown verbs and malformed arguments, after
// having consumed the whole request, so the stream stays in sync.
//
// Connection handling: Connection can be REUSED
type GenericError struct {
	Message string
}

func (e *GenericError) Error() string {
	if e.Message == "" {
		return string(StatusError)
	}
	return string(StatusError) + ": " + e.Message
}

// ShouldCloseConnection returns false - the request was fully consumed
func (e *GenericError) ShouldCloseConnection() bool {
	return false
}

// InvalidKeyError is returned when a key fails validation.
//
// Common causes:
//   - Empty key
//   - Key exceeds 250 bytes
//   - Key contains whitespace or control characters
//
// Connection handling: Connection is still valid, nothing was sent
type InvalidKeyError struct {
	Message string
}

func (e *InvalidKeyError) Error() string {
	return "invalid key: " + e.Message
}

// ShouldCloseConnection returns false - the request never reached the wire
func (e *InvalidKeyError) ShouldCloseConnection() bool {
	return false
}

// ParseError reports a request header or response line that does not
// follow the grammar.
//
// Connection handling: CLOSE connection on the client side, the response
// stream can no longer be trusted
type ParseError struct {
	Message string
	Err     error // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "parse error: " + e.Message + ": " + e.Err.Error()
	}
	return "parse error: " + e.Message
}

// Unwrap returns the underlying error for error chain inspection
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - parse errors indicate corrupted state
func (e *ParseError) ShouldCloseConnection() bool {
	return true
}

// ConnectionError wraps I/O errors from connection operations.
//
// Connection handling: Connection is already broken, CLOSE it
type ConnectionError struct {
	Op  string // Operation that failed (read, write, etc.)
	Err error  // Underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - connection errors mean connection is broken
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// ErrorWithConnectionState is implemented by all protocol error types.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err leaves the connection unusable.
// Unknown error types are treated conservatively and close the connection.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}
