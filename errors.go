package rediswire

import (
	"errors"
	"fmt"
)

// Error types for specific failure scenarios
var (
	// ErrConnClosed indicates the connection was closed or hit a network
	// fault; every pending reply on that connection reports it
	ErrConnClosed = errors.New("connection closed")

	// ErrClosed indicates the client has been closed by the caller
	ErrClosed = errors.New("client is closed")

	// ErrInvalidConfig indicates invalid configuration options
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTxAborted indicates EXEC returned a null array because a watched
	// key changed; a distinguished outcome, not a server error
	ErrTxAborted = errors.New("transaction aborted by watched key change")

	// ErrTxUnresolved indicates a transaction cell was read before EXEC
	// resolved it
	ErrTxUnresolved = errors.New("transaction result not yet resolved")

	// ErrNil indicates a null reply where a value was expected
	ErrNil = errors.New("nil reply")
)

// ProtocolError represents a malformed RESP frame. The connection that
// produced it is unusable.
type ProtocolError struct {
	Message string
	Err     error
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Message)
}

// Unwrap returns the wrapped error
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ConnectionError represents a connection-level fault
type ConnectionError struct {
	Addr string
	Err  error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error to %s: %v", e.Addr, e.Err)
}

// Unwrap returns the wrapped error
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AuthError represents a failed AUTH exchange at connect time. This
// includes sending AUTH to a server that has no password configured.
// The connection never becomes usable.
type AuthError struct {
	Err error
}

// Error implements the error interface
func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed: %v", e.Err)
}

// Unwrap returns the wrapped error
func (e *AuthError) Unwrap() error {
	return e.Err
}

// SelectError represents a failed SELECT of the configured database at
// connect time. The connection never becomes usable.
type SelectError struct {
	DB  int
	Err error
}

// Error implements the error interface
func (e *SelectError) Error() string {
	return fmt.Sprintf("select database %d failed: %v", e.DB, e.Err)
}

// Unwrap returns the wrapped error
func (e *SelectError) Unwrap() error {
	return e.Err
}

// CommandError represents an error reply from the server for a single
// command. It never terminates a pipeline or a pub/sub session.
type CommandError struct {
	Message string
}

// Error implements the error interface
func (e *CommandError) Error() string {
	return e.Message
}

// Code returns the leading word of the server error, e.g. "WRONGTYPE"
// or "NOSCRIPT"
func (e *CommandError) Code() string {
	for i := 0; i < len(e.Message); i++ {
		if e.Message[i] == ' ' {
			return e.Message[:i]
		}
	}
	return e.Message
}

// TxError represents a transaction that failed before or at EXEC for a
// reason other than a watched-key abort, e.g. a command rejected while
// queuing
type TxError struct {
	Message string
}

// Error implements the error interface
func (e *TxError) Error() string {
	return fmt.Sprintf("transaction failed: %s", e.Message)
}
