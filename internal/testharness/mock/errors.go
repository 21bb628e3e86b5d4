package mock

import (
	"errors"
	"fmt"
)

// Mock package errors.
var (
	// ErrNotConnected is returned when executing on a router that was not
	// connected or was closed.
	ErrNotConnected = errors.New("router not connected")

	// ErrConnectionLost simulates a transport failure.
	ErrConnectionLost = errors.New("connection lost")
)

// ExitError is a command that ran and exited with a non-zero status.
type ExitError struct {
	// Status is the exit status.
	Status int

	// Output is what the command printed.
	Output string
}

// Error implements error.
func (e *ExitError) Error() string {
	return fmt.Sprintf("Process exited with status %d", e.Status)
}

// ExitStatus returns the exit status.
func (e *ExitError) ExitStatus() int {
	return e.Status
}

func entryNotFound() *ExitError {
	return &ExitError{Status: 1, Output: "uci: Entry not found"}
}
