package body

import (
	"errors"
	"fmt"
)

// ErrorKind classifies payload failures.
type ErrorKind string

const (
	ErrKindIncomplete ErrorKind = "INCOMPLETE"
	ErrKindOverflow   ErrorKind = "OVERFLOW"
	ErrKindTooLarge   ErrorKind = "TOO_LARGE"
	ErrKindReset      ErrorKind = "RESET"
	ErrKindIo         ErrorKind = "IO"
)

// PayloadError is returned by a stream that failed mid-sequence.
type PayloadError struct {
	Kind ErrorKind
	Err  error
}

func (e *PayloadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("payload error (%s)", e.Kind)
	}
	return fmt.Sprintf("payload error (%s): %v", e.Kind, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// ErrClosedPipe is returned when writing to a pipe whose reader went away.
var ErrClosedPipe = errors.New("body: write on closed pipe")

func incomplete(format string, args ...any) error {
	return &PayloadError{Kind: ErrKindIncomplete, Err: fmt.Errorf(format, args...)}
}

func overflow(format string, args ...any) error {
	return &PayloadError{Kind: ErrKindOverflow, Err: fmt.Errorf(format, args...)}
}

// IsPayloadError reports whether err carries a *PayloadError.
func IsPayloadError(err error) bool {
	var pe *PayloadError
	return errors.As(err, &pe)
}
