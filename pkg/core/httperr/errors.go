// Package httperr turns application and materialization failures into
// well-formed HTTP responses.
package httperr

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// StatusCoder is implemented by errors that know which HTTP status they map to.
type StatusCoder interface {
	StatusCode() int
}

// Error is an application error carrying an HTTP status.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return http.StatusText(e.Status)
	}
}

func (e *Error) StatusCode() int {
	return e.Status
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(status int, msg string) *Error {
	return &Error{Status: status, Message: msg}
}

// Wrap attaches a status to err. The message of err is used as the body.
func Wrap(status int, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Status: status, Err: err}
}

func BadRequest(msg string) *Error {
	return New(http.StatusBadRequest, msg)
}

func NotFound(msg string) *Error {
	return New(http.StatusNotFound, msg)
}

func InternalServerError(msg string) *Error {
	return New(http.StatusInternalServerError, msg)
}

// PanicError is a recovered panic from a service call.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("service panicked: %v", e.Value)
}

// MaterializeErrorCode identifies which part of a response could not be
// encoded.
type MaterializeErrorCode string

const (
	ErrCodeHeaderValue MaterializeErrorCode = "INVALID_HEADER_VALUE"
	ErrCodeHeaderName  MaterializeErrorCode = "INVALID_HEADER_NAME"
	ErrCodeStatus      MaterializeErrorCode = "INVALID_STATUS"
	ErrCodeLength      MaterializeErrorCode = "INVALID_CONTENT_LENGTH"
)

var (
	ErrInvalidHeaderValue = errors.New("failed to parse header value")
	ErrInvalidHeaderName  = errors.New("failed to parse header name")
	ErrInvalidStatus      = errors.New("invalid response status")
	ErrInvalidLength      = errors.New("invalid response content length")
)

// MaterializeError reports a response that cannot be put on the wire.
// Header holds the offending header name, or the offending status or
// length for the non-header codes.
type MaterializeError struct {
	Code   MaterializeErrorCode
	Header string
	Err    error
}

func (e *MaterializeError) Error() string {
	return fmt.Sprintf("%v (%s %q)", e.Err, e.Code, e.Header)
}

func (e *MaterializeError) Unwrap() error {
	return e.Err
}

func NewHeaderValueError(name string) *MaterializeError {
	return &MaterializeError{Code: ErrCodeHeaderValue, Header: name, Err: ErrInvalidHeaderValue}
}

func NewHeaderNameError(name string) *MaterializeError {
	return &MaterializeError{Code: ErrCodeHeaderName, Header: name, Err: ErrInvalidHeaderName}
}

func NewStatusError(status int) *MaterializeError {
	return &MaterializeError{Code: ErrCodeStatus, Header: strconv.Itoa(status), Err: ErrInvalidStatus}
}

func NewLengthError(n int64) *MaterializeError {
	return &MaterializeError{Code: ErrCodeLength, Header: strconv.FormatInt(n, 10), Err: ErrInvalidLength}
}
