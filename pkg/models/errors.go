package models

import "fmt"

type AppError struct {
	AppErrorType AppErrorType
	Err          error
}

type AppErrorType string

func (e AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.AppErrorType, e.Err)
	}
	return string(e.AppErrorType)
}

func (e AppError) Unwrap() error {
	return e.Err
}

const (
	ErrTLSConfig AppErrorType = "failed to build the tls configuration"
)
