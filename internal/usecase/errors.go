package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorValidation   ErrorCode = "VALIDATION_ERROR"
	ErrorSendFailure  ErrorCode = "SEND_FAILURE"
	ErrorHydration    ErrorCode = "HYDRATION_FAILURE"
	ErrorTransport    ErrorCode = "TRANSPORT_ERROR"
	ErrorNotConnected ErrorCode = "NOT_CONNECTED"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the usecase error code carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var ue *Error
	if !errors.As(err, &ue) {
		return "", false
	}
	return ue.Code, true
}

func IsValidation(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrorValidation
}

func IsSendFailure(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrorSendFailure
}
