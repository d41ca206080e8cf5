package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrorLimitReached       ErrorCode = "LIMIT_REACHED"
	ErrorConflict           ErrorCode = "CONFLICT"
	ErrorNotFound           ErrorCode = "NOT_FOUND"
	ErrorUserExists         ErrorCode = "USER_EXISTS"
	ErrorUserNotFound       ErrorCode = "USER_NOT_FOUND"
	ErrorNoPassword         ErrorCode = "NO_PASSWORD"
	ErrorInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrorUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrorForbidden          ErrorCode = "FORBIDDEN"
	ErrorRateLimited        ErrorCode = "RATE_LIMITED"
	ErrorUpstream           ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
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

// CodeOf returns the code of a usecase error in err's chain, or ErrorInternal.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}
