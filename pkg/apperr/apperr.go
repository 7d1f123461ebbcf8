// Package apperr defines the error taxonomy shared by the relay, the HTTP
// layer and the client library.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	AuthRequired Code = "AUTH_REQUIRED"
	AuthFailed   Code = "AUTH_FAILED"
	Validation   Code = "VALIDATION_ERROR"
	Store        Code = "STORE_ERROR"
	Provider     Code = "PROVIDER_ERROR"
	Timeout      Code = "TIMEOUT"
)

var (
	// ErrNotFound marks a row that is missing or not owned by the caller.
	ErrNotFound = errors.New("record not found")
	// ErrConflict marks a uniqueness violation (e.g. duplicate email).
	ErrConflict = errors.New("record already exists")
)

type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Code: Validation, Reason: fmt.Sprintf(format, args...)}
}

func StoreErr(reason string, err error) *Error {
	return &Error{Code: Store, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// ReasonOf returns a message safe to show to end users.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return "internal error"
}

// HTTPStatus maps an error to the response status used by the controllers.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	}
	switch CodeOf(err) {
	case AuthRequired, AuthFailed:
		return http.StatusUnauthorized
	case Validation:
		return http.StatusBadRequest
	case Provider:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus rebuilds a coded error from an HTTP response, used by the
// client library to give callers the same taxonomy as in-process callers.
func FromStatus(status int, code Code, reason string) *Error {
	if code == "" {
		switch {
		case status == http.StatusUnauthorized:
			code = AuthRequired
		case status == http.StatusBadRequest:
			code = Validation
		case status == http.StatusGatewayTimeout:
			code = Timeout
		case status == http.StatusBadGateway:
			code = Provider
		default:
			code = Store
		}
	}
	var cause error
	switch status {
	case http.StatusNotFound:
		cause = ErrNotFound
	case http.StatusConflict:
		cause = ErrConflict
	}
	return &Error{Code: code, Reason: reason, Err: cause}
}
