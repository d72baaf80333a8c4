package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed request.
type Kind string

const (
	KindTransient    Kind = "transient"
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
)

// Error is returned by every Client method on failure.
// StatusCode is zero when the request never got a response.
type Error struct {
	StatusCode int
	Message    string
	Kind       Kind
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return KindTransient
	default:
		return KindValidation
	}
}

func networkError(err error) *Error {
	return &Error{Message: err.Error(), Kind: KindTransient, Err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return isKind(err, KindTransient)
}

// IsValidation reports whether the server rejected the request itself.
func IsValidation(err error) bool {
	return isKind(err, KindValidation)
}

// IsUnauthorized reports whether the token was refused.
func IsUnauthorized(err error) bool {
	return isKind(err, KindUnauthorized)
}

func isKind(err error, kind Kind) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}
