// Package apperr defines the closed error taxonomy shared by the sidecar
// and the license server, and the single place that maps a taxonomy code
// to an HTTP status and response body.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the fixed error categories. Handlers switch on Code,
// never on error string contents.
type Code string

const (
	InvalidInput     Code = "InvalidInput"
	WrongPassphrase  Code = "WrongPassphrase"
	VaultLocked      Code = "VaultLocked"
	VaultCorrupt     Code = "VaultCorrupt"
	ConflictError    Code = "ConflictError"
	NotFound         Code = "NotFound"
	SeatsExhausted   Code = "SeatsExhausted"
	TrialUsed        Code = "TrialUsed"
	InvalidSignature Code = "InvalidSignature"
	Expired          Code = "Expired"
	WrongMachine     Code = "WrongMachine"
	RateLimited      Code = "RateLimited"
	Degraded         Code = "Degraded"
	Internal         Code = "Internal"
)

// statusOf maps each code to the HTTP status the API surfaces it as.
// CSRF failures share VaultLocked's 403; Degraded never reaches an HTTP
// boundary on its own (it is logged alongside a still-200 partial result).
var statusOf = map[Code]int{
	InvalidInput:     http.StatusBadRequest,
	ConflictError:    http.StatusBadRequest,
	VaultLocked:      http.StatusForbidden,
	WrongPassphrase:  http.StatusForbidden,
	NotFound:         http.StatusNotFound,
	SeatsExhausted:   http.StatusConflict,
	TrialUsed:        http.StatusConflict,
	RateLimited:      http.StatusTooManyRequests,
	VaultCorrupt:     http.StatusInternalServerError,
	InvalidSignature: http.StatusUnprocessableEntity,
	Expired:          http.StatusUnprocessableEntity,
	WrongMachine:     http.StatusUnprocessableEntity,
	Degraded:         http.StatusOK,
	Internal:         http.StatusInternalServerError,
}

// Error is a taxonomy-coded error. Detail is safe to return to a client;
// it must never contain key material, passphrases, or stack traces.
type Error struct {
	Code   Code
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Wrap builds an Error that carries an underlying cause for logging,
// without exposing the cause's text to the Detail a client sees.
func Wrap(code Code, detail string, cause error) *Error {
	return &Error{Code: code, Detail: detail, cause: cause}
}

// As extracts an *Error from err, or reports ok=false if err isn't one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus returns the status code an error maps to, defaulting to 500
// for unrecognized codes and non-taxonomy errors.
func HTTPStatus(err error) int {
	if e, ok := As(err); ok {
		if s, found := statusOf[e.Code]; found {
			return s
		}
	}
	return http.StatusInternalServerError
}

// Body is the wire shape of every error response: {"detail": "..."}.
type Body struct {
	Detail string `json:"detail"`
}

// ResponseBody renders the client-safe body for an error. Internal errors
// never leak their cause; the detail is a fixed, generic string.
func ResponseBody(err error) Body {
	if e, ok := As(err); ok {
		if e.Code == Internal {
			return Body{Detail: "internal error"}
		}
		return Body{Detail: e.Detail}
	}
	return Body{Detail: "internal error"}
}
