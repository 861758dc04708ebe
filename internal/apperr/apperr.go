// Package apperr is the error taxonomy shared by the engine and its transports.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for callers deciding whether to fix input,
// re-read state, or escalate.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPrecondition
	KindAuthorization
	KindNotFound
	KindResourceExhaustion
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind onto the API's status codes.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindPrecondition:
		return http.StatusConflict
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type with structured metadata.
type Error struct {
	Kind     Kind
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by code so callers can compare against the sentinel values below.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func newf(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(code Code, format string, args ...any) *Error {
	return newf(KindValidation, code, format, args...)
}

func Precondition(code Code, format string, args ...any) *Error {
	return newf(KindPrecondition, code, format, args...)
}

func Unauthorized(code Code, format string, args ...any) *Error {
	return newf(KindAuthorization, code, format, args...)
}

func Exhausted(code Code, format string, args ...any) *Error {
	return newf(KindResourceExhaustion, code, format, args...)
}

// NotFound wraps a storage miss for the named entity.
func NotFound(entity, key string, cause error) *Error {
	return &Error{
		Kind:     KindNotFound,
		Code:     CodeNotFound,
		Message:  fmt.Sprintf("%s %s not found", entity, key),
		Metadata: map[string]string{"entity": entity, "key": key},
		Cause:    cause,
	}
}

// StatusMismatch reports that entity is in current but the operation needs one
// of required.
func StatusMismatch(code Code, entity, current string, required ...string) *Error {
	req := strings.Join(required, " or ")
	return &Error{
		Kind:    KindPrecondition,
		Code:    code,
		Message: fmt.Sprintf("%s status is %s; requires %s", entity, current, req),
		Metadata: map[string]string{
			"entity":   entity,
			"current":  current,
			"required": req,
		},
	}
}

// With returns a copy of e with the metadata pair added.
func (e *Error) With(key, value string) *Error {
	out := *e
	out.Metadata = make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata[key] = value
	return &out
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
