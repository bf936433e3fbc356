// Package apperr defines the error taxonomy shared by every domain package.
//
// Domain packages declare their sentinels with the constructors below and
// compare them with errors.Is, which matches on Code so that an error carrying
// extra detail (see WithDetail) still matches its sentinel.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to decide how to react,
// such as the HTTP layer picking a status code.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindRule
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRule:
		return "rule"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// GenericFailure is the message shown for errors that are not part of the taxonomy.
const GenericFailure = "operation failed, please try again"

// Error is a classified, user-presentable error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of e whose message is extended with the formatted detail.
func (e *Error) WithDetail(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message + ": " + fmt.Sprintf(format, args...),
	}
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error { return New(KindValidation, code, message) }
func Rule(code, message string) *Error       { return New(KindRule, code, message) }
func NotFound(code, message string) *Error   { return New(KindNotFound, code, message) }
func Conflict(code, message string) *Error   { return New(KindConflict, code, message) }

var (
	ErrUnauthorized = New(KindUnauthorized, "unauthorized", "authentication required")
	ErrForbidden    = New(KindForbidden, "forbidden", "not allowed to perform this operation")
	ErrRateLimited  = Rule("rate_limited", "rate limit exceeded")
)

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// Result converts an operation outcome into a success flag and a message safe
// to show to a user. Errors outside the taxonomy collapse to GenericFailure.
func Result(err error) (bool, string) {
	if err == nil {
		return true, "ok"
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return false, e.Message
	}
	return false, GenericFailure
}
