package provider

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the stable error classification surfaced to MCP clients. Every
// error that crosses the tool boundary carries exactly one Kind.
type Kind string

const (
	KindInvalidArguments  Kind = "InvalidArguments"
	KindToolNotFound      Kind = "ToolNotFound"
	KindInvalidAction     Kind = "InvalidAction"
	KindVMNotFound        Kind = "VMNotFound"
	KindInvalidState      Kind = "InvalidState"
	KindResourceConflict  Kind = "ResourceConflict"
	KindTimeout           Kind = "Timeout"
	KindCancelled         Kind = "Cancelled"
	KindHypervisorError   Kind = "HypervisorError"
	KindAdapterParseError Kind = "AdapterParseError"
	KindBinaryNotFound    Kind = "BinaryNotFound"
	KindInternal          Kind = "Internal"
)

// Error is the typed error carried across layers. Details holds
// diagnostic payload (captured stderr, partial output, field lists) that
// is serialized into the tool error envelope.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a typed error with the given kind and message.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf builds a typed error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying cause.
func WrapError(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetail returns the error with one detail key set. The receiver is
// mutated and returned for chaining at construction sites.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf classifies an arbitrary error. Context errors map to Timeout and
// Cancelled; anything untyped is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err classifies as the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
