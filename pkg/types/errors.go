/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies chef errors across the daemons and libraries.
// RPC surfaces map these to protocol status codes, the install state
// machine maps them to FAIL events.
type ErrorKind string

const (
	ErrInvalidArgument   ErrorKind = "invalid-argument"
	ErrNotFound          ErrorKind = "not-found"
	ErrAlreadyExists     ErrorKind = "already-exists"
	ErrPermissionDenied  ErrorKind = "permission-denied"
	ErrResourceExhausted ErrorKind = "resource-exhausted"
	ErrPolicyInvalid     ErrorKind = "policy-invalid"
	ErrRootfsInvalid     ErrorKind = "rootfs-invalid"
	ErrNotRunning        ErrorKind = "not-running"
	ErrSpawnFailed       ErrorKind = "spawn-failed"
	ErrInternal          ErrorKind = "internal-error"
	ErrCancelled         ErrorKind = "cancelled"
	ErrReadOnly          ErrorKind = "read-only"
	ErrBuilderLost       ErrorKind = "builder-lost"
	ErrUnknownArch       ErrorKind = "protocol-unknown-arch"
	ErrUnsupported       ErrorKind = "unsupported"
)

// Error carries an ErrorKind together with a human-readable message and
// an optional wrapped cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so that errors.Is(err, &Error{Kind: k}) and
// sentinel comparisons both work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates a chef error with the given kind and formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError creates a chef error wrapping an underlying cause.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the ErrorKind of err, unwrapping as needed. Errors that
// do not carry a kind report ErrInternal; nil reports the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
