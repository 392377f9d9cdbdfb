// Package ghosterr defines the named error kinds surfaced across the node's
// components, so callers can switch on a stable Kind instead of matching
// message text.
package ghosterr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of error understood by every component.
type Kind string

const (
	InsufficientFunds Kind = "InsufficientFunds"
	DuplicateName     Kind = "DuplicateName"
	NotFound          Kind = "NotFound"
	Unauthorized      Kind = "Unauthorized"
	CooldownActive    Kind = "CooldownActive"
	SelfTransfer      Kind = "SelfTransfer"
	NonPositiveAmount Kind = "NonPositiveAmount"
	VmValidationError Kind = "VmValidationError"
	VmRuntimeError    Kind = "VmRuntimeError"
	PeerUnreachable   Kind = "PeerUnreachable"
	StoreConflict     Kind = "StoreConflict"
	InvalidArgument   Kind = "InvalidArgument"
)

// Error is a named error kind with an optional human-readable message and
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
