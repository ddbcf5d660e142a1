// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package dmerr defines the error taxonomy of the dmp target. Every failure
// reported to a caller is an *Error tagged with a Kind and carrying a
// human-readable reason, so callers can match on the kind with errors.Is and
// still print something useful to the operator.
package dmerr

import (
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// Wrong number of constructor arguments.
	InvalidArgumentCount Kind = iota + 1

	// Offset argument is not an unsigned decimal integer.
	InvalidOffset

	// Underlying device cannot be resolved or opened.
	DeviceLookupFailed

	// Instance record cannot be allocated.
	AllocationFailed

	// Control-plane endpoint cannot be created during activation.
	ControlPlaneSetupFailed
)

var kindNames = map[Kind]string{
	InvalidArgumentCount:    "invalid argument count",
	InvalidOffset:           "invalid offset",
	DeviceLookupFailed:      "device lookup failed",
	AllocationFailed:        "allocation failed",
	ControlPlaneSetupFailed: "control plane setup failed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is matching. They carry no reason of their own.
var (
	ErrInvalidArgumentCount    = &Error{Kind: InvalidArgumentCount}
	ErrInvalidOffset           = &Error{Kind: InvalidOffset}
	ErrDeviceLookupFailed      = &Error{Kind: DeviceLookupFailed}
	ErrAllocationFailed        = &Error{Kind: AllocationFailed}
	ErrControlPlaneSetupFailed = &Error{Kind: ControlPlaneSetupFailed}
)

// Error is a tagged failure with the reason shown to the operator and an
// optional cause.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

// New returns an error of kind k with the given reason and cause. Cause can be
// nil.
func New(k Kind, reason string, cause error) *Error {
	return &Error{Kind: k, Reason: reason, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = e.Kind.String()
	}

	if e.Err != nil {
		return fmt.Sprintf("dm-dmp: %s: %v", msg, e.Err)
	}

	return "dm-dmp: " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. This makes the
// package sentinels match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}
