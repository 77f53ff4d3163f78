package apperr

import (
	"errors"
	"fmt"
)

// ConnReason classifies why connecting to a target failed.
type ConnReason string

const (
	ReasonUnregistered ConnReason = "unregistered"
	ReasonDisabled     ConnReason = "disabled"
	ReasonUnreachable  ConnReason = "unreachable"
	ReasonAuth         ConnReason = "auth"
	ReasonCapability   ConnReason = "capability"
)

// ConnectionError means a target could not be reached or is misconfigured.
// The scanner skips that target for the cycle; other targets are unaffected.
type ConnectionError struct {
	Target string
	Reason ConnReason
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("target %s: %s: %v", e.Target, e.Reason, e.Err)
	}
	return fmt.Sprintf("target %s: %s", e.Target, e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PermissionError means the principal lacks a capability. It is surfaced by
// the auditor as a MISSING status, never a crash.
type PermissionError struct {
	Capability string
	Err        error
}

func (e *PermissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permission denied: %s: %v", e.Capability, e.Err)
	}
	return "permission denied: " + e.Capability
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ValidationError rejects malformed identifiers or parameters before any
// remote command is constructed.
type ValidationError struct {
	Field string
	Value string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Msg)
}

// RebuildError means the online rebuild command itself failed. The history
// record stays incomplete, the marker clears, and a later cycle may retry.
type RebuildError struct {
	Target string
	Schema string
	Table  string
	Index  string
	Err    error
}

func (e *RebuildError) Error() string {
	return fmt.Sprintf("rebuild %s.%s on %s: %v", e.Schema, e.Index, e.Target, e.Err)
}

func (e *RebuildError) Unwrap() error { return e.Err }

// ErrInstall is wrapped by startup failures caused by a control-store
// schema/version mismatch. It is the only error class that halts the process.
var ErrInstall = errors.New("install error")

// Install wraps err as a fatal InstallError.
func Install(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInstall, err)
}

// IsConnection reports whether err is a ConnectionError.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsPermission reports whether err is a PermissionError.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
