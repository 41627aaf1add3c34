// Package errors defines the error taxonomy from spec.md §7. Each kind is a
// sentinel; the constructors below return an error carrying a
// human-readable reason whose Unwrap yields that sentinel, so callers use
// errors.Is/errors.As the standard way, matching the teacher's own error
// handling in apps/mcp-server (no third-party error-wrapping library; the
// pack itself relies on stdlib errors/fmt.Errorf throughout).
package errors

import "errors"

var (
	// ErrValidation: malformed op or configuration, rejected locally.
	ErrValidation = errors.New("validation error")
	// ErrUnknownEntity: reference to an id with no observed creation.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrCapacity: schedule cannot satisfy a profile.
	ErrCapacity = errors.New("capacity error")
	// ErrSyncAuth: HMAC mismatch, skew violation, or unknown peer in strict mode.
	ErrSyncAuth = errors.New("sync authentication error")
	// ErrSyncTransport: websocket failure.
	ErrSyncTransport = errors.New("sync transport error")
	// ErrStore: persistence I/O failure.
	ErrStore = errors.New("store error")
	// ErrController: adapter returned an error from a placement hook.
	ErrController = errors.New("controller error")
)

// Validation returns an ErrValidation carrying a human-readable reason.
func Validation(reason string) error { return &taxonomyError{ErrValidation, reason} }

// UnknownEntity wraps a reference to id with no observed creation.
func UnknownEntity(id string) error { return &taxonomyError{ErrUnknownEntity, "unknown entity: " + id} }

// Capacity wraps a scheduling failure with a human-readable cause.
func Capacity(reason string) error { return &taxonomyError{ErrCapacity, reason} }

// SyncAuth wraps a rejected peer message.
func SyncAuth(reason string) error { return &taxonomyError{ErrSyncAuth, reason} }

// SyncTransport wraps a websocket-level failure.
func SyncTransport(reason string) error { return &taxonomyError{ErrSyncTransport, reason} }

// Store wraps a persistence failure.
func Store(reason string) error { return &taxonomyError{ErrStore, reason} }

// Controller wraps an adapter-reported placement failure.
func Controller(reason string) error { return &taxonomyError{ErrController, reason} }

type taxonomyError struct {
	kind   error
	reason string
}

func (e *taxonomyError) Error() string { return e.reason }
func (e *taxonomyError) Unwrap() error { return e.kind }
