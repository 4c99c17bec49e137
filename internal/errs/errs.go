// Package errs defines the closed error-kind taxonomy host operations use to
// signal failure across the script/host boundary.
package errs

import "fmt"

// Kind is one of the fixed error categories a host operation may report.
// The bridge layer (pkg/host) maps a Kind to the platform exception the
// script preamble expects; parsers and validators never panic, they return
// a *HostError instead.
type Kind string

const (
	BadResource Kind = "BadResource"
	InvalidInput Kind = "InvalidInput"
	PermissionDenied Kind = "PermissionDenied"
	NotFound Kind = "NotFound"
	AlreadyExists Kind = "AlreadyExists"
	Interrupted Kind = "Interrupted"
	TimedOut Kind = "TimedOut"
	Network Kind = "Network"
	ProtocolError Kind = "ProtocolError"
	IntegrityFailure Kind = "IntegrityFailure"
	CorsFailure Kind = "CorsFailure"
	MixedContentBlocked Kind = "MixedContentBlocked"
	DataCloneError Kind = "DataCloneError"
	TypeMismatch Kind = "TypeMismatch"
	Internal Kind = "Internal"
)

// HostError is the error type every host operation returns on failure. It
// carries the Kind the bridge needs to construct the right platform
// exception, plus the underlying cause for logs and diagnostics.
type HostError struct {
	Kind Kind
	Message string
	Cause error
}

func (e *HostError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *HostError) Unwrap() error { return e.Cause }

// New constructs a HostError with no wrapped cause.
func New(kind Kind, message string) *HostError {
	return &HostError{Kind: kind, Message: message}
}

// Wrap constructs a HostError carrying cause as its Unwrap target.
func Wrap(kind Kind, message string, cause error) *HostError {
	return &HostError{Kind: kind, Message: message, Cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) *HostError {
	return &HostError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *HostError, otherwise returns Internal — an operation that surfaces a
// plain Go error instead of a HostError is a bug, but scripts must still
// see a typed exception rather than crash the bridge.
func KindOf(err error) Kind {
	var he *HostError
	if ok := asHostError(err, &he); ok {
		return he.Kind
	}
	return Internal
}

func asHostError(err error, target **HostError) bool {
	for err != nil {
		if he, ok := err.(*HostError); ok {
			*target = he
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
