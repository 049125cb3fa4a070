// Package errs defines the closed error taxonomy surfaced to callers of the
// signer and messaging core. Every engine returns one of these discriminants
// instead of a free-text-only error so callers (the router, the approval UI,
// the gift-wrap pipeline) can branch on what happened rather than grep a
// message string.
package errs

import "fmt"

// Kind is one of the discriminants from spec §7. There is no hierarchy:
// every kind is distinct and callers switch on it directly.
type Kind string

const (
	InvalidInput       Kind = "invalid_input"
	Locked             Kind = "locked"
	NotFound           Kind = "not_found"
	Duplicate          Kind = "duplicate"
	AuthFail           Kind = "auth_fail"
	SigFail            Kind = "sig_fail"
	Expired            Kind = "expired"
	Revoked            Kind = "revoked"
	BackendUnavailable Kind = "backend_unavailable"
	Network            Kind = "network"
	ProtocolViolation  Kind = "protocol_violation"
	Cancelled          Kind = "cancelled"

	// HSM-specific discriminants (spec §4.14).
	NotAvailable Kind = "not_available"
	PinRequired  Kind = "pin_required"
	PinIncorrect Kind = "pin_incorrect"
	DeviceError  Kind = "device_error"
)

// Error is the concrete error type returned by every engine in this module.
// Secret bytes must never be interpolated into Msg; callers that need to
// report a failure involving secret material pass a kind and a generic
// message instead.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // optional wrapped cause, never secret-bearing
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errs.Sentinel(errs.Locked)) work by comparing
// kinds: errors.Is calls Is on each *Error in err's chain, and any *Error
// target with the same Kind matches, whatever its Msg or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an Error of the given kind, carrying a non-secret cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Sentinel returns a zero-message Error usable with errors.Is(err, Sentinel(kind)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

// KindOf extracts the Kind from err, or "" if err is not one of ours.
func KindOf(err error) Kind {
	if ae, ok := err.(*Error); ok {
		return ae.Kind
	}
	return ""
}
