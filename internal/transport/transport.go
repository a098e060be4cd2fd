// Package transport defines the contract between the connection supervisor
// and the external messaging network.
//
// The wire protocol itself is out of scope: a production build injects a
// Dialer backed by the real network client, while tests use fakes. The
// supervisor only depends on the observable outcomes modeled here.
package transport

import (
	"context"
	"strings"
)

// StatusCode is the close status reported by the remote network.
// Values mirror the subset the supervisor must classify.
type StatusCode int

const (
	// StatusUnknown covers closures without a usable status.
	StatusUnknown StatusCode = 0
	// StatusUnauthorized means the persisted credential set is no longer
	// accepted (logged out elsewhere, credentials revoked).
	StatusUnauthorized StatusCode = 401
	// StatusTimeout means the session timed out while establishing or idle.
	StatusTimeout StatusCode = 408
	// StatusConflict means another session claimed the same identity.
	StatusConflict StatusCode = 409
)

// EventKind discriminates transport events.
type EventKind uint8

const (
	// EventCredentialIssued carries a fresh scanning credential that must be
	// presented out-of-band to authenticate the session.
	EventCredentialIssued EventKind = iota + 1
	// EventOpened means the session is established and ready to send.
	EventOpened
	// EventClosed means the session terminated; Status and Reason describe why.
	EventClosed
)

// Event is one observable outcome of a transport session.
type Event struct {
	Kind EventKind

	// Credential is set for EventCredentialIssued.
	Credential string

	// Status and Reason are set for EventClosed.
	Status StatusCode
	Reason string
}

// Handle is one active session attempt on the external messaging network.
//
// Ownership: a Handle is owned exclusively by the supervisor. Events() is
// drained by exactly one goroutine; after Close the channel is closed and
// no further events are emitted.
type Handle interface {
	// Events returns the session event stream. The channel is closed when
	// the handle is closed or the session terminates.
	Events() <-chan Event

	// SendText delivers a text message to the given network address.
	// It may only be called while the session is open.
	SendText(ctx context.Context, address, text string) error

	// Close tears the session down. Idempotent. Detaches the event stream
	// before closing the underlying socket so a stale handle cannot leak
	// events into a newer attempt.
	Close() error
}

// Dialer starts new session attempts.
type Dialer interface {
	// Dial begins establishing a session using the given credential set.
	// A nil credential set requests a fresh pairing (credential issuance).
	// Establishment outcome is reported via the handle's event stream.
	Dial(ctx context.Context, creds CredentialSet) (Handle, error)
}

// CloseClass is the supervisor-facing classification of a closure.
type CloseClass uint8

const (
	CloseOther CloseClass = iota
	CloseConflict
	CloseUnauthorized
	CloseTimeout
)

// String returns a stable lowercase name used in logs and events.
func (c CloseClass) String() string {
	switch c {
	case CloseConflict:
		return "conflict"
	case CloseUnauthorized:
		return "unauthorized"
	case CloseTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// Classify maps a close status plus reason text onto a CloseClass.
// Reason text is consulted as a fallback because some network clients
// report conflicts and timeouts only in the human-readable message.
func Classify(status StatusCode, reason string) CloseClass {
	switch status {
	case StatusConflict:
		return CloseConflict
	case StatusUnauthorized:
		return CloseUnauthorized
	case StatusTimeout:
		return CloseTimeout
	}

	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "conflict"):
		return CloseConflict
	case strings.Contains(lower, "logged out"), strings.Contains(lower, "unauthorized"):
		return CloseUnauthorized
	case strings.Contains(lower, "timed out"), strings.Contains(lower, "timeout"):
		return CloseTimeout
	default:
		return CloseOther
	}
}
