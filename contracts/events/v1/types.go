// Package v1 defines the WhatsOTP dashboard event protocol.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server and dashboard clients to keep the wire
// format authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeSnapshot is pushed once immediately after connect and carries the
	// current connection state and last-issued scanning credential, if any.
	TypeSnapshot = "snapshot"

	// TypeState announces a connection state transition.
	TypeState = "state"

	// TypeCredential carries a freshly issued scanning credential (QR payload).
	TypeCredential = "credential"

	// TypeOTPSent reports an OTP send attempt (success or failure).
	TypeOTPSent = "otp_sent"

	// TypeOTPVerified reports an OTP verification attempt (success or failure).
	TypeOTPVerified = "otp_verified"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeSnapshot,
		TypeState,
		TypeCredential,
		TypeOTPSent,
		TypeOTPVerified,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// SnapshotPayload is the point-in-time view delivered on subscribe.
type SnapshotPayload struct {
	State         string `json:"state"`
	HasCredential bool   `json:"has_credential"`
	Credential    string `json:"credential,omitempty"`
}

// StatePayload announces a supervisor state transition.
// Reason is set for reconnecting/failed transitions ("conflict", "timeout", ...).
type StatePayload struct {
	State   string `json:"state"`
	Reason  string `json:"reason,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// CredentialPayload carries the scanning credential to present out-of-band.
type CredentialPayload struct {
	Credential string `json:"credential"`
}

// OTPSentPayload reports one send attempt.
type OTPSentPayload struct {
	Destination string    `json:"destination"`
	Success     bool      `json:"success"`
	Issuer      string    `json:"issuer,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// OTPVerifiedPayload reports one verification attempt.
type OTPVerifiedPayload struct {
	Destination string    `json:"destination"`
	Success     bool      `json:"success"`
	Reason      string    `json:"reason,omitempty"`
	Issuer      string    `json:"issuer,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ErrorPayload is a generic error message for stream clients.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
