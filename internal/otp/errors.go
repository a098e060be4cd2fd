package otp

import "errors"

var (
	// ErrTransportUnavailable is returned by Send when no online messaging
	// session exists.
	ErrTransportUnavailable = errors.New("otp: transport unavailable")

	// ErrDeliveryFailed is returned when the transport rejected or failed the
	// send. The challenge row is already persisted at that point; callers
	// must not assume send-failure implies no outstanding challenge.
	ErrDeliveryFailed = errors.New("otp: delivery failed")

	// ErrInvalidOrExpired is returned by Verify when no eligible challenge
	// matches. Callers cannot distinguish "never sent", "expired", and
	// "wrong code"; the distinction lives only in operational logs.
	ErrInvalidOrExpired = errors.New("otp: invalid or expired code")

	// ErrInvalidDestination is returned for destinations that contain no
	// usable digits.
	ErrInvalidDestination = errors.New("otp: invalid destination")
)
