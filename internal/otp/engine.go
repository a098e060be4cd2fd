// Package otp issues and verifies one-time passcodes delivered over the
// supervised messaging session.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	v1 "github.com/omdev04/WhatsOTP/contracts/events/v1"
	"github.com/omdev04/WhatsOTP/internal/events"
	"github.com/omdev04/WhatsOTP/internal/transport"
)

// DefaultTTL is the challenge validity window.
const DefaultTTL = 5 * time.Minute

// DefaultRetention is how long resolved/expired rows stay in the ledger.
const DefaultRetention = 7 * 24 * time.Hour

const messageTemplate = "Your OTP is: %s. Valid for 5 minutes."

// Conn exposes the supervisor's current transport handle.
type Conn interface {
	Online() (transport.Handle, error)
}

// Publisher receives otp_sent / otp_verified events for fan-out.
type Publisher interface {
	Publish(env v1.Envelope)
}

// Engine generates challenges, sends them through whatever transport handle
// the supervisor currently exposes, and verifies submitted answers against
// the ledger.
type Engine struct {
	log   *slog.Logger
	store LedgerStore
	conn  Conn
	pub   Publisher
	ttl   time.Duration

	now func() time.Time
}

// NewEngine constructs an Engine. pub may be nil (events are then dropped).
func NewEngine(log *slog.Logger, store LedgerStore, conn Conn, pub Publisher, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Engine{
		log:   log,
		store: store,
		conn:  conn,
		pub:   pub,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Send issues a new challenge for destination and delivers the code as a
// text message. The challenge row is written before delivery is attempted;
// a delivery failure therefore leaves an outstanding challenge behind.
func (e *Engine) Send(ctx context.Context, destination, issuer string) (Challenge, error) {
	dest, err := NormalizeDestination(destination)
	if err != nil {
		return Challenge{}, err
	}

	handle, err := e.conn.Online()
	if err != nil {
		e.publishSent(dest, issuer, false)
		e.log.Warn("otp.send.unavailable", "destination", dest, "issuer", issuer)
		return Challenge{}, ErrTransportUnavailable
	}

	now := e.now()
	code, err := generateCode()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate code: %w", err)
	}

	ch := Challenge{
		ID:          newChallengeID(now),
		Destination: dest,
		Code:        code,
		IssuedAt:    now,
		ExpiresAt:   now.Add(e.ttl),
		Issuer:      issuer,
	}

	if err := e.store.Append(ctx, ch); err != nil {
		return Challenge{}, fmt.Errorf("ledger append: %w", err)
	}

	text := fmt.Sprintf(messageTemplate, code)
	if err := handle.SendText(ctx, JID(dest), text); err != nil {
		// No rollback: the row stays. The caller is told delivery failed,
		// not that no challenge exists.
		e.publishSent(dest, issuer, false)
		e.log.Error("otp.send.fail", "destination", dest, "issuer", issuer, "err", err)
		return ch, ErrDeliveryFailed
	}

	e.publishSent(dest, issuer, true)
	e.log.Info("otp.send.ok", "destination", dest, "issuer", issuer, "expires_at", ch.ExpiresAt)
	return ch, nil
}

// Verify matches the submitted code against the ledger and marks the
// challenge verified. At-most-once: a second call with the same code fails
// with ErrInvalidOrExpired.
func (e *Engine) Verify(ctx context.Context, destination, code, issuer string) error {
	dest, err := NormalizeDestination(destination)
	if err != nil {
		return ErrInvalidOrExpired
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidOrExpired
	}

	_, err = e.store.MarkVerified(ctx, dest, code, e.now())
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpired) {
			e.publishVerified(dest, issuer, false, "invalid-or-expired")
			e.log.Info("otp.verify.reject", "destination", dest, "issuer", issuer)
			return ErrInvalidOrExpired
		}
		return fmt.Errorf("ledger verify: %w", err)
	}

	e.publishVerified(dest, issuer, true, "")
	e.log.Info("otp.verify.ok", "destination", dest, "issuer", issuer)
	return nil
}

// ListRecent returns the issuer's own challenges, most recent first.
func (e *Engine) ListRecent(ctx context.Context, issuer string, limit int) ([]Challenge, error) {
	return e.store.ListByIssuer(ctx, issuer, limit)
}

// RunSweeper evicts rows past the retention window until ctx is cancelled.
// Eviction is a retention policy, not a correctness dependency: verification
// already checks expiry itself.
func (e *Engine) RunSweeper(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = DefaultRetention
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			removed, err := e.store.Evict(ctx, e.now().Add(-retention))
			if err != nil {
				if ctx.Err() == nil {
					e.log.Error("otp.sweep.fail", "err", err)
				}
				continue
			}
			if removed > 0 {
				e.log.Info("otp.sweep", "removed", removed)
			}
		}
	}
}

func (e *Engine) publishSent(destination, issuer string, success bool) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(events.NewEnvelope(v1.TypeOTPSent, v1.OTPSentPayload{
		Destination: destination,
		Success:     success,
		Issuer:      issuer,
		Timestamp:   e.now(),
	}))
}

func (e *Engine) publishVerified(destination, issuer string, success bool, reason string) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(events.NewEnvelope(v1.TypeOTPVerified, v1.OTPVerifiedPayload{
		Destination: destination,
		Success:     success,
		Reason:      reason,
		Issuer:      issuer,
		Timestamp:   e.now(),
	}))
}

// NormalizeDestination reduces a destination to its digits.
func NormalizeDestination(destination string) (string, error) {
	var b strings.Builder
	for _, r := range destination {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() < 5 {
		return "", ErrInvalidDestination
	}
	return b.String(), nil
}

// JID formats a normalized destination as a network address.
func JID(destination string) string {
	return destination + "@s.whatsapp.net"
}

// generateCode draws a 6-digit code uniformly from [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func newChallengeID(now time.Time) string {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return ""
	}
	return id.String()
}
