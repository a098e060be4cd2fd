package otp

import (
	"context"
	"time"
)

// Challenge is one issued OTP code with its validity window and outcome.
// A challenge flips verified=false -> true exactly once; rows are never
// deleted explicitly and leave the ledger only via retention eviction.
type Challenge struct {
	ID          string
	Destination string
	Code        string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Verified    bool
	VerifiedAt  *time.Time
	Issuer      string
}

// LedgerStore persists and queries challenges.
//
// Requirements:
//   - MarkVerified is a single atomic match-and-mark: under concurrent calls
//     racing on the same eligible challenge, exactly one succeeds.
//   - Eligibility: verified=false, destination and code match, now <= expiresAt.
//     Among eligible rows the most recently issued wins.
//   - Evict never removes a row mid-verification.
type LedgerStore interface {
	Append(ctx context.Context, ch Challenge) error
	MarkVerified(ctx context.Context, destination, code string, now time.Time) (Challenge, error)
	ListByIssuer(ctx context.Context, issuer string, limit int) ([]Challenge, error)
	Evict(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}
