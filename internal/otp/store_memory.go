package otp

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is the dev fallback when no database is configured.
// All operations run under one mutex, which also makes match-and-mark
// trivially atomic.
type InMemoryStore struct {
	mu   sync.Mutex
	rows []*Challenge
}

// NewInMemoryStore constructs an in-memory LedgerStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Append persists a challenge row.
func (s *InMemoryStore) Append(ctx context.Context, ch Challenge) error {
	if ch.ID == "" || ch.Destination == "" || ch.Code == "" {
		return errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := ch
	s.rows = append(s.rows, &row)
	return nil
}

// MarkVerified flips the most recently issued eligible challenge to verified.
func (s *InMemoryStore) MarkVerified(ctx context.Context, destination, code string, now time.Time) (Challenge, error) {
	if err := ctx.Err(); err != nil {
		return Challenge{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Newest first: among several outstanding codes the latest one wins.
	for i := len(s.rows) - 1; i >= 0; i-- {
		row := s.rows[i]
		if row.Verified || row.Destination != destination || row.Code != code {
			continue
		}
		if now.After(row.ExpiresAt) {
			continue
		}

		row.Verified = true
		ts := now
		row.VerifiedAt = &ts
		return *row, nil
	}

	return Challenge{}, ErrInvalidOrExpired
}

// ListByIssuer returns the issuer's challenges, most recent first.
func (s *InMemoryStore) ListByIssuer(ctx context.Context, issuer string, limit int) ([]Challenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	out := make([]Challenge, 0, limit)
	for _, row := range s.rows {
		if row.Issuer == issuer {
			out = append(out, *row)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Evict drops rows issued before olderThan. Runs under the same mutex as
// MarkVerified, so it can never remove a row mid-verification.
func (s *InMemoryStore) Evict(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rows[:0]
	var removed int64
	for _, row := range s.rows {
		if row.IssuedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	s.rows = kept
	return removed, nil
}
