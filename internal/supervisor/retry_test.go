package supervisor

import (
	"testing"
	"time"
)

func TestConflictDelayCurve(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 5, Base: 5 * time.Second, Cap: 60 * time.Second}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: 5 * time.Second},
		{attempts: 1, want: 7500 * time.Millisecond},
		{attempts: 2, want: 11250 * time.Millisecond},
		{attempts: 3, want: 16875 * time.Millisecond},
	}

	for _, tc := range cases {
		p.Attempts = tc.attempts
		if got := p.ConflictDelay(); got != tc.want {
			t.Fatalf("ConflictDelay(attempts=%d)=%v want=%v", tc.attempts, got, tc.want)
		}
	}
}

func TestErrorDelayCurveCapped(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 5, Base: 5 * time.Second, Cap: 60 * time.Second}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 1, want: 5 * time.Second},
		{attempts: 2, want: 10 * time.Second},
		{attempts: 3, want: 20 * time.Second},
		{attempts: 4, want: 40 * time.Second},
		{attempts: 5, want: 60 * time.Second},
		{attempts: 6, want: 60 * time.Second},
	}

	for _, tc := range cases {
		p.Attempts = tc.attempts
		if got := p.ErrorDelay(); got != tc.want {
			t.Fatalf("ErrorDelay(attempts=%d)=%v want=%v", tc.attempts, got, tc.want)
		}
	}
}

func TestExceededOnlyPastBudget(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 5, Base: time.Second}

	for i := 0; i < 5; i++ {
		p.Increment()
		if p.Exceeded() {
			t.Fatalf("Exceeded() true at attempts=%d, budget=%d", p.Attempts, p.MaxAttempts)
		}
	}

	p.Increment()
	if !p.Exceeded() {
		t.Fatalf("Exceeded() false at attempts=%d, budget=%d", p.Attempts, p.MaxAttempts)
	}

	p.Reset()
	if p.Attempts != 0 || p.Exceeded() {
		t.Fatalf("Reset() did not clear the counter: attempts=%d", p.Attempts)
	}
}

func TestFixedDelayIsBase(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{Base: 5 * time.Second}
	p.Attempts = 3

	if got := p.FixedDelay(); got != 5*time.Second {
		t.Fatalf("FixedDelay()=%v want=%v", got, 5*time.Second)
	}
}
