package supervisor

import (
	"math"
	"time"
)

// RetryPolicy tracks consecutive failed attempts and computes the remediation
// delay for each failure class.
//
// The two curves are deliberately different: conflicts self-resolve when the
// competing session ends, so they back off gently (1.5x, uncapped within the
// attempt budget), while repeated construction failures point at a systemic
// fault and back off steeply (2x, capped).
type RetryPolicy struct {
	Attempts    int
	MaxAttempts int

	Base time.Duration
	Cap  time.Duration
}

// Increment records one retryable failure.
func (p *RetryPolicy) Increment() {
	p.Attempts++
}

// Reset clears the attempt counter. Called when an attempt reaches online or
// when a fresh scanning credential is issued.
func (p *RetryPolicy) Reset() {
	p.Attempts = 0
}

// Exceeded reports whether the attempt budget has been crossed.
func (p *RetryPolicy) Exceeded() bool {
	return p.Attempts > p.MaxAttempts
}

// ConflictDelay is Base * 1.5^Attempts.
func (p *RetryPolicy) ConflictDelay() time.Duration {
	return time.Duration(float64(p.Base) * math.Pow(1.5, float64(p.Attempts)))
}

// ErrorDelay is min(Base * 2^(Attempts-1), Cap).
func (p *RetryPolicy) ErrorDelay() time.Duration {
	n := p.Attempts
	if n < 1 {
		n = 1
	}
	d := time.Duration(float64(p.Base) * math.Pow(2, float64(n-1)))
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}

// FixedDelay is the flat delay used for timeout/unknown closures and for the
// post-logout rescan retry.
func (p *RetryPolicy) FixedDelay() time.Duration {
	return p.Base
}
