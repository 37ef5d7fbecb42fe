// Package retry implements the bounded exponential backoff policy applied
// between dispatch attempts of the same delivery.
package retry

import (
	"math"
	"time"
)

// Policy configures the backoff schedule. Attempt n (1-based) is delayed
// Base * 2^(n-1) from the previous attempt, capped at Max.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultPolicy matches the production defaults: 1 minute doubling up to 30
// minutes.
func DefaultPolicy() Policy {
	return Policy{Base: time.Minute, Max: 30 * time.Minute}
}

// Delay returns the wait before the given attempt. The schedule is
// non-decreasing by construction.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// NextRetryAt returns the wall-clock time of the next attempt after a failure
// of the given attempt number.
func (p Policy) NextRetryAt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}
