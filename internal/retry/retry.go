// Package retry provides the named backoff policies used across the
// system: the worker's bounded request retries and the scheduler's
// crash-recovery schedule. Every retry site refers to one of these
// instead of computing its own delays.
package retry

import (
	"math/rand"
	"time"
)

// Policy is an exponential backoff schedule: delay(n) = base * factor^n,
// capped at Cap, for up to MaxAttempts attempts. Jitter adds up to
// +/-Jitter fraction of randomness to avoid synchronized retries.
type Policy struct {
	BaseDelay   time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int
	Jitter      float64
}

// WorkerRetryPolicy is the parsing worker's per-message retry schedule:
// 1s, 2s, 4s with the default base delay and three attempts.
func WorkerRetryPolicy(baseDelay time.Duration, maxAttempts int) Policy {
	return Policy{
		BaseDelay:   baseDelay,
		Factor:      2,
		Cap:         baseDelay * (1 << uint(maxAttempts)),
		MaxAttempts: maxAttempts,
	}
}

// SchedulerRecoveryPolicy is the scheduler loop's crash-recovery
// schedule: 60s doubling, capped at 10 minutes, up to 10 attempts with
// the default settings.
func SchedulerRecoveryPolicy(baseDelay, cap time.Duration, maxAttempts int) Policy {
	return Policy{
		BaseDelay:   baseDelay,
		Factor:      2,
		Cap:         cap,
		MaxAttempts: maxAttempts,
	}
}

// NextDelay returns the delay before attempt number n (1-indexed). A
// zero or negative n is treated as 1.
func (p Policy) NextDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		delay *= p.Factor
		if time.Duration(delay) >= p.Cap {
			delay = float64(p.Cap)
			break
		}
	}
	if p.Jitter > 0 {
		delta := delay * p.Jitter
		delay += (rand.Float64()*2 - 1) * delta
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Exhausted reports whether attempt n has used up the policy's budget.
func (p Policy) Exhausted(n int) bool {
	return n >= p.MaxAttempts
}
