package subscription

import (
	"time"
)

/* Subscription represents a registered webhook destination
 * Uses value semantics as it represents data, not behavior
 */
type Subscription struct {
	ID          string
	URL         string
	Events      []string
	Secret      string
	Headers     map[string]string
	RetryPolicy RetryPolicy
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MaskedSecret is what every read after creation returns in place of the
// signing secret. The plaintext is visible exactly once, on create.
const MaskedSecret = "********"

// Masked returns a copy safe to return from list/get operations.
func (s Subscription) Masked() Subscription {
	if s.Secret != "" {
		s.Secret = MaskedSecret
	}
	return s
}

// WantsEvent reports whether the subscription's filter selects the event
// type, either exactly or through the wildcard.
func (s Subscription) WantsEvent(eventType string) bool {
	for _, filter := range s.Events {
		if filter == "*" || filter == eventType {
			return true
		}
	}
	return false
}

// RetryPolicy bounds the per-delivery retry state machine.
type RetryPolicy struct {
	MaxRetries        int
	BackoffMultiplier float64
	InitialDelay      time.Duration
}

// DefaultRetryPolicy is applied when a subscription is created without one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        5,
		BackoffMultiplier: 2.0,
		InitialDelay:      time.Second,
	}
}

// MaxBackoffDelay caps the computed delay so a misconfigured multiplier
// cannot push retries out indefinitely.
const MaxBackoffDelay = 5 * time.Minute

// NextDelay computes the wait before attempt number attempt+1, given that
// attempt attempts have already been made. Exponential:
// initialDelay * multiplier^(attempt-1), capped at MaxBackoffDelay.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.InitialDelay
	}
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.BackoffMultiplier
	}
	if delay > float64(MaxBackoffDelay) {
		return MaxBackoffDelay
	}
	return time.Duration(delay)
}

// normalize fills zero-valued fields with the defaults.
func (p RetryPolicy) normalize() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = def.BackoffMultiplier
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	return p
}
