package delivery

import "time"

/* Delivery represents one logical delivery of an event to a subscription,
 * possibly spanning several HTTP attempts. Deliveries survive subscription
 * deletion for audit purposes, but no further attempts are scheduled.
 */
type Delivery struct {
	ID             string
	SubscriptionID string
	EventID        string
	EventType      string

	// Payload is the sanitized snapshot of what was sent, safe to persist
	// and return over the API. The transmitted bytes are never sanitized.
	Payload any

	Status        Status
	Attempts      []Attempt
	NextAttemptAt *time.Time
	Error         string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Attempt records the outcome of a single HTTP POST.
type Attempt struct {
	Number     int
	SentAt     time.Time
	HTTPStatus int
	Error      string
	Latency    time.Duration
}

// LastAttempt returns the most recent attempt, if any.
func (d Delivery) LastAttempt() (Attempt, bool) {
	if len(d.Attempts) == 0 {
		return Attempt{}, false
	}
	return d.Attempts[len(d.Attempts)-1], true
}

// Stats aggregates delivery outcomes for a subscription.
type Stats struct {
	SubscriptionID string
	Total          int64
	Delivered      int64
	Failed         int64
	Pending        int64
	Retrying       int64
	RateLimited    int64
	LastLatency    time.Duration
	SuccessRate    float64
}
