// Package metrics exposes delivery-engine observability in Prometheus format
// through the OpenTelemetry metric SDK.
package metrics

import (
	"context"
)

// Collector defines the interface for collecting metrics from the delivery engine.
type Collector interface {
	// StatusCounts returns the number of deliveries per status
	StatusCounts(ctx context.Context) (map[string]int64, error)

	// RateLimitedTotal returns the number of scheduling cycles skipped by
	// the rate limiter
	RateLimitedTotal(ctx context.Context) (int64, error)

	// PendingRetries returns the number of scheduled retry tasks
	PendingRetries(ctx context.Context) (int64, error)
}
