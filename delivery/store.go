package delivery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no delivery exists for an id.
var ErrNotFound = errors.New("delivery not found")

// ErrCompleted is returned by Update when the stored record already reached
// a terminal status. The write is discarded; terminal records never reopen.
var ErrCompleted = errors.New("delivery already completed")

// DefaultMaxEntries bounds the in-memory delivery history.
const DefaultMaxEntries = 10000

/* Store keeps delivery records in memory, bounded by oldest-first eviction.
 * Records are written whole (value copies), so readers never observe a
 * delivery mid-mutation. Rate-limited outcomes are tracked as counters, not
 * delivery records: no attempt is consumed when the limiter skips a cycle.
 */
type Store struct {
	mu          sync.RWMutex
	deliveries  map[string]Delivery
	rateLimited map[string]int64
	maxEntries  int
}

// NewStore creates a delivery store holding at most maxEntries records.
func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		deliveries:  make(map[string]Delivery),
		rateLimited: make(map[string]int64),
		maxEntries:  maxEntries,
	}
}

// Add inserts a new delivery record, evicting the oldest records, terminal
// ones first, when the store is full.
func (s *Store) Add(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.deliveries) >= s.maxEntries {
		s.evictOldest()
	}
	s.deliveries[d.ID] = d
	return nil
}

// Update replaces a delivery record after an attempt mutates it. The stored
// status is checked under the store's lock: once a record is terminal, for
// example abandoned because its subscription was deleted while an attempt
// was in flight, the update is refused and the record keeps its final state.
func (s *Store) Update(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.deliveries[d.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status.IsFinal() {
		return ErrCompleted
	}
	s.deliveries[d.ID] = d
	return nil
}

// Get retrieves a delivery with its full attempt history.
func (s *Store) Get(_ context.Context, id string) (Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return Delivery{}, ErrNotFound
	}
	return d, nil
}

// ListBySubscription returns deliveries for a subscription, newest first,
// optionally filtered by status. A zero status means no filter; a limit of
// zero means no limit.
func (s *Store) ListBySubscription(_ context.Context, subscriptionID string, status Status, limit int) ([]Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Delivery
	for _, d := range s.deliveries {
		if d.SubscriptionID != subscriptionID {
			continue
		}
		if status != 0 && d.Status != status {
			continue
		}
		result = append(result, d)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// RecordRateLimited counts a scheduling cycle skipped by the rate limiter.
func (s *Store) RecordRateLimited(_ context.Context, subscriptionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimited[subscriptionID]++
}

// MarkAbandoned fails every non-terminal delivery for a deleted subscription.
// Returns the ids of the deliveries it closed.
func (s *Store) MarkAbandoned(_ context.Context, subscriptionID string, reason string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var closed []string
	for id, d := range s.deliveries {
		if d.SubscriptionID != subscriptionID || d.Status.IsFinal() {
			continue
		}
		d.Status = Failed
		d.Error = reason
		d.NextAttemptAt = nil
		d.CompletedAt = &now
		s.deliveries[id] = d
		closed = append(closed, id)
	}
	return closed
}

// Stats aggregates delivery outcomes for a subscription.
func (s *Store) Stats(_ context.Context, subscriptionID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{SubscriptionID: subscriptionID, RateLimited: s.rateLimited[subscriptionID]}
	var lastCompleted time.Time
	for _, d := range s.deliveries {
		if d.SubscriptionID != subscriptionID {
			continue
		}
		stats.Total++
		switch d.Status {
		case Delivered:
			stats.Delivered++
		case Failed:
			stats.Failed++
		case Retrying:
			stats.Retrying++
		case Pending:
			stats.Pending++
		}
		if last, ok := d.LastAttempt(); ok && last.SentAt.After(lastCompleted) {
			lastCompleted = last.SentAt
			stats.LastLatency = last.Latency
		}
	}
	if terminal := stats.Delivered + stats.Failed; terminal > 0 {
		stats.SuccessRate = float64(stats.Delivered) / float64(terminal)
	}
	return stats, nil
}

// StatusCounts reports the number of deliveries per status across all
// subscriptions. Feeds the metrics exporter.
func (s *Store) StatusCounts(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, d := range s.deliveries {
		counts[d.Status.String()]++
	}
	return counts, nil
}

// RateLimitedTotal reports skipped scheduling cycles across subscriptions.
func (s *Store) RateLimitedTotal(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, n := range s.rateLimited {
		total += n
	}
	return total, nil
}

// evictOldest removes the oldest tenth of terminal records. Caller holds mu.
func (s *Store) evictOldest() {
	candidates := make([]Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.Status.IsFinal() {
			candidates = append(candidates, d)
		}
	}
	// A long-retrying backlog can leave nothing terminal to drop. The cap
	// still holds; the oldest live records go instead.
	if len(candidates) == 0 {
		for _, d := range s.deliveries {
			candidates = append(candidates, d)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	evict := len(s.deliveries) / 10
	if evict == 0 {
		evict = 1
	}
	for i := 0; i < evict && i < len(candidates); i++ {
		delete(s.deliveries, candidates[i].ID)
	}
}
