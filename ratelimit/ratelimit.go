// Package ratelimit gates delivery scheduling per subscription with a
// sliding-window counter, so one noisy destination cannot starve the others.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultLimit is the number of deliveries allowed per window.
	DefaultLimit = 100

	// DefaultWindow is the trailing window deliveries are counted over.
	DefaultWindow = time.Minute
)

// Limiter tracks delivery timestamps per subscription within a trailing
// window. Bookkeeping is serialized per key; the outer map lock is held only
// long enough to locate the key's window, never across a prune.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	limit   int
	span    time.Duration
	now     func() time.Time
}

// window holds the attempt timestamps for one subscription. gone is set,
// under mu, when the window is removed from the map; stamps recorded into a
// removed window would otherwise be invisible to later lookups.
type window struct {
	mu     sync.Mutex
	stamps []time.Time
	gone   bool
}

// New creates a Limiter allowing limit deliveries per span. Non-positive
// arguments fall back to the defaults.
func New(limit int, span time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if span <= 0 {
		span = DefaultWindow
	}
	return &Limiter{
		windows: make(map[string]*window),
		limit:   limit,
		span:    span,
		now:     time.Now,
	}
}

// CanSend reports whether another delivery may be scheduled for the
// subscription right now. It prunes expired entries as a side effect.
func (l *Limiter) CanSend(subscriptionID string) bool {
	w := l.acquire(subscriptionID)
	defer w.mu.Unlock()
	return len(l.prune(w)) < l.limit
}

// Record registers a delivery attempt for the subscription at the current
// time. Call it only after CanSend allowed the attempt.
func (l *Limiter) Record(subscriptionID string) {
	w := l.acquire(subscriptionID)
	defer w.mu.Unlock()
	w.stamps = append(l.prune(w), l.now())
}

// Remaining reports how many deliveries are still allowed in the current
// window. Never negative.
func (l *Limiter) Remaining(subscriptionID string) int {
	w := l.acquire(subscriptionID)
	defer w.mu.Unlock()
	remaining := l.limit - len(l.prune(w))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset discards the window for a subscription, typically on deletion.
func (l *Limiter) Reset(subscriptionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remove(subscriptionID)
}

// Cleanup removes windows that no longer hold any in-window timestamps,
// bounding memory across many short-lived subscriptions. Intended to run
// periodically from a background goroutine.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, w := range l.windows {
		w.mu.Lock()
		empty := len(l.prune(w)) == 0
		w.mu.Unlock()
		if empty {
			l.remove(id)
		}
	}
}

// remove unmaps a window and marks it gone so any caller that already holds
// a reference discards it instead of recording into an orphan. Caller holds
// l.mu for writing.
func (l *Limiter) remove(subscriptionID string) {
	w, ok := l.windows[subscriptionID]
	if !ok {
		return
	}
	w.mu.Lock()
	w.gone = true
	w.stamps = nil
	w.mu.Unlock()
	delete(l.windows, subscriptionID)
}

// acquire returns the subscription's live window with its mutex held; the
// caller unlocks. A window removed between lookup and lock is retried, so
// bookkeeping never lands in a struct the map no longer points at.
func (l *Limiter) acquire(subscriptionID string) *window {
	for {
		w := l.window(subscriptionID)
		w.mu.Lock()
		if !w.gone {
			return w
		}
		w.mu.Unlock()
	}
}

// window returns the per-subscription window, creating it when absent.
func (l *Limiter) window(subscriptionID string) *window {
	l.mu.RLock()
	w, ok := l.windows[subscriptionID]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[subscriptionID]; ok {
		return w
	}
	w = &window{}
	l.windows[subscriptionID] = w
	return w
}

// prune drops timestamps older than the window span. Caller holds w.mu.
func (l *Limiter) prune(w *window) []time.Time {
	cutoff := l.now().Add(-l.span)
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept
	return kept
}
