// Package memory provides the in-memory subscription.Repository used in
// development and tests, and as the default storage backend.
package memory

import (
	"context"
	"sync"

	"github.com/clinicore/webhook-dispatch/subscription"
)

type Repository struct {
	mu   sync.RWMutex
	subs map[string]subscription.Subscription
}

// NewRepository creates an empty in-memory repository
func NewRepository() *Repository {
	return &Repository{
		subs: make(map[string]subscription.Subscription),
	}
}

// Store adds a subscription
func (r *Repository) Store(_ context.Context, sub subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = sub
	return nil
}

// Get retrieves a subscription by ID
func (r *Repository) Get(_ context.Context, id string) (subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	return sub, nil
}

// List returns all subscriptions
func (r *Repository) List(_ context.Context) ([]subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := make([]subscription.Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	return subs, nil
}

// Update replaces a stored subscription
func (r *Repository) Update(_ context.Context, sub subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; !ok {
		return subscription.ErrNotFound
	}
	r.subs[sub.ID] = sub
	return nil
}

// Delete removes a subscription
func (r *Repository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return subscription.ErrNotFound
	}
	delete(r.subs, id)
	return nil
}

// Close is a no-op for the in-memory backend
func (r *Repository) Close(_ context.Context) error {
	return nil
}
