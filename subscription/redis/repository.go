// Package redis provides a Redis-backed subscription.Repository so registered
// destinations survive restarts.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/clinicore/webhook-dispatch/subscription"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of subscription.Repository
 * Uses Redis Hashes for subscription records and a Set as the id index
 */

const (
	hashPrefix = "subscription" // Hash naming: subscription:{id}
	indexKey   = "subscriptions:ids"
)

type Repository struct {
	client *redis.Client
}

// NewRepository creates a new Redis repository
func NewRepository(addr, password string, db int) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Repository{
		client: client,
	}, nil
}

// Store adds a subscription hash and indexes its id
func (r *Repository) Store(ctx context.Context, sub subscription.Subscription) error {
	if err := r.write(ctx, sub); err != nil {
		return err
	}
	if err := r.client.SAdd(ctx, indexKey, sub.ID).Err(); err != nil {
		return fmt.Errorf("indexing subscription: %w", err)
	}
	return nil
}

// Get retrieves a subscription by ID from its hash
func (r *Repository) Get(ctx context.Context, id string) (subscription.Subscription, error) {
	data, err := r.client.HGetAll(ctx, hashKey(id)).Result()
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("getting subscription: %w", err)
	}
	if len(data) == 0 {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	return fromHash(data)
}

// List returns every indexed subscription
func (r *Repository) List(ctx context.Context) ([]subscription.Subscription, error) {
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing subscription ids: %w", err)
	}

	subs := make([]subscription.Subscription, 0, len(ids))
	for _, id := range ids {
		sub, err := r.Get(ctx, id)
		if err == subscription.ErrNotFound {
			// Index can briefly outlive a deleted hash; skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Update rewrites the subscription hash
func (r *Repository) Update(ctx context.Context, sub subscription.Subscription) error {
	exists, err := r.client.Exists(ctx, hashKey(sub.ID)).Result()
	if err != nil {
		return fmt.Errorf("checking subscription: %w", err)
	}
	if exists == 0 {
		return subscription.ErrNotFound
	}
	return r.write(ctx, sub)
}

// Delete removes the hash and the index entry
func (r *Repository) Delete(ctx context.Context, id string) error {
	removed, err := r.client.Del(ctx, hashKey(id)).Result()
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if removed == 0 {
		return subscription.ErrNotFound
	}
	if err := r.client.SRem(ctx, indexKey, id).Err(); err != nil {
		return fmt.Errorf("unindexing subscription: %w", err)
	}
	return nil
}

// Close releases the Redis connection
func (r *Repository) Close(_ context.Context) error {
	return r.client.Close()
}

func (r *Repository) write(ctx context.Context, sub subscription.Subscription) error {
	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return fmt.Errorf("marshaling events: %w", err)
	}
	headersJSON, err := json.Marshal(sub.Headers)
	if err != nil {
		return fmt.Errorf("marshaling headers: %w", err)
	}

	err = r.client.HSet(ctx, hashKey(sub.ID), map[string]interface{}{
		"id":                 sub.ID,
		"url":                sub.URL,
		"events":             string(eventsJSON),
		"secret":             sub.Secret,
		"headers":            string(headersJSON),
		"max_retries":        sub.RetryPolicy.MaxRetries,
		"backoff_multiplier": strconv.FormatFloat(sub.RetryPolicy.BackoffMultiplier, 'f', -1, 64),
		"initial_delay_ms":   sub.RetryPolicy.InitialDelay.Milliseconds(),
		"active":             strconv.FormatBool(sub.Active),
		"created_at":         sub.CreatedAt.Unix(),
		"updated_at":         sub.UpdatedAt.Unix(),
	}).Err()
	if err != nil {
		return fmt.Errorf("storing subscription: %w", err)
	}
	return nil
}

func fromHash(data map[string]string) (subscription.Subscription, error) {
	var events []string
	if raw, ok := data["events"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &events); err != nil {
			return subscription.Subscription{}, fmt.Errorf("unmarshaling events: %w", err)
		}
	}

	headers := make(map[string]string)
	if raw, ok := data["headers"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &headers); err != nil {
			return subscription.Subscription{}, fmt.Errorf("unmarshaling headers: %w", err)
		}
	}

	multiplier, _ := strconv.ParseFloat(data["backoff_multiplier"], 64)
	active, _ := strconv.ParseBool(data["active"])

	return subscription.Subscription{
		ID:      data["id"],
		URL:     data["url"],
		Events:  events,
		Secret:  data["secret"],
		Headers: headers,
		RetryPolicy: subscription.RetryPolicy{
			MaxRetries:        int(parseInt64(data["max_retries"])),
			BackoffMultiplier: multiplier,
			InitialDelay:      time.Duration(parseInt64(data["initial_delay_ms"])) * time.Millisecond,
		},
		Active:    active,
		CreatedAt: time.Unix(parseInt64(data["created_at"]), 0),
		UpdatedAt: time.Unix(parseInt64(data["updated_at"]), 0),
	}, nil
}

func hashKey(id string) string {
	return fmt.Sprintf("%s:%s", hashPrefix, id)
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
