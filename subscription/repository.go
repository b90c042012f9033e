package subscription

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no subscription exists for an id.
var ErrNotFound = errors.New("subscription not found")

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 */

// Reader provides read operations for subscriptions
type Reader interface {
	Get(ctx context.Context, id string) (Subscription, error)
	List(ctx context.Context) ([]Subscription, error)
}

// Writer provides write operations for subscriptions
type Writer interface {
	Store(ctx context.Context, sub Subscription) error
	Update(ctx context.Context, sub Subscription) error
	Delete(ctx context.Context, id string) error
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	Reader
	Writer
	Close(ctx context.Context) error
}
