package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicore/webhook-dispatch/signature"
	"github.com/clinicore/webhook-dispatch/validate"
	"github.com/google/uuid"
)

/* Service represents the business logic layer
 * Uses pointer semantics as it's an API, not data
 */

// UseCase defines the business operations for subscription management
type UseCase interface {
	Create(ctx context.Context, input CreateInput) (Subscription, error)
	Get(ctx context.Context, id string) (Subscription, error)
	List(ctx context.Context) ([]Subscription, error)
	Update(ctx context.Context, id string, input UpdateInput) (Subscription, error)
	Delete(ctx context.Context, id string) error
	ResolveForEvent(ctx context.Context, eventType string) ([]Subscription, error)
}

// CreateInput carries the caller-supplied fields for a new subscription.
type CreateInput struct {
	URL         string
	Events      []string
	Secret      string
	Headers     map[string]string
	RetryPolicy *RetryPolicy
}

// UpdateInput carries a partial update; nil fields are left untouched and
// only the supplied ones are re-validated.
type UpdateInput struct {
	URL         *string
	Events      []string
	Secret      *string
	Headers     map[string]string
	RetryPolicy *RetryPolicy
	Active      *bool
}

type Service struct {
	Repo        Repository
	Environment string

	// onDelete hooks run after a successful delete, so the dispatcher can
	// cancel pending retries without the registry importing it.
	onDelete []func(id string)
}

// NewService creates a new subscription service with dependency injection
func NewService(repo Repository, environment string) *Service {
	return &Service{
		Repo:        repo,
		Environment: environment,
	}
}

// OnDelete registers a hook invoked with the subscription id after deletion.
func (s *Service) OnDelete(fn func(id string)) {
	s.onDelete = append(s.onDelete, fn)
}

// Create validates and stores a new subscription. The returned record is the
// only read that ever exposes the signing secret in plaintext.
func (s *Service) Create(ctx context.Context, input CreateInput) (Subscription, error) {
	if err := validate.URL(input.URL, s.Environment); err != nil {
		return Subscription{}, fmt.Errorf("validating url: %w", err)
	}
	if err := validateEvents(input.Events); err != nil {
		return Subscription{}, err
	}

	secret := input.Secret
	if secret == "" {
		generated, err := signature.GenerateSecret()
		if err != nil {
			return Subscription{}, fmt.Errorf("generating secret: %w", err)
		}
		secret = generated
	} else if err := validate.Secret(secret); err != nil {
		return Subscription{}, fmt.Errorf("validating secret: %w", err)
	}

	policy := DefaultRetryPolicy()
	if input.RetryPolicy != nil {
		policy = input.RetryPolicy.normalize()
	}

	now := time.Now()
	sub := Subscription{
		ID:          uuid.New().String(),
		URL:         input.URL,
		Events:      input.Events,
		Secret:      secret,
		Headers:     input.Headers,
		RetryPolicy: policy,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.Repo.Store(ctx, sub); err != nil {
		return Subscription{}, fmt.Errorf("storing subscription: %w", err)
	}

	return sub, nil
}

// Get returns the subscription with its secret masked.
func (s *Service) Get(ctx context.Context, id string) (Subscription, error) {
	sub, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Subscription{}, fmt.Errorf("getting subscription: %w", err)
	}
	return sub.Masked(), nil
}

// List returns all subscriptions with secrets masked.
func (s *Service) List(ctx context.Context) ([]Subscription, error) {
	subs, err := s.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	masked := make([]Subscription, len(subs))
	for i, sub := range subs {
		masked[i] = sub.Masked()
	}
	return masked, nil
}

// Update applies a partial update, re-validating only the changed fields.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (Subscription, error) {
	sub, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Subscription{}, fmt.Errorf("getting subscription: %w", err)
	}

	if input.URL != nil {
		if err := validate.URL(*input.URL, s.Environment); err != nil {
			return Subscription{}, fmt.Errorf("validating url: %w", err)
		}
		sub.URL = *input.URL
	}
	if input.Events != nil {
		if err := validateEvents(input.Events); err != nil {
			return Subscription{}, err
		}
		sub.Events = input.Events
	}
	if input.Secret != nil {
		if err := validate.Secret(*input.Secret); err != nil {
			return Subscription{}, fmt.Errorf("validating secret: %w", err)
		}
		sub.Secret = *input.Secret
	}
	if input.Headers != nil {
		sub.Headers = input.Headers
	}
	if input.RetryPolicy != nil {
		sub.RetryPolicy = input.RetryPolicy.normalize()
	}
	if input.Active != nil {
		sub.Active = *input.Active
	}
	sub.UpdatedAt = time.Now()

	if err := s.Repo.Update(ctx, sub); err != nil {
		return Subscription{}, fmt.Errorf("updating subscription: %w", err)
	}

	return sub.Masked(), nil
}

// Delete removes the subscription from the active set and notifies delete
// hooks so pending retries are cancelled.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.Repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	for _, fn := range s.onDelete {
		fn(id)
	}
	return nil
}

// ResolveForEvent returns all active subscriptions whose filter selects the
// event type, with secrets intact. Only the dispatcher consumes this; it is
// never exposed over HTTP.
func (s *Service) ResolveForEvent(ctx context.Context, eventType string) ([]Subscription, error) {
	subs, err := s.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	matched := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.Active && sub.WantsEvent(eventType) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

func validateEvents(events []string) error {
	if len(events) == 0 {
		return fmt.Errorf("validating events: %w", &validate.Error{Field: "events", Message: "at least one event type is required"})
	}
	for _, eventType := range events {
		if err := validate.EventType(eventType); err != nil {
			return fmt.Errorf("validating events: %w", err)
		}
	}
	return nil
}
