package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/clinicore/webhook-dispatch/subscription"
	"github.com/clinicore/webhook-dispatch/validate"
	"github.com/go-chi/chi/v5"
)

/* HTTP layer DTOs for the subscription API
 * Separate from domain entities to avoid leaking internal structure
 */

// retryPolicyPayload represents a retry policy in the API
type retryPolicyPayload struct {
	MaxRetries        int     `json:"maxRetries"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
	InitialDelayMs    int64   `json:"initialDelayMs"`
}

func (p *retryPolicyPayload) toDomain() *subscription.RetryPolicy {
	if p == nil {
		return nil
	}
	return &subscription.RetryPolicy{
		MaxRetries:        p.MaxRetries,
		BackoffMultiplier: p.BackoffMultiplier,
		InitialDelay:      time.Duration(p.InitialDelayMs) * time.Millisecond,
	}
}

// subscriptionRequest represents the incoming create payload
type subscriptionRequest struct {
	URL         string              `json:"url"`
	Events      []string            `json:"events"`
	Secret      string              `json:"secret,omitempty"`
	Headers     map[string]string   `json:"headers,omitempty"`
	RetryPolicy *retryPolicyPayload `json:"retryPolicy,omitempty"`
}

// subscriptionUpdateRequest represents a PATCH payload; nil fields are untouched
type subscriptionUpdateRequest struct {
	URL         *string             `json:"url,omitempty"`
	Events      []string            `json:"events,omitempty"`
	Secret      *string             `json:"secret,omitempty"`
	Headers     map[string]string   `json:"headers,omitempty"`
	RetryPolicy *retryPolicyPayload `json:"retryPolicy,omitempty"`
	Active      *bool               `json:"active,omitempty"`
}

// subscriptionResponse represents a subscription in the API
type subscriptionResponse struct {
	ID          string             `json:"id"`
	URL         string             `json:"url"`
	Events      []string           `json:"events"`
	Secret      string             `json:"secret,omitempty"`
	Headers     map[string]string  `json:"headers,omitempty"`
	RetryPolicy retryPolicyPayload `json:"retryPolicy"`
	Active      bool               `json:"active"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

func toSubscriptionResponse(sub subscription.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:      sub.ID,
		URL:     sub.URL,
		Events:  sub.Events,
		Secret:  sub.Secret,
		Headers: sub.Headers,
		RetryPolicy: retryPolicyPayload{
			MaxRetries:        sub.RetryPolicy.MaxRetries,
			BackoffMultiplier: sub.RetryPolicy.BackoffMultiplier,
			InitialDelayMs:    sub.RetryPolicy.InitialDelay.Milliseconds(),
		},
		Active:    sub.Active,
		CreatedAt: sub.CreatedAt,
		UpdatedAt: sub.UpdatedAt,
	}
}

// errorResponse carries a field-level validation message on 400 responses.
type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps domain errors onto status codes: validation failures are
// 400 with the offending field, missing records are 404.
func writeError(w http.ResponseWriter, err error) {
	var verr *validate.Error
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	case errors.Is(err, subscription.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "subscription not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// postSubscription handles POST /v1/subscriptions
func postSubscription(subs subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}

		created, err := subs.Create(r.Context(), subscription.CreateInput{
			URL:         req.URL,
			Events:      req.Events,
			Secret:      req.Secret,
			Headers:     req.Headers,
			RetryPolicy: req.RetryPolicy.toDomain(),
		})
		if err != nil {
			writeError(w, err)
			return
		}

		// The only response that ever carries the secret in plaintext.
		writeJSON(w, http.StatusCreated, toSubscriptionResponse(created))
	})
}

// getSubscriptions handles GET /v1/subscriptions
func getSubscriptions(subs subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		all, err := subs.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		result := make([]subscriptionResponse, 0, len(all))
		for _, sub := range all {
			result = append(result, toSubscriptionResponse(sub))
		}
		writeJSON(w, http.StatusOK, result)
	})
}

// getSubscription handles GET /v1/subscriptions/{id}
func getSubscription(subs subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := subs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
	})
}

// patchSubscription handles PATCH /v1/subscriptions/{id}
func patchSubscription(subs subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req subscriptionUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}

		var policy *subscription.RetryPolicy
		if req.RetryPolicy != nil {
			policy = req.RetryPolicy.toDomain()
		}

		updated, err := subs.Update(r.Context(), chi.URLParam(r, "id"), subscription.UpdateInput{
			URL:         req.URL,
			Events:      req.Events,
			Secret:      req.Secret,
			Headers:     req.Headers,
			RetryPolicy: policy,
			Active:      req.Active,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSubscriptionResponse(updated))
	})
}

// deleteSubscription handles DELETE /v1/subscriptions/{id}
func deleteSubscription(subs subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := subs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
