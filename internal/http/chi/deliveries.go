package chi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/clinicore/webhook-dispatch/delivery"
	"github.com/clinicore/webhook-dispatch/dispatch"
	"github.com/clinicore/webhook-dispatch/event"
	"github.com/clinicore/webhook-dispatch/ratelimit"
	"github.com/clinicore/webhook-dispatch/signature"
	"github.com/clinicore/webhook-dispatch/subscription"
	"github.com/go-chi/chi/v5"
)

// triggerRequest represents the manual trigger payload
type triggerRequest struct {
	Event    string            `json:"event"`
	Data     json.RawMessage   `json:"data"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// triggerResponse echoes the accepted event for correlation
type triggerResponse struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// attemptResponse represents one HTTP attempt in the API
type attemptResponse struct {
	AttemptNumber int       `json:"attemptNumber"`
	SentAt        time.Time `json:"sentAt"`
	HTTPStatus    int       `json:"httpStatus,omitempty"`
	Error         string    `json:"error,omitempty"`
	LatencyMs     int64     `json:"latencyMs"`
}

// deliveryResponse represents a delivery with its attempt history
type deliveryResponse struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscriptionId"`
	EventID        string            `json:"eventId"`
	EventType      string            `json:"eventType"`
	Payload        any               `json:"payload,omitempty"`
	Status         string            `json:"status"`
	Attempts       []attemptResponse `json:"attempts"`
	NextAttemptAt  *time.Time        `json:"nextAttemptAt,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
}

func toDeliveryResponse(d delivery.Delivery) deliveryResponse {
	attempts := make([]attemptResponse, 0, len(d.Attempts))
	for _, att := range d.Attempts {
		attempts = append(attempts, attemptResponse{
			AttemptNumber: att.Number,
			SentAt:        att.SentAt,
			HTTPStatus:    att.HTTPStatus,
			Error:         att.Error,
			LatencyMs:     att.Latency.Milliseconds(),
		})
	}
	return deliveryResponse{
		ID:             d.ID,
		SubscriptionID: d.SubscriptionID,
		EventID:        d.EventID,
		EventType:      d.EventType,
		Payload:        d.Payload,
		Status:         d.Status.String(),
		Attempts:       attempts,
		NextAttemptAt:  d.NextAttemptAt,
		Error:          d.Error,
		CreatedAt:      d.CreatedAt,
		CompletedAt:    d.CompletedAt,
	}
}

// statsResponse aggregates outcomes plus remaining rate-limit quota
type statsResponse struct {
	SubscriptionID     string  `json:"subscriptionId"`
	Total              int64   `json:"total"`
	Delivered          int64   `json:"delivered"`
	Failed             int64   `json:"failed"`
	Pending            int64   `json:"pending"`
	Retrying           int64   `json:"retrying"`
	RateLimited        int64   `json:"rateLimited"`
	LastLatencyMs      int64   `json:"lastLatencyMs"`
	SuccessRate        float64 `json:"successRate"`
	RateLimitRemaining int     `json:"rateLimitRemaining"`
}

// postTrigger handles POST /v1/trigger — fire-and-forget fan-out
func postTrigger(dispatcher *dispatch.Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req triggerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}

		var data any
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &data); err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "data must be valid JSON", Field: "data"})
				return
			}
		}

		ev, err := dispatcher.Trigger(r.Context(), req.Event, data, req.Metadata)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		// Fan-out is scheduled, not complete: 202.
		writeJSON(w, http.StatusAccepted, triggerResponse{
			EventID:   ev.ID,
			EventType: ev.Type,
			Timestamp: ev.Timestamp,
		})
	})
}

// getDelivery handles GET /v1/deliveries/{id}
func getDelivery(store *delivery.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := store.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "delivery not found"})
			return
		}
		writeJSON(w, http.StatusOK, toDeliveryResponse(d))
	})
}

// getSubscriptionDeliveries handles GET /v1/subscriptions/{id}/deliveries
func getSubscriptionDeliveries(subs subscription.UseCase, store *delivery.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := subs.Get(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}

		var status delivery.Status
		if s := r.URL.Query().Get("status"); s != "" {
			parsed, err := delivery.ParseStatus(s)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "status must be one of pending, retrying, delivered, failed"})
				return
			}
			status = parsed
		}
		limit := 0
		if l := r.URL.Query().Get("limit"); l != "" {
			parsed, err := strconv.Atoi(l)
			if err != nil || parsed < 0 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
				return
			}
			limit = parsed
		}

		deliveries, err := store.ListBySubscription(r.Context(), id, status, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		result := make([]deliveryResponse, 0, len(deliveries))
		for _, d := range deliveries {
			result = append(result, toDeliveryResponse(d))
		}
		writeJSON(w, http.StatusOK, result)
	})
}

// getSubscriptionStats handles GET /v1/subscriptions/{id}/stats
func getSubscriptionStats(subs subscription.UseCase, store *delivery.Store, limiter *ratelimit.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := subs.Get(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}

		stats, err := store.Stats(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{
			SubscriptionID:     stats.SubscriptionID,
			Total:              stats.Total,
			Delivered:          stats.Delivered,
			Failed:             stats.Failed,
			Pending:            stats.Pending,
			Retrying:           stats.Retrying,
			RateLimited:        stats.RateLimited,
			LastLatencyMs:      stats.LastLatency.Milliseconds(),
			SuccessRate:        stats.SuccessRate,
			RateLimitRemaining: limiter.Remaining(id),
		})
	})
}

// postGenerateSecret handles POST /v1/generate-secret
func postGenerateSecret() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret, err := signature.GenerateSecret()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
	})
}

// getEvents handles GET /v1/events — the static event-type catalog
func getEvents(catalog *event.Catalog) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, catalog.List())
	})
}

// testRequest represents the synchronous endpoint probe payload
type testRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

// testResponse reports the probe outcome
type testResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode,omitempty"`
	LatencyMs  int64  `json:"latencyMs"`
	Error      string `json:"error,omitempty"`
	Secret     string `json:"secret,omitempty"`
}

// postTest handles POST /v1/test — one synchronous webhook.test delivery
func postTest(dispatcher *dispatch.Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req testRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}

		result, err := dispatcher.SendTest(r.Context(), req.URL, req.Secret)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, testResponse{
			Success:    result.Success,
			StatusCode: result.StatusCode,
			LatencyMs:  result.Latency.Milliseconds(),
			Error:      result.Error,
			Secret:     result.Secret,
		})
	})
}
