package dispatch_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/clinicore/webhook-dispatch/delivery"
	"github.com/clinicore/webhook-dispatch/dispatch"
	"github.com/clinicore/webhook-dispatch/event"
	"github.com/clinicore/webhook-dispatch/ratelimit"
	"github.com/clinicore/webhook-dispatch/signature"
	"github.com/clinicore/webhook-dispatch/subscription"
	"github.com/clinicore/webhook-dispatch/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// stubRegistry returns a fixed subscription set for every event type.
type stubRegistry struct {
	subs []subscription.Subscription
}

func (r *stubRegistry) ResolveForEvent(_ context.Context, eventType string) ([]subscription.Subscription, error) {
	matched := make([]subscription.Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.Active && sub.WantsEvent(eventType) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

func testSubscription(url string, policy subscription.RetryPolicy) subscription.Subscription {
	return subscription.Subscription{
		ID:          "sub-1",
		URL:         url,
		Events:      []string{"*"},
		Secret:      testSecret,
		Headers:     map[string]string{"X-Tenant": "clinic-42"},
		RetryPolicy: policy,
		Active:      true,
	}
}

func fastPolicy(maxRetries int) subscription.RetryPolicy {
	return subscription.RetryPolicy{
		MaxRetries:        maxRetries,
		BackoffMultiplier: 2.0,
		InitialDelay:      time.Millisecond,
	}
}

func newDispatcher(t *testing.T, registry dispatch.Registry, store *delivery.Store, limiter *ratelimit.Limiter) *dispatch.Dispatcher {
	t.Helper()
	d := dispatch.NewDispatcher(registry, store, limiter, dispatch.Options{
		Timeout:     2 * time.Second,
		Environment: validate.Development,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d.Start(ctx)
	t.Cleanup(d.Stop)
	return d
}

func onlyDelivery(t *testing.T, store *delivery.Store, subscriptionID string) delivery.Delivery {
	t.Helper()
	deliveries, err := store.ListBySubscription(context.Background(), subscriptionID, 0, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	return deliveries[0]
}

func TestTriggerDeliversOnFirstAttempt(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	var gotHeader http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		gotHeader = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := delivery.NewStore(0)
	registry := &stubRegistry{subs: []subscription.Subscription{testSubscription(server.URL, fastPolicy(3))}}
	d := newDispatcher(t, registry, store, ratelimit.New(0, 0))

	ev, err := d.Trigger(context.Background(), "patient.created", map[string]any{"patient_id": "pat-1"}, map[string]string{"source": "ehr"})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)

	require.Eventually(t, func() bool {
		rec, err := store.ListBySubscription(context.Background(), "sub-1", delivery.Delivered, 0)
		return err == nil && len(rec) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := onlyDelivery(t, store, "sub-1")
	assert.Equal(t, ev.ID, rec.EventID)
	assert.Equal(t, "patient.created", rec.EventType)
	require.Len(t, rec.Attempts, 1)
	assert.Equal(t, http.StatusOK, rec.Attempts[0].HTTPStatus)
	assert.NotNil(t, rec.CompletedAt)
	assert.Nil(t, rec.NextAttemptAt)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "clinic-42", gotHeader.Get("X-Tenant"))

	// The received body verifies against the subscription secret.
	ts, err := signature.ParseTimestamp(gotHeader.Get(signature.TimestampHeader))
	require.NoError(t, err)
	require.NoError(t, signature.Verify(signature.VerifyInput{
		Payload:   gotBody,
		Signature: gotHeader.Get(signature.SignatureHeader),
		Secret:    testSecret,
		Timestamp: ts,
	}))

	var envelope event.Event
	require.NoError(t, json.Unmarshal(gotBody, &envelope))
	assert.Equal(t, ev.ID, envelope.ID)
}

func TestTriggerRetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := delivery.NewStore(0)
	registry := &stubRegistry{subs: []subscription.Subscription{testSubscription(server.URL, fastPolicy(3))}}
	d := newDispatcher(t, registry, store, ratelimit.New(0, 0))

	_, err := d.Trigger(context.Background(), "order.created", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := store.ListBySubscription(context.Background(), "sub-1", delivery.Delivered, 0)
		return err == nil && len(rec) == 1
	}, 3*time.Second, 10*time.Millisecond)

	rec := onlyDelivery(t, store, "sub-1")
	require.Len(t, rec.Attempts, 2)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Attempts[0].HTTPStatus)
	assert.Equal(t, http.StatusOK, rec.Attempts[1].HTTPStatus)
	assert.Empty(t, rec.Error)
}

func TestTriggerFailsAfterMaxRetries(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := delivery.NewStore(0)
	registry := &stubRegistry{subs: []subscription.Subscription{testSubscription(server.URL, fastPolicy(2))}}
	d := newDispatcher(t, registry, store, ratelimit.New(0, 0))

	_, err := d.Trigger(context.Background(), "patient.deleted", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := store.ListBySubscription(context.Background(), "sub-1", delivery.Failed, 0)
		return err == nil && len(rec) == 1
	}, 3*time.Second, 10*time.Millisecond)

	rec := onlyDelivery(t, store, "sub-1")
	// MaxRetries is the total attempt ceiling, not additional retries.
	require.Len(t, rec.Attempts, 2)
	assert.Contains(t, rec.Error, "max retries exceeded")
	assert.NotNil(t, rec.CompletedAt)

	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestTriggerSkipsRateLimitedSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := delivery.NewStore(0)
	limiter := ratelimit.New(1, time.Minute)
	limiter.Record("sub-1") // window already full
	registry := &stubRegistry{subs: []subscription.Subscription{testSubscription(server.URL, fastPolicy(3))}}
	d := newDispatcher(t, registry, store, limiter)

	_, err := d.Trigger(context.Background(), "patient.created", nil, nil)
	require.NoError(t, err)

	// No record, no attempt: backpressure is a counter, not a delivery.
	deliveries, err := store.ListBySubscription(context.Background(), "sub-1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, deliveries)

	total, err := store.RateLimitedTotal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	stats, err := store.Stats(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RateLimited)
}

func TestTriggerRejectsBadInput(t *testing.T) {
	store := delivery.NewStore(0)
	registry := &stubRegistry{}

	t.Run("unknown event type", func(t *testing.T) {
		d := dispatch.NewDispatcher(registry, store, ratelimit.New(0, 0), dispatch.Options{
			Environment: validate.Development,
			Catalog:     event.DefaultCatalog(),
		})

		_, err := d.Trigger(context.Background(), "galaxy.exploded", nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown event type")
	})

	t.Run("malformed event type", func(t *testing.T) {
		d := dispatch.NewDispatcher(registry, store, ratelimit.New(0, 0), dispatch.Options{
			Environment: validate.Development,
		})

		_, err := d.Trigger(context.Background(), "NotAnEvent", nil, nil)
		require.Error(t, err)
	})

	t.Run("oversized payload", func(t *testing.T) {
		d := dispatch.NewDispatcher(registry, store, ratelimit.New(0, 0), dispatch.Options{
			Environment:     validate.Development,
			MaxPayloadBytes: 64,
		})

		_, err := d.Trigger(context.Background(), "patient.created", map[string]any{
			"blob": string(make([]byte, 128)),
		}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validating payload")
	})
}

func TestTriggerSanitizesStoredSnapshot(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := delivery.NewStore(0)
	registry := &stubRegistry{subs: []subscription.Subscription{testSubscription(server.URL, fastPolicy(3))}}
	d := newDispatcher(t, registry, store, ratelimit.New(0, 0))

	_, err := d.Trigger(context.Background(), "patient.created", map[string]any{
		"patient_id": "pat-1",
		"ssn":        "123-45-6789",
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := store.ListBySubscription(context.Background(), "sub-1", delivery.Delivered, 0)
		return err == nil && len(rec) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := onlyDelivery(t, store, "sub-1")
	snapshot := rec.Payload.(map[string]any)
	data := snapshot["data"].(map[string]any)
	assert.Equal(t, validate.RedactedValue, data["ssn"])
	assert.Equal(t, "pat-1", data["patient_id"])

	// The wire bytes carry the real value; only the stored snapshot is
	// redacted.
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, string(gotBody), "123-45-6789")
}

func TestCancelSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := delivery.NewStore(0)
	limiter := ratelimit.New(0, 0)
	// A long initial delay keeps the retry parked in the scheduler.
	policy := subscription.RetryPolicy{MaxRetries: 5, BackoffMultiplier: 2.0, InitialDelay: time.Hour}
	registry := &stubRegistry{subs: []subscription.Subscription{testSubscription(server.URL, policy)}}
	d := newDispatcher(t, registry, store, limiter)

	_, err := d.Trigger(context.Background(), "patient.created", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := store.ListBySubscription(context.Background(), "sub-1", delivery.Retrying, 0)
		return err == nil && len(rec) == 1
	}, 2*time.Second, 10*time.Millisecond)

	pending, err := d.PendingRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	d.CancelSubscription("sub-1")

	pending, err = d.PendingRetries(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)

	rec := onlyDelivery(t, store, "sub-1")
	assert.Equal(t, delivery.Failed, rec.Status)
	assert.Equal(t, dispatch.AbandonReason, rec.Error)
	assert.Nil(t, rec.NextAttemptAt)
}

func TestStatusCountsCollector(t *testing.T) {
	store := delivery.NewStore(0)
	require.NoError(t, store.Add(context.Background(), delivery.Delivery{ID: "d1", Status: delivery.Delivered, CreatedAt: time.Now()}))
	require.NoError(t, store.Add(context.Background(), delivery.Delivery{ID: "d2", Status: delivery.Failed, CreatedAt: time.Now()}))

	d := dispatch.NewDispatcher(&stubRegistry{}, store, ratelimit.New(0, 0), dispatch.Options{})

	counts, err := d.StatusCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["delivered"])
	assert.Equal(t, int64(1), counts["failed"])

	total, err := d.RateLimitedTotal(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}
