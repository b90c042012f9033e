// Package dispatch fans triggered events out to matching subscriptions and
// drives the per-delivery retry state machine. Delivery failures never
// propagate to the caller of Trigger: the business operation that produced
// an event must not fail because a subscriber is down.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clinicore/webhook-dispatch/delivery"
	"github.com/clinicore/webhook-dispatch/event"
	"github.com/clinicore/webhook-dispatch/ratelimit"
	"github.com/clinicore/webhook-dispatch/subscription"
	"github.com/clinicore/webhook-dispatch/validate"
	"github.com/google/uuid"
)

// DefaultTimeout bounds each outbound HTTP attempt.
const DefaultTimeout = 10 * time.Second

// AbandonReason marks deliveries closed because their subscription was deleted.
const AbandonReason = "subscription_deleted"

// Registry is the slice of the subscription service the dispatcher needs:
// resolving the active, secret-bearing subscriptions for an event type.
type Registry interface {
	ResolveForEvent(ctx context.Context, eventType string) ([]subscription.Subscription, error)
}

// Options tune a Dispatcher. Zero values fall back to sane defaults.
type Options struct {
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration

	// Environment selects the URL validation rules (validate.Production
	// rejects private hosts). Empty behaves like production, the safe side.
	Environment string

	// Catalog, when set, restricts Trigger to known event types.
	Catalog *event.Catalog

	// MaxPayloadBytes caps the serialized envelope; zero means the
	// validate package default.
	MaxPayloadBytes int

	// Logger receives per-attempt outcomes. Nil means slog.Default.
	Logger *slog.Logger
}

type Dispatcher struct {
	registry  Registry
	store     *delivery.Store
	limiter   *ratelimit.Limiter
	scheduler *Scheduler
	client    *http.Client
	opts      Options
	log       *slog.Logger
}

// NewDispatcher wires the dispatcher from explicit, injected collaborators.
func NewDispatcher(registry Registry, store *delivery.Store, limiter *ratelimit.Limiter, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Environment == "" {
		opts.Environment = validate.Production
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		registry:  registry,
		store:     store,
		limiter:   limiter,
		scheduler: NewScheduler(),
		client:    &http.Client{Timeout: opts.Timeout},
		opts:      opts,
		log:       log.With("component", "dispatcher"),
	}
}

// Start begins the retry scheduler. Call Stop (or cancel the context) on
// shutdown; pending retries are dropped, not drained.
func (d *Dispatcher) Start(ctx context.Context) {
	d.scheduler.Start(ctx)
}

// Stop halts the retry scheduler.
func (d *Dispatcher) Stop() {
	d.scheduler.Stop()
}

// Trigger fans an event out to every matching active subscription. It returns
// once scheduling has started and never blocks on delivery completion. The
// only synchronous failures are malformed input: unknown or invalid event
// type, unmarshalable data, or an oversized payload.
func (d *Dispatcher) Trigger(ctx context.Context, eventType string, data any, metadata map[string]string) (event.Event, error) {
	if d.opts.Catalog != nil && !d.opts.Catalog.Known(eventType) {
		return event.Event{}, fmt.Errorf("unknown event type: %s", eventType)
	}

	ev, err := event.New(eventType, data, metadata)
	if err != nil {
		return event.Event{}, fmt.Errorf("building event: %w", err)
	}

	body, err := ev.Body()
	if err != nil {
		return event.Event{}, fmt.Errorf("serializing event: %w", err)
	}
	if _, err := validate.PayloadSize(body, d.opts.MaxPayloadBytes); err != nil {
		return event.Event{}, fmt.Errorf("validating payload: %w", err)
	}

	subs, err := d.registry.ResolveForEvent(ctx, eventType)
	if err != nil {
		return event.Event{}, fmt.Errorf("resolving subscriptions: %w", err)
	}

	snapshot := sanitizedSnapshot(body)
	for _, sub := range subs {
		if !d.limiter.CanSend(sub.ID) {
			// Backpressure, not failure: no attempt consumed, no retry
			// countdown started.
			d.store.RecordRateLimited(ctx, sub.ID)
			d.log.Warn("delivery rate limited",
				"subscription_id", sub.ID,
				"event_id", ev.ID,
				"event_type", ev.Type,
			)
			continue
		}

		rec := delivery.Delivery{
			ID:             uuid.New().String(),
			SubscriptionID: sub.ID,
			EventID:        ev.ID,
			EventType:      ev.Type,
			Payload:        snapshot,
			Status:         delivery.Pending,
			CreatedAt:      time.Now(),
		}
		if err := d.store.Add(ctx, rec); err != nil {
			d.log.Error("recording delivery", "delivery_id", rec.ID, "error", err)
			continue
		}

		job := job{
			deliveryID: rec.ID,
			sub:        sub,
			body:       body,
			attempt:    1,
		}
		go d.attempt(job)
	}

	return ev, nil
}

// CancelSubscription drops pending retries for a deleted subscription and
// closes its in-flight delivery records. Attempts already on the wire are
// not interrupted; their responses are discarded.
func (d *Dispatcher) CancelSubscription(id string) {
	cancelled := d.scheduler.Cancel(id)
	closed := d.store.MarkAbandoned(context.Background(), id, AbandonReason)
	d.limiter.Reset(id)
	d.log.Info("subscription cancelled",
		"subscription_id", id,
		"retries_cancelled", cancelled,
		"deliveries_abandoned", len(closed),
	)
}

/* The dispatcher doubles as the metrics collector: it owns the delivery
 * store and the scheduler, which between them hold every observable number.
 */

// PendingRetries reports scheduled-but-not-yet-run retry tasks.
func (d *Dispatcher) PendingRetries(_ context.Context) (int64, error) {
	return int64(d.scheduler.Len()), nil
}

// StatusCounts reports delivery counts by status.
func (d *Dispatcher) StatusCounts(ctx context.Context) (map[string]int64, error) {
	return d.store.StatusCounts(ctx)
}

// RateLimitedTotal reports scheduling cycles skipped by the rate limiter.
func (d *Dispatcher) RateLimitedTotal(ctx context.Context) (int64, error) {
	return d.store.RateLimitedTotal(ctx)
}

// job carries everything one HTTP attempt needs. The subscription is a
// snapshot from trigger time: a delivery reflects the subscription as it was
// when the event fired.
type job struct {
	deliveryID string
	sub        subscription.Subscription
	body       []byte
	attempt    int
}

// attempt performs one HTTP POST and advances the retry state machine.
func (d *Dispatcher) attempt(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
	defer cancel()

	rec, err := d.store.Get(ctx, j.deliveryID)
	if err != nil || rec.Status.IsFinal() {
		// Evicted or abandoned while this attempt was queued; nothing to do.
		return
	}

	d.limiter.Record(j.sub.ID)

	started := time.Now()
	statusCode, sendErr := d.send(ctx, j.sub, j.body)
	latency := time.Since(started)

	att := delivery.Attempt{
		Number:     j.attempt,
		SentAt:     started,
		HTTPStatus: statusCode,
		Latency:    latency,
	}
	if sendErr != nil {
		att.Error = sendErr.Error()
	}

	// Re-read before writing: the subscription may have been deleted while
	// the request was in flight, in which case the response is discarded.
	rec, err = d.store.Get(ctx, j.deliveryID)
	if err != nil || rec.Status.IsFinal() {
		return
	}
	rec.Attempts = append(rec.Attempts, att)

	switch {
	case sendErr == nil:
		now := time.Now()
		rec.Status = delivery.Delivered
		rec.NextAttemptAt = nil
		rec.Error = ""
		rec.CompletedAt = &now
		d.log.Info("delivery succeeded",
			"delivery_id", rec.ID,
			"subscription_id", j.sub.ID,
			"attempt", j.attempt,
			"status_code", statusCode,
			"latency_ms", latency.Milliseconds(),
		)

	case j.attempt >= j.sub.RetryPolicy.MaxRetries:
		now := time.Now()
		rec.Status = delivery.Failed
		rec.NextAttemptAt = nil
		rec.Error = fmt.Sprintf("max retries exceeded: %v", sendErr)
		rec.CompletedAt = &now
		d.log.Warn("delivery failed terminally",
			"delivery_id", rec.ID,
			"subscription_id", j.sub.ID,
			"attempts", j.attempt,
			"error", sendErr,
		)

	default:
		delay := j.sub.RetryPolicy.NextDelay(j.attempt)
		nextAt := time.Now().Add(delay)
		rec.Status = delivery.Retrying
		rec.NextAttemptAt = &nextAt
		rec.Error = sendErr.Error()

		next := j
		next.attempt++
		d.scheduler.Schedule(nextAt, j.sub.ID, func() { d.attempt(next) })
		d.log.Info("delivery scheduled for retry",
			"delivery_id", rec.ID,
			"subscription_id", j.sub.ID,
			"attempt", j.attempt,
			"next_attempt_in", delay.String(),
			"error", sendErr,
		)
	}

	switch err := d.store.Update(ctx, rec); {
	case errors.Is(err, delivery.ErrCompleted):
		// Closed while the request was on the wire; the result is discarded
		// and any retry scheduled above dies on its own terminal-state check.
		d.log.Info("delivery closed mid-attempt, result discarded",
			"delivery_id", rec.ID,
			"subscription_id", j.sub.ID,
		)
	case err != nil:
		d.log.Error("updating delivery", "delivery_id", rec.ID, "error", err)
	}
}

// sanitizedSnapshot decodes the transmitted bytes and redacts sensitive keys
// for the delivery log. The wire payload itself is never sanitized.
func sanitizedSnapshot(body []byte) any {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil
	}
	return validate.SanitizeForLogging(decoded)
}
