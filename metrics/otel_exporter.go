package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector

	meter             metric.Meter
	statusCountGauge  metric.Int64ObservableGauge
	rateLimitedGauge  metric.Int64ObservableGauge
	pendingRetryGauge metric.Int64ObservableGauge
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
func NewOTelExporter(collector Collector) (*OTelExporter, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(
		"webhook-dispatch",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		collector:     collector,
		meter:         meter,
	}

	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	oe.statusCountGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.delivery.status.count",
		metric.WithDescription("Number of deliveries by status"),
		metric.WithUnit("{deliveries}"),
		metric.WithInt64Callback(oe.observeStatusCounts),
	)
	if err != nil {
		return fmt.Errorf("creating status count gauge: %w", err)
	}

	oe.rateLimitedGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.delivery.rate_limited",
		metric.WithDescription("Scheduling cycles skipped by the per-subscription rate limiter"),
		metric.WithUnit("{deliveries}"),
		metric.WithInt64Callback(oe.observeRateLimited),
	)
	if err != nil {
		return fmt.Errorf("creating rate limited gauge: %w", err)
	}

	oe.pendingRetryGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.delivery.retries.pending",
		metric.WithDescription("Retry tasks waiting in the delayed-task scheduler"),
		metric.WithUnit("{retries}"),
		metric.WithInt64Callback(oe.observePendingRetries),
	)
	if err != nil {
		return fmt.Errorf("creating pending retry gauge: %w", err)
	}

	return nil
}

// observeStatusCounts is a callback that reports delivery counts by status
func (oe *OTelExporter) observeStatusCounts(ctx context.Context, observer metric.Int64Observer) error {
	statusCounts, err := oe.collector.StatusCounts(ctx)
	if err != nil {
		return err
	}

	for status, count := range statusCounts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("delivery.status", status),
		))
	}

	return nil
}

// observeRateLimited is a callback that reports rate-limited cycle totals
func (oe *OTelExporter) observeRateLimited(ctx context.Context, observer metric.Int64Observer) error {
	total, err := oe.collector.RateLimitedTotal(ctx)
	if err != nil {
		return err
	}
	observer.Observe(total)
	return nil
}

// observePendingRetries is a callback that reports scheduler depth
func (oe *OTelExporter) observePendingRetries(ctx context.Context, observer metric.Int64Observer) error {
	pending, err := oe.collector.PendingRetries(ctx)
	if err != nil {
		return err
	}
	observer.Observe(pending)
	return nil
}

// ServeHTTP serves Prometheus-formatted metrics on the given HTTP handler
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.Handler()
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
