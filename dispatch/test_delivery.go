package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/clinicore/webhook-dispatch/event"
	"github.com/clinicore/webhook-dispatch/signature"
	"github.com/clinicore/webhook-dispatch/validate"
)

// TestResult is the outcome of a synchronous endpoint probe.
type TestResult struct {
	Success    bool
	StatusCode int
	Latency    time.Duration
	Error      string

	// Secret is the signing secret used for the probe, returned so the
	// caller can verify the signature on their side. Populated only when
	// the probe generated one.
	Secret string
}

// SendTest delivers a single webhook.test event to a transient target: no
// subscription is registered, no delivery is recorded, and nothing is
// retried. Used for endpoint verification before creating a subscription.
func (d *Dispatcher) SendTest(ctx context.Context, url string, secret string) (TestResult, error) {
	if err := validate.URL(url, d.opts.Environment); err != nil {
		return TestResult{}, fmt.Errorf("validating url: %w", err)
	}

	var generated string
	if secret == "" {
		fresh, err := signature.GenerateSecret()
		if err != nil {
			return TestResult{}, fmt.Errorf("generating secret: %w", err)
		}
		secret = fresh
		generated = fresh
	} else if err := validate.Secret(secret); err != nil {
		return TestResult{}, fmt.Errorf("validating secret: %w", err)
	}

	ev, err := event.New(event.TestType, map[string]string{"message": "webhook endpoint verification"}, nil)
	if err != nil {
		return TestResult{}, fmt.Errorf("building event: %w", err)
	}
	body, err := ev.Body()
	if err != nil {
		return TestResult{}, fmt.Errorf("serializing event: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return TestResult{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.SignatureHeader, signature.Sign(body, secret))
	req.Header.Set(signature.TimestampHeader, strconv.FormatInt(time.Now().UnixMilli(), 10))
	req.Header.Set(signature.TestHeader, "true")

	started := time.Now()
	resp, err := d.client.Do(req)
	latency := time.Since(started)
	if err != nil {
		return TestResult{Latency: latency, Error: err.Error(), Secret: generated}, nil
	}
	defer resp.Body.Close()

	result := TestResult{
		StatusCode: resp.StatusCode,
		Latency:    latency,
		Secret:     generated,
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Success = true
	} else {
		result.Error = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	}
	return result, nil
}
