package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/clinicore/webhook-dispatch/signature"
	"github.com/clinicore/webhook-dispatch/subscription"
)

// send posts the signed envelope to the subscription's URL. Any non-2xx
// response or transport error is returned; the retry state machine treats
// them identically.
func (d *Dispatcher) send(ctx context.Context, sub subscription.Subscription, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}

	// Static subscription headers first; signature headers last so a
	// subscriber cannot configure them away.
	for key, value := range sub.Headers {
		req.Header.Set(key, value)
	}
	timestamp := time.Now().UnixMilli()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.SignatureHeader, signature.Sign(body, sub.Secret))
	req.Header.Set(signature.TimestampHeader, strconv.FormatInt(timestamp, 10))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
