// Package signature computes and verifies the HMAC-SHA256 message
// authentication codes carried on every outbound delivery, and enforces the
// timestamp replay window a well-behaved receiver applies on its side.
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	// SignatureHeader carries the hex-encoded HMAC of the request body.
	SignatureHeader = "X-Webhook-Signature"

	// TimestampHeader carries the signing time in epoch milliseconds.
	TimestampHeader = "X-Webhook-Timestamp"

	// TestHeader marks synchronous endpoint-verification probes.
	TestHeader = "X-Webhook-Test"

	// DefaultMaxAge is how old a signed message may be before it is
	// treated as a replay.
	DefaultMaxAge = 5 * time.Minute

	// MaxClockSkew is how far in the future a timestamp may sit before it
	// is rejected as implausible.
	MaxClockSkew = time.Minute

	// SecretBytes is the entropy of a generated signing secret. The hex
	// encoding doubles it, so generated secrets are 64 characters.
	SecretBytes = 32
)

// Verification failure reasons. Callers log these distinctly so a stale
// timestamp is never misdiagnosed as a forged signature.
var (
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrStaleTimestamp     = errors.New("stale_timestamp")
	ErrFutureTimestamp    = errors.New("future_timestamp")
	ErrMalformedTimestamp = errors.New("malformed_timestamp")
)

// Sign computes the hex-encoded HMAC-SHA256 of payload. The payload must be
// the exact byte sequence that will be transmitted.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyInput bundles the parameters of a verification. Timestamp is epoch
// milliseconds as carried in the TimestampHeader; zero disables the replay
// check. MaxAge of zero means DefaultMaxAge.
type VerifyInput struct {
	Payload   []byte
	Signature string
	Secret    string
	Timestamp int64
	MaxAge    time.Duration
}

// Verify recomputes the expected signature and compares in constant time.
// When a timestamp is supplied it is checked against the replay window first,
// so the returned reason distinguishes staleness from forgery.
func Verify(in VerifyInput) error {
	if in.Timestamp != 0 {
		if err := checkTimestamp(in.Timestamp, in.MaxAge, time.Now()); err != nil {
			return err
		}
	}

	expected, err := hex.DecodeString(Sign(in.Payload, in.Secret))
	if err != nil {
		return fmt.Errorf("decoding expected signature: %w", err)
	}
	supplied, err := hex.DecodeString(in.Signature)
	if err != nil {
		return ErrInvalidSignature
	}

	if subtle.ConstantTimeCompare(expected, supplied) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

func checkTimestamp(millis int64, maxAge time.Duration, now time.Time) error {
	if millis < 0 {
		return ErrMalformedTimestamp
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	ts := time.UnixMilli(millis)
	if age := now.Sub(ts); age > maxAge {
		return ErrStaleTimestamp
	}
	if ahead := ts.Sub(now); ahead > MaxClockSkew {
		return ErrFutureTimestamp
	}
	return nil
}

// ParseTimestamp parses the TimestampHeader value as epoch milliseconds.
// Receivers use it so a garbled header surfaces as malformed_timestamp
// rather than a signature mismatch.
func ParseTimestamp(header string) (int64, error) {
	millis, err := strconv.ParseInt(header, 10, 64)
	if err != nil || millis < 0 {
		return 0, ErrMalformedTimestamp
	}
	return millis, nil
}

// GenerateSecret creates a new signing secret with SecretBytes of entropy,
// hex-encoded. This is the single canonical generator; everything that needs
// a secret (subscription creation, the generate-secret endpoint, test
// deliveries) goes through it.
func GenerateSecret() (string, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
