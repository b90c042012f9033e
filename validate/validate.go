// Package validate holds the pure validation rules applied to subscription
// input before anything is committed or transmitted. It has no state and no
// dependencies on the rest of the engine.
package validate

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Environment names recognized by URL. Anything other than Development
// requires HTTPS; Production additionally rejects private and loopback hosts.
const (
	Development = "development"
	Staging     = "staging"
	Production  = "production"
)

// MaxPayloadBytes is the default ceiling for a serialized event payload.
const MaxPayloadBytes = 1 << 20

// eventTypePattern matches "resource.action" event types, e.g. "patient.created"
var eventTypePattern = regexp.MustCompile(`^[a-z_]+\.[a-z_]+$`)

// Error is a validation failure tied to a specific input field, so the HTTP
// layer can surface field-level messages on a 400 response.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// privateHostPatterns are hostname prefixes that resolve into internal
// infrastructure. Rejected in production so the engine cannot be used as an
// SSRF pivot (the service makes outbound requests to caller-supplied URLs).
var privateHostPrefixes = []string{
	"10.",
	"192.168.",
	"169.254.",
	"fe80:",
	"fd",
}

// URL validates a subscription destination for the given environment.
// Outside development only HTTPS is accepted; in production loopback and
// private-network hosts are rejected as well.
func URL(raw string, environment string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return &Error{Field: "url", Message: "url is required"}
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return &Error{Field: "url", Message: "url must be a valid absolute URL"}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return &Error{Field: "url", Message: "url must use http or https"}
	}
	if scheme != "https" && environment != Development {
		return &Error{Field: "url", Message: "url must use https outside development"}
	}

	if environment == Production {
		host := strings.ToLower(strings.TrimSuffix(parsed.Hostname(), "."))
		if isPrivateHost(host) {
			return &Error{Field: "url", Message: fmt.Sprintf("host %q is not reachable from production", host)}
		}
	}

	return nil
}

// isPrivateHost reports whether the hostname points at loopback, link-local
// or RFC1918 space. Matches on both literal addresses and well-known names.
func isPrivateHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if host == "::1" || host == "0.0.0.0" || host == "::" {
		return true
	}
	if strings.HasPrefix(host, "127.") {
		return true
	}
	for _, prefix := range privateHostPrefixes {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	// 172.16.0.0/12 covers 172.16. through 172.31.
	if strings.HasPrefix(host, "172.") {
		if ip := net.ParseIP(host); ip != nil {
			if v4 := ip.To4(); v4 != nil && v4[1] >= 16 && v4[1] <= 31 {
				return true
			}
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
	}
	return false
}

// EventType validates a subscription event filter entry. The wildcard "*"
// subscribes to everything; anything else must be "resource.action".
func EventType(eventType string) error {
	if eventType == "" {
		return &Error{Field: "events", Message: "event type cannot be empty"}
	}
	if eventType == "*" {
		return nil
	}
	if !eventTypePattern.MatchString(eventType) {
		return &Error{Field: "events", Message: fmt.Sprintf("event type %q must match resource.action", eventType)}
	}
	return nil
}

// MinSecretLength is the shortest acceptable signing secret.
const MinSecretLength = 32

// Secret validates a caller-supplied signing secret.
func Secret(secret string) error {
	if len(secret) < MinSecretLength {
		return &Error{Field: "secret", Message: fmt.Sprintf("secret must be at least %d characters", MinSecretLength)}
	}
	return nil
}

// PayloadSize rejects serialized payloads larger than maxBytes and returns
// the measured size either way, so callers can record it. A maxBytes of zero
// means MaxPayloadBytes.
func PayloadSize(serialized []byte, maxBytes int) (int, error) {
	if maxBytes <= 0 {
		maxBytes = MaxPayloadBytes
	}
	size := len(serialized)
	if size > maxBytes {
		return size, &Error{Field: "data", Message: fmt.Sprintf("payload size %d exceeds limit of %d bytes", size, maxBytes)}
	}
	return size, nil
}
