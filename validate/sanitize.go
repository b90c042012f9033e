package validate

import "strings"

// RedactedValue replaces the value of any sensitive key before a payload
// snapshot is written to the delivery log. Sanitization never runs against
// the bytes actually transmitted to the subscriber.
const RedactedValue = "[REDACTED]"

// sensitiveTerms are matched case-insensitively as substrings of object keys.
var sensitiveTerms = []string{
	"password",
	"token",
	"secret",
	"apikey",
	"ssn",
	"creditcard",
}

// SanitizeForLogging returns a deep copy of the decoded JSON value with every
// sensitive key redacted, at any nesting depth. Applying it twice yields the
// same result as applying it once.
func SanitizeForLogging(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, inner := range value {
			if isSensitiveKey(k) {
				out[k] = RedactedValue
				continue
			}
			out[k] = SanitizeForLogging(inner)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, inner := range value {
			out[i] = SanitizeForLogging(inner)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, term := range sensitiveTerms {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}
