package delivery

import "fmt"

/* Status represents the current state of a delivery
 * Follows the lifecycle: Pending -> Delivered | Retrying -> ... -> Failed
 */
type Status int

const (
	Pending Status = iota + 1
	Retrying
	Delivered
	Failed
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Retrying:
		return "retrying"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// NewStatus creates a Status from a string
func NewStatus(str string) Status {
	switch str {
	case "pending":
		return Pending
	case "retrying":
		return Retrying
	case "delivered":
		return Delivered
	case "failed":
		return Failed
	default:
		return Pending
	}
}

// ParseStatus converts a status string, rejecting values NewStatus would
// silently map to Pending. Use it for externally supplied input.
func ParseStatus(str string) (Status, error) {
	s := NewStatus(str)
	if s.String() != str {
		return 0, fmt.Errorf("unknown status %q", str)
	}
	return s, nil
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s < Pending || s > Failed {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s Status) IsFinal() bool {
	return s == Delivered || s == Failed
}
