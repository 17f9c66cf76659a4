package enums

import "fmt"

// OutboxJobStatus is the delivery state of an outbox job. SENT is terminal;
// no update may revert it.
type OutboxJobStatus string

const (
	JobPending OutboxJobStatus = "PENDING"
	JobFailed  OutboxJobStatus = "FAILED"
	JobSent    OutboxJobStatus = "SENT"
)

var validOutboxJobStatuses = []OutboxJobStatus{
	JobPending,
	JobFailed,
	JobSent,
}

// IsValid reports whether the value is a known job status.
func (s OutboxJobStatus) IsValid() bool {
	for _, candidate := range validOutboxJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status absorbs all later transitions.
func (s OutboxJobStatus) IsTerminal() bool {
	return s == JobSent
}

// ParseOutboxJobStatus converts raw input into OutboxJobStatus.
func ParseOutboxJobStatus(value string) (OutboxJobStatus, error) {
	for _, candidate := range validOutboxJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox job status %q", value)
}
