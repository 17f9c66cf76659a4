package enums

import "fmt"

// PushResult is the server's per-transaction verdict.
type PushResult string

const (
	PushOK        PushResult = "OK"
	PushDuplicate PushResult = "DUPLICATE"
	PushError     PushResult = "ERROR"
)

var validPushResults = []PushResult{
	PushOK,
	PushDuplicate,
	PushError,
}

// IsValid reports whether the value is a known push result.
func (p PushResult) IsValid() bool {
	for _, candidate := range validPushResults {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsAccepted reports whether the server holds the transaction after this verdict.
func (p PushResult) IsAccepted() bool {
	return p == PushOK || p == PushDuplicate
}

// ParsePushResult converts raw input into PushResult.
func ParsePushResult(value string) (PushResult, error) {
	for _, candidate := range validPushResults {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid push result %q", value)
}
