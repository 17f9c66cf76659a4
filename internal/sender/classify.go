package sender

import (
	"fmt"
	"net/http"
	"strings"
)

// DeliveryError is a classified send failure. Retryable failures feed the
// capped exponential backoff; non-retryable ones are parked on the long
// fixed delay for human attention. Classification lives here so the drainer
// never re-derives it.
type DeliveryError struct {
	retryable     bool
	message       string
	correlationID string
	cause         error
}

func (e *DeliveryError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *DeliveryError) Retryable() bool { return e.retryable }

func (e *DeliveryError) Unwrap() error { return e.cause }

// CorrelationID returns the id attached to the failed exchange, when known.
func (e *DeliveryError) CorrelationID() string { return e.correlationID }

func retryableErr(correlationID, message string, cause error) *DeliveryError {
	return &DeliveryError{retryable: true, message: message, correlationID: correlationID, cause: cause}
}

func permanentErr(correlationID, message string, cause error) *DeliveryError {
	return &DeliveryError{retryable: false, message: message, correlationID: correlationID, cause: cause}
}

// statusRetryable classifies an HTTP status: timeouts, early hints about
// retrying, throttling, and server faults are retryable; any other 4xx is
// not.
func statusRetryable(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// serverCodeRetryable reports whether an explicit per-item ERROR verdict
// names one of the allow-listed transient contention codes.
func serverCodeRetryable(message string, allowList map[string]struct{}) bool {
	if message == "" {
		return false
	}
	for code := range allowList {
		if strings.Contains(message, code) {
			return true
		}
	}
	return false
}
