package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/opentillhq/tillsync/pkg/logger"
)

const (
	requestIDHeader     = "X-Request-Id"
	correlationIDHeader = "X-Correlation-Id"
)

// RequestID assigns the request and correlation ids. The correlation id is
// echoed back so the pushing terminal can stitch its logs to the server's.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			correlationID := r.Header.Get(correlationIDHeader)
			if correlationID == "" {
				correlationID = uuid.NewString()
			}

			w.Header().Set(requestIDHeader, reqID)
			w.Header().Set(correlationIDHeader, correlationID)

			ctx := context.WithValue(r.Context(), ctxCorrelationID, correlationID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
				ctx = logg.WithField(ctx, "correlation_id", correlationID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
