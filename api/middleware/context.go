package middleware

import (
	"context"

	"github.com/opentillhq/tillsync/pkg/auth"
)

type ctxKey string

const (
	ctxClaims        ctxKey = "sync_claims"
	ctxCorrelationID ctxKey = "correlation_id"
)

// WithClaims seeds the context with authenticated sync claims.
func WithClaims(ctx context.Context, claims *auth.SyncTokenClaims) context.Context {
	return context.WithValue(ctx, ctxClaims, claims)
}

// WithCorrelationID seeds the context with a correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxCorrelationID, id)
}

// ClaimsFromContext returns the authenticated sync claims, if any.
func ClaimsFromContext(ctx context.Context) *auth.SyncTokenClaims {
	claims, _ := ctx.Value(ctxClaims).(*auth.SyncTokenClaims)
	return claims
}

// CorrelationIDFromContext returns the correlation id assigned to the request.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxCorrelationID).(string)
	return id
}
