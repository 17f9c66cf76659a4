package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/opentillhq/tillsync/api/responses"
	pkgauth "github.com/opentillhq/tillsync/pkg/auth"
	"github.com/opentillhq/tillsync/pkg/config"
	pkgerrors "github.com/opentillhq/tillsync/pkg/errors"
	"github.com/opentillhq/tillsync/pkg/logger"
)

// Auth validates a bearer sync token and seeds the request context with the
// typed claims.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseSyncToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			if claims.CompanyID <= 0 || len(claims.OutletIDs) == 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "token missing scope"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxClaims, claims)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"user_id":    claims.UserID,
					"company_id": claims.CompanyID,
				})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
