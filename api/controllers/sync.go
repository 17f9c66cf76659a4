package controllers

import (
	"net/http"

	"github.com/opentillhq/tillsync/api/middleware"
	"github.com/opentillhq/tillsync/api/responses"
	"github.com/opentillhq/tillsync/api/validators"
	"github.com/opentillhq/tillsync/internal/ingest"
	pkgerrors "github.com/opentillhq/tillsync/pkg/errors"
	"github.com/opentillhq/tillsync/pkg/logger"
	"github.com/opentillhq/tillsync/pkg/metrics"
	"github.com/opentillhq/tillsync/pkg/types"
)

// SyncPush ingests a batch of terminal transactions. Outlet authorization
// fails closed: a token that does not grant the batch outlet is rejected
// before any row is considered.
func SyncPush(service *ingest.Service, syncMetrics *metrics.SyncMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		claims := middleware.ClaimsFromContext(ctx)
		if claims == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		var req types.PushRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if !claims.AllowsOutlet(req.OutletID) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "outlet not granted to credentials"))
			return
		}

		resp, err := service.Push(ctx, claims, middleware.CorrelationIDFromContext(ctx), req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		for _, item := range resp.Results {
			syncMetrics.IncPushVerdict(string(item.Result))
		}

		responses.WriteSuccess(w, resp)
	}
}
