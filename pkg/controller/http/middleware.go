package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/utils/errutil"
	"github.com/snoutos/switchboard/pkg/utils/logging"
)

const actorHeader = "X-Actor-ID"

const actorKey contextKey = "actor_id"

// actorMiddleware takes the acting user from the X-Actor-ID header and tags
// the request logger with it and the org. Identity is asserted by the caller;
// the API is expected to sit behind an authenticating proxy.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		actorID := r.Header.Get(actorHeader)
		if actorID == "" {
			errutil.HandleHTTP(ctx, w, goerr.New("missing "+actorHeader+" header"), http.StatusUnauthorized)
			return
		}

		logger := logging.From(ctx).With("actor_id", actorID, "org_id", chi.URLParam(r, "orgID"))
		ctx = logging.With(ctx, logger)
		ctx = context.WithValue(ctx, actorKey, actorID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFromContext(ctx context.Context) string {
	actorID, _ := ctx.Value(actorKey).(string)
	return actorID
}
