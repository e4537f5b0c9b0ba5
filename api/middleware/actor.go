package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/danielcervantes/clinicpos-backend/api/responses"
	pkgerrors "github.com/danielcervantes/clinicpos-backend/pkg/errors"
	"github.com/danielcervantes/clinicpos-backend/pkg/logger"
)

const actorIDHeader = "X-Actor-Id"

type actorCtxKey struct{}

// Actor requires a valid X-Actor-Id header on every mutating request and
// places it on the context. Staff identity comes from the clinic gateway; the
// ledger only records who acted.
func Actor(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(actorIDHeader)
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "X-Actor-Id header required"))
				return
			}
			actorID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid X-Actor-Id header"))
				return
			}

			ctx := context.WithValue(r.Context(), actorCtxKey{}, actorID)
			if logg != nil {
				ctx = logg.WithActorID(ctx, actorID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext returns the acting staff member set by Actor.
func ActorFromContext(ctx context.Context) (uuid.UUID, bool) {
	actorID, ok := ctx.Value(actorCtxKey{}).(uuid.UUID)
	return actorID, ok
}
