package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Authentication happens upstream; the trusted proxy layer forwards the
// authenticated caller in this header.
const ActorHeader = "X-Actor-ID"

type contextKey string

const actorKey contextKey = "actor_id"

// Actor extracts the acting user id into the request context. Requests
// without a parseable actor id proceed unattributed; the audit trail
// records them with a null user id.
func Actor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := r.Header.Get(ActorHeader); raw != "" {
				if id, err := uuid.Parse(raw); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), actorKey, id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetActorID returns the acting user id, or nil for unattributed
// requests.
func GetActorID(ctx context.Context) *uuid.UUID {
	if id, ok := ctx.Value(actorKey).(uuid.UUID); ok {
		return &id
	}
	return nil
}
