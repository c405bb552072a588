package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/txn2/graphql-webapp/pkg/session"
)

// Middleware attaches the session's principal to the request context.
// Resolution failures leave the request anonymous: the failure is recorded
// for FailureFromContext and the request continues. A principal that no
// longer exists is also removed from the session.
func Middleware(strategy Strategy, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := session.FromContext(r.Context())
			if st == nil || st.UserID() == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			p, err := resolve(ctx, strategy.Deserialize, st.UserID()).Principal()
			if err != nil {
				logger.Warn("session principal not resolved", "session_id", st.ID(), "error", err)
				ctx = withFailure(ctx, err)
				if errors.Is(err, ErrPrincipalNotFound) {
					if cerr := st.SetUserID(ctx, ""); cerr != nil {
						logger.Warn("clearing stale session user failed", "error", cerr)
					}
				}
			} else {
				ctx = WithPrincipal(ctx, p)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolve runs fn, converting a panic into a failed Result.
func resolve(ctx context.Context, fn DeserializeFunc, id string) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			res = Failed(fmt.Errorf("auth: deserialize panicked: %v", rec))
		}
	}()
	return fn(ctx, id)
}
