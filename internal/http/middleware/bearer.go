package middleware

import (
	"context"
	"net/http"

	"github.com/diagnosis/venue-scanner/internal/http/response"
	"github.com/diagnosis/venue-scanner/pkg/auth"
	"github.com/diagnosis/venue-scanner/pkg/logger"
)

type ctxKey string

const ctxCaller ctxKey = "caller"

// Caller is the operator behind a request. Err is set when the token is
// present but could not be identified; the scan session decides what that
// means for backend calls.
type Caller struct {
	Token    string
	Operator string
	Err      error
}

// RequireBearer rejects requests without a bearer token and records the
// caller for handlers and log lines.
func RequireBearer(identify func(token string) (string, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				response.Unauthorized(w, "Missing bearer token")
				return
			}

			caller := &Caller{Token: token}
			if identify != nil {
				caller.Operator, caller.Err = identify(token)
			}

			ctx := context.WithValue(r.Context(), ctxCaller, caller)
			if caller.Operator != "" {
				ctx = context.WithValue(ctx, logger.UserIDKey, caller.Operator)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func CallerFrom(r *http.Request) *Caller {
	v := r.Context().Value(ctxCaller)
	if v == nil {
		return &Caller{}
	}
	return v.(*Caller)
}
