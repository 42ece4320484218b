package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/pagechat/pagechat/pkg/auth"
)

// bearerToken extracts the token from the Authorization header. It returns
// the empty string when the header is missing or not a bearer scheme.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// BearerMiddleware validates the bearer token and attaches the session to the
// request context. Requests without a valid session are rejected with 401.
func BearerMiddleware(_auth auth.Auth) ApiMiddleware {
	return func(next http.Handler) ApiHandleFunc {
		authErr := NewApiError("unauthenticated", http.StatusUnauthorized)

		return func(w http.ResponseWriter, r *http.Request) error {
			token := bearerToken(r)
			if token == "" {
				return authErr
			}

			session, err := _auth.Session(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) {
					return authErr
				}
				return err
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), *session)))
			return nil
		}
	}
}

// MaybeBearerMiddleware attaches the session when a valid bearer token is
// present and lets the request through anonymously otherwise. Handlers behind
// it serve a redacted view to anonymous callers.
func MaybeBearerMiddleware(_auth auth.Auth) func(ApiHandleFunc) ApiHandleFunc {
	return func(next ApiHandleFunc) ApiHandleFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			token := bearerToken(r)
			if token == "" {
				return next(w, r)
			}

			session, err := _auth.Session(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) {
					return next(w, r)
				}
				return err
			}

			return next(w, r.WithContext(auth.ContextWithSession(r.Context(), *session)))
		}
	}
}

// sessionFromRequest extracts the session from the request context. It must
// only be called in handlers protected by BearerMiddleware; it panics when no
// session is attached.
func sessionFromRequest(r *http.Request) auth.Session {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		panic("session not found in request context: wrap the handler with BearerMiddleware")
	}
	return session
}
