// Package auth guards the monitor endpoints with a shared bearer token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/MattCruikshank/templatebot/internal/errors"
)

// QueryParam carries the token for websocket clients that cannot set
// headers.
const QueryParam = "token"

// ErrUnauthorized is returned for a missing or wrong token.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator checks request tokens. An empty token disables checking.
type Authenticator struct {
	token  string
	logger *zerolog.Logger
}

// NewAuthenticator creates a new authenticator.
func NewAuthenticator(token string, logger *zerolog.Logger) *Authenticator {
	return &Authenticator{token: token, logger: logger}
}

// Enabled reports whether requests must carry a token.
func (a *Authenticator) Enabled() bool {
	return a.token != ""
}

// Check validates the token carried by r.
func (a *Authenticator) Check(r *http.Request) error {
	if !a.Enabled() {
		return nil
	}
	got := TokenFromRequest(r)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Middleware rejects requests without a valid token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Check(r); err != nil {
			a.logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Bool("token_provided", TokenFromRequest(r) != "").
				Msg("Authentication failed")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TokenFromRequest extracts a bearer token from the Authorization header,
// falling back to the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get(QueryParam)
}
