package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeUnauthorized = "unauthorized"

	bearerPrefix = "Bearer "
)

// GetTokenFromHTTPRequest returns the bearer token of the request
// Authorization header, or the token query parameter when the header is not
// set.
func GetTokenFromHTTPRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
		return strings.TrimPrefix(auth, bearerPrefix)
	}
	return r.URL.Query().Get("token")
}

func verifyToken(token string, r *http.Request) error {
	if token == "" {
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(GetTokenFromHTTPRequest(r))) != 1 {
		return errors.New("invalid access token").
			WithType(ErrTypeUnauthorized).
			WithTag("remote_addr", r.RemoteAddr)
	}
	return nil
}

// VerifyAuthToken returns a WebSocket handshake that rejects connections
// without the given token. An empty token disables the check.
func VerifyAuthToken(token string) func(*websocket.Config, *http.Request) error {
	return func(c *websocket.Config, r *http.Request) error {
		if err := verifyToken(token, r); err != nil {
			logs.Error(err)
			return err
		}

		return nil
	}
}

// VerifyAuthTokenHandler wraps next with a check of the given token. An empty
// token disables the check.
func VerifyAuthTokenHandler(token string, next http.HandlerFunc) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := verifyToken(token, r); err != nil {
			logs.Error(err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	}
}
