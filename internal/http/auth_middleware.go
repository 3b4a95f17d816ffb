package httpx

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	jwtpkg "github.com/splax/pwnarena/pkg/jwt"
)

type authContextKey string

// authInfo is the team identity proven by a bearer token.
type authInfo struct {
	TeamID string
}

const contextKeyAuth authContextKey = "pwnarena-auth-info"

var (
	errMissingToken  = errors.New("missing bearer token")
	errMalformedAuth = errors.New("invalid authorization header format")
)

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request carries a valid team token before invoking the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		info, err := r.authenticate(req)
		if err != nil {
			r.logger.Warn("team authentication failed", "error", err, "path", req.URL.Path)
			if errors.Is(err, errMissingToken) || errors.Is(err, errMalformedAuth) {
				writeError(w, http.StatusUnauthorized, "authentication required")
			} else {
				writeError(w, http.StatusUnauthorized, "authentication failed")
			}
			return
		}
		ctx := context.WithValue(req.Context(), contextKeyAuth, info)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

func (r *Router) authenticate(req *http.Request) (authInfo, error) {
	token, err := requestToken(req)
	if err != nil {
		return authInfo{}, err
	}
	claims, err := jwtpkg.Parse(token, r.jwtSecret)
	if err != nil {
		return authInfo{}, err
	}
	return authInfo{TeamID: claims.TeamID}, nil
}

// requestToken reads the bearer token from the Authorization header, or from
// the access_token query parameter on websocket handshakes where browsers
// cannot set headers.
func requestToken(req *http.Request) (string, error) {
	if header := strings.TrimSpace(req.Header.Get("Authorization")); header != "" {
		return bearerToken(header)
	}
	if websocket.IsWebSocketUpgrade(req) {
		if token := strings.TrimSpace(req.URL.Query().Get("access_token")); token != "" {
			return token, nil
		}
	}
	return "", errMissingToken
}

func bearerToken(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errMalformedAuth
	}
	return parts[1], nil
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	info, ok := ctx.Value(contextKeyAuth).(authInfo)
	return info, ok
}

// verifyScoringToken ensures scoring callbacks include the configured secret.
func (r *Router) verifyScoringToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.scoringToken
	if expected == "" {
		r.logger.Error("scoring token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "scoring authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Scoring-Token"))
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("scoring token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid scoring token")
		return false
	}
	return true
}
