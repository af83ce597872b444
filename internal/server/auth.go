package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig enables per-session bearer tokens. An empty Secret disables
// authentication, which is the default for local single-user deployments.
type AuthConfig struct {
	Secret string
	TTL    time.Duration
}

func (c AuthConfig) enabled() bool {
	return strings.TrimSpace(c.Secret) != ""
}

// issueToken mints the session-scoped bearer token handed out on session
// start. Returns "" when auth is disabled.
func (c AuthConfig) issueToken(sessionID string, now time.Time) (string, error) {
	if !c.enabled() {
		return "", nil
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.Secret))
}

type principalKey struct{}

func withSessionPrincipal(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, principalKey{}, sessionID)
}

// sessionAuthorized checks that the authenticated token, if any, is scoped to
// the session being addressed.
func sessionAuthorized(ctx context.Context, sessionID string) huma.StatusError {
	v := ctx.Value(principalKey{})
	if v == nil {
		// auth disabled
		return nil
	}
	if v.(string) != sessionID {
		return newAPIError(http.StatusUnauthorized, "wrong_session", "token not valid for this session", nil)
	}
	return nil
}

func parseSessionToken(token, secret string) (string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("subject claim required")
	}
	return claims.Subject, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	sessionsPath := path.Join(basePath, "sessions")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !cfg.enabled() {
				next.ServeHTTP(w, req)
				return
			}
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}
			// Session start is the entry point that mints the token.
			if req.URL.Path == sessionsPath && req.Method == http.MethodPost {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			sessionID, err := parseSessionToken(token, cfg.Secret)
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			ctx := withSessionPrincipal(req.Context(), sessionID)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
