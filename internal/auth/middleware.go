package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

// KeyContextKey holds the name of the key that authenticated the request.
const KeyContextKey contextKey = "auth_key"

// RequireKey rejects requests without a valid key. Browsers cannot set
// headers on WebSocket handshakes, so the key may also arrive as ?token=.
func (k *Keyring) RequireKey(next http.Handler) http.Handler {
	if !k.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := extractToken(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		name, err := k.Verify(raw)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), KeyContextKey, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return "", ErrInvalidToken
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			return "", ErrMissingToken
		}
		return token, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// KeyNameFromContext returns the authenticating key's name, or "".
func KeyNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(KeyContextKey).(string)
	return name
}

func writeAuthError(w http.ResponseWriter, err error) {
	authErr, ok := err.(*AuthError)
	if !ok {
		authErr = &AuthError{Code: "AUTH_ERROR", Message: err.Error()}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="concierge"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(authErr)
}
