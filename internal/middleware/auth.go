package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// Principal is the authenticated caller.
type Principal struct {
	ID       string
	Reviewer bool
}

type principalContextKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the caller set by one of the auth middlewares.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok && p.ID != ""
}

// APIKeyAuth authenticates `Authorization: ApiKey <token>`. The key itself
// becomes the owner id. Keys listed in reviewerKeys may also review records.
func APIKeyAuth(ownerKeys, reviewerKeys []string) func(http.Handler) http.Handler {
	keySet := make(map[string]bool, len(ownerKeys)+len(reviewerKeys))
	for _, key := range ownerKeys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keySet[trimmed] = false
		}
	}
	for _, key := range reviewerKeys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keySet[trimmed] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, ok := credential(w, r, "ApiKey")
			if !ok {
				return
			}

			reviewer, valid := keySet[apiKey]
			if !valid {
				writeAuthError(w, "ApiKey", http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := WithPrincipal(r.Context(), Principal{ID: apiKey, Reviewer: reviewer})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NoAuth treats every request as coming from a single local user who may
// also review. Development only.
func NoAuth(id string) func(http.Handler) http.Handler {
	if id == "" {
		id = "local-dev"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithPrincipal(r.Context(), Principal{ID: id, Reviewer: true})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireReviewer rejects callers without the reviewer role.
func RequireReviewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !p.Reviewer {
			writeJSONError(w, http.StatusForbidden, "reviewer role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// credential extracts the token after "<scheme> " and writes a 401 when it
// is missing.
func credential(w http.ResponseWriter, r *http.Request, scheme string) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		writeAuthError(w, scheme, http.StatusUnauthorized, "missing Authorization header")
		return "", false
	}

	prefix := scheme + " "
	if !strings.HasPrefix(authHeader, prefix) {
		writeAuthError(w, scheme, http.StatusUnauthorized, "invalid Authorization format, expected: "+scheme+" <token>")
		return "", false
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	if token == "" {
		writeAuthError(w, scheme, http.StatusUnauthorized, "empty credential")
		return "", false
	}
	return token, true
}

func writeAuthError(w http.ResponseWriter, scheme string, status int, message string) {
	w.Header().Set("WWW-Authenticate", scheme+` realm="wastedraft"`)
	writeJSONError(w, status, message)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
