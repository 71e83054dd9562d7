package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORS configures go-chi/cors for the portal origins. "*" allows any
// origin without credentials; listed origins get credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := make([]string, 0, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		switch {
		case o == "":
		case o == "*":
			wildcard = true
		default:
			origins = append(origins, o)
		}
	}
	if wildcard {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:       origins,
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:       []string{"Authorization", "Content-Type", "X-Requested-With", RequestIDHeader},
		ExposedHeaders:       []string{RequestIDHeader, "Retry-After", "ETag", "Content-Disposition"},
		AllowCredentials:     !wildcard,
		MaxAge:               600,
		OptionsSuccessStatus: http.StatusNoContent,
	})
}
