package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wastedraft/internal/config"
	wdmiddleware "wastedraft/internal/middleware"
)

// NewAuthenticator builds the auth middleware for cfg.AuthMode. The stop
// func releases background resources and is never nil.
func NewAuthenticator(cfg *config.Config, logger *zap.Logger) (func(http.Handler) http.Handler, func(), error) {
	switch cfg.AuthMode {
	case config.AuthModeAPIKey:
		return wdmiddleware.APIKeyAuth(cfg.APIKeys, cfg.ReviewerAPIKeys), func() {}, nil
	case config.AuthModeJWT:
		return wdmiddleware.JWTAuth(wdmiddleware.JWTOptions{
			Secret:  cfg.JWTSecret,
			JWKSURL: cfg.JWKSURL,
			Logger:  logger,
		})
	case config.AuthModeNone:
		logger.Warn("authentication disabled, all requests act as a local reviewer")
		return wdmiddleware.NoAuth(""), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}
}

// HealthCheck reports whether a backing dependency is usable.
type HealthCheck func(ctx context.Context) error

// NewRouter builds the HTTP routes. /healthz and /metrics are public;
// everything else goes through authn. A nil health check always reports ok.
func NewRouter(cfg *config.Config, authn func(http.Handler) http.Handler, health HealthCheck, drafts *DraftHandler, attachments *AttachmentHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(wdmiddleware.EchoRequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(wdmiddleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(wdmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
	r.Use(wdmiddleware.Metrics())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if authn != nil {
			r.Use(authn)
		}
		if drafts != nil {
			drafts.RegisterRoutes(r)
		}
		if attachments != nil {
			attachments.RegisterRoutes(r)
		}
	})

	return r
}
