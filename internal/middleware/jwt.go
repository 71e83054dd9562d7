package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWTOptions configures bearer token verification. At least one of Secret
// (HS256) or JWKSURL (RS256/ES256) must be set.
type JWTOptions struct {
	Secret       string
	JWKSURL      string
	ReviewerRole string
	Client       *http.Client
	Logger       *zap.Logger
}

type tokenClaims struct {
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (c *tokenClaims) hasRole(role string) bool {
	return c.Role == role || slices.Contains(c.Roles, role)
}

// JWTAuth verifies `Authorization: Bearer <token>`. The sub claim becomes
// the owner id; the role or roles claim grants review rights. The returned
// stop func ends the background JWKS refresh.
func JWTAuth(opts JWTOptions) (func(http.Handler) http.Handler, func(), error) {
	if opts.Secret == "" && opts.JWKSURL == "" {
		return nil, nil, errors.New("jwt auth: secret or JWKS URL required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ReviewerRole == "" {
		opts.ReviewerRole = "reviewer"
	}

	var jwks *keyfunc.JWKS
	stop := func() {}
	if opts.JWKSURL != "" {
		var err error
		jwks, err = keyfunc.Get(opts.JWKSURL, keyfunc.Options{
			Client:            opts.Client,
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				log.Warn("jwks refresh failed", zap.String("url", opts.JWKSURL), zap.Error(err))
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("jwt auth: load JWKS %s: %w", opts.JWKSURL, err)
		}
		stop = jwks.EndBackground
	}

	keyFn := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
			if opts.Secret == "" {
				return nil, errors.New("hmac tokens not accepted")
			}
			return []byte(opts.Secret), nil
		}
		if jwks == nil {
			return nil, fmt.Errorf("no key for alg %v", token.Header["alg"])
		}
		return jwks.Keyfunc(token)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "ES256"}),
		jwt.WithExpirationRequired(),
	)

	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := credential(w, r, "Bearer")
			if !ok {
				return
			}

			claims := &tokenClaims{}
			token, err := parser.ParseWithClaims(raw, claims, keyFn)
			if err != nil || !token.Valid {
				log.Debug("token rejected", zap.Error(err))
				writeAuthError(w, "Bearer", http.StatusUnauthorized, "invalid token")
				return
			}
			if claims.Subject == "" {
				writeAuthError(w, "Bearer", http.StatusUnauthorized, "token has no subject")
				return
			}

			ctx := WithPrincipal(r.Context(), Principal{ID: claims.Subject, Reviewer: claims.hasRole(opts.ReviewerRole)})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	return mw, stop, nil
}
