// Package auth authenticates API callers with bearer JWTs, signed either
// with a shared HS256 key or with RS256 keys published at a JWKS endpoint.
package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const claimsKey contextKey = "auth_claims"

// SubjectKey is the echo context key holding the token subject.
const SubjectKey = "auth_subject"

const (
	// RoleResolver may resolve documents and read studies and runs.
	RoleResolver = "resolver"
	// RoleAdmin may additionally drop caches.
	RoleAdmin = "admin"
)

type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether the claims grant role.
func (c *Claims) HasRole(role string) bool {
	return c != nil && slices.Contains(c.Roles, role)
}

type Config struct {
	Issuer   string
	Audience string
	// SigningKey enables HS256 verification.
	SigningKey []byte
	// JWKS enables RS256 verification; used when SigningKey is empty.
	JWKS *JWKSCache
	// Skipper bypasses authentication for matching requests.
	Skipper func(echo.Context) bool
}

// ErrNotConfigured is returned by JWTMiddleware without any key source.
var ErrNotConfigured = errors.New("auth: no signing key or JWKS configured")

func JWTMiddleware(cfg Config) (echo.MiddlewareFunc, error) {
	if len(cfg.SigningKey) == 0 && cfg.JWKS == nil {
		return nil, ErrNotConfigured
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if len(cfg.SigningKey) > 0 {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, tokenStr, found := strings.Cut(header, " ")
			tokenStr = strings.TrimSpace(tokenStr)
			if !found || !strings.EqualFold(scheme, "bearer") || tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			keyFunc := func(*jwt.Token) (any, error) { return cfg.SigningKey, nil }
			if len(cfg.SigningKey) == 0 {
				keyFunc = cfg.JWKS.KeyFunc(c.Request().Context())
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, keyFunc)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(SubjectKey, claims.Subject)
			c.SetRequest(c.Request().WithContext(context.WithValue(c.Request().Context(), claimsKey, claims)))
			return next(c)
		}
	}, nil
}

// RequireRole rejects callers holding none of roles with 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := ClaimsFromContext(c.Request().Context())
			if claims == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			for _, role := range roles {
				if claims.HasRole(role) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
		}
	}
}

// DevMiddleware grants every request admin claims. For development only.
func DevMiddleware() echo.MiddlewareFunc {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "dev-user"},
		Roles:            []string{RoleAdmin, RoleResolver},
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(SubjectKey, claims.Subject)
			c.SetRequest(c.Request().WithContext(context.WithValue(c.Request().Context(), claimsKey, claims)))
			return next(c)
		}
	}
}

func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// SubjectFromContext returns the authenticated subject, or "".
func SubjectFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}
