package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func claimsFor(sub string, roles ...string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
}

func signHS256(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func mustMiddleware(t *testing.T, cfg Config) echo.MiddlewareFunc {
	t.Helper()
	mw, err := JWTMiddleware(cfg)
	if err != nil {
		t.Fatalf("JWTMiddleware: %v", err)
	}
	return mw
}

func serve(mw echo.MiddlewareFunc, path, authz string) (echo.Context, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authz != "" {
		req.Header.Set(echo.HeaderAuthorization, authz)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath(path)
	var seen echo.Context
	err := mw(func(c echo.Context) error {
		seen = c
		return nil
	})(c)
	return seen, err
}

func codeOf(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 0
}

func TestJWTMiddleware_NotConfigured(t *testing.T) {
	if _, err := JWTMiddleware(Config{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestJWTMiddleware_HS256(t *testing.T) {
	mw := mustMiddleware(t, Config{SigningKey: testSigningKey, Issuer: "ocbridge"})

	valid := claimsFor("mirth-channel", "resolver")
	valid.Issuer = "ocbridge"
	expired := claimsFor("mirth-channel")
	expired.Issuer = "ocbridge"
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	wrongIssuer := claimsFor("mirth-channel")
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name  string
		authz string
		want  int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong key", "Bearer " + signHS256(t, valid, []byte("other-key")), http.StatusUnauthorized},
		{"expired", "Bearer " + signHS256(t, expired, testSigningKey), http.StatusUnauthorized},
		{"no expiry", "Bearer " + signHS256(t, noExpiry, testSigningKey), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + signHS256(t, wrongIssuer, testSigningKey), http.StatusUnauthorized},
		{"valid", "Bearer " + signHS256(t, valid, testSigningKey), 0},
		{"lowercase scheme", "bearer " + signHS256(t, valid, testSigningKey), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := serve(mw, "/api/v1/studies", tt.authz)
			if got := codeOf(err); got != tt.want {
				t.Fatalf("expected status %d, got %d (%v)", tt.want, got, err)
			}
			if tt.want != 0 {
				return
			}
			if got := c.Get(SubjectKey); got != "mirth-channel" {
				t.Errorf("expected subject on echo context, got %v", got)
			}
			if got := SubjectFromContext(c.Request().Context()); got != "mirth-channel" {
				t.Errorf("expected subject on request context, got %q", got)
			}
		})
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	mw := mustMiddleware(t, Config{SigningKey: testSigningKey, Skipper: Skipper})

	for _, path := range []string{"/health", "/metrics"} {
		if _, err := serve(mw, path, ""); err != nil {
			t.Errorf("%s: expected public access, got %v", path, err)
		}
	}
	for _, path := range []string{"/api/v1/odm/resolve", "/", "/health/extra"} {
		if _, err := serve(mw, path, ""); codeOf(err) != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %v", path, err)
		}
	}
}

func TestRequireRole(t *testing.T) {
	mw := mustMiddleware(t, Config{SigningKey: testSigningKey})
	chain := func(next echo.HandlerFunc) echo.HandlerFunc {
		return mw(RequireRole(RoleAdmin, RoleResolver)(next))
	}

	tests := []struct {
		name  string
		roles []string
		want  int
	}{
		{"admin", []string{RoleAdmin}, 0},
		{"resolver", []string{"viewer", RoleResolver}, 0},
		{"no matching role", []string{"viewer"}, http.StatusForbidden},
		{"no roles", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := serve(chain, "/api/v1/cache", "Bearer "+signHS256(t, claimsFor("caller", tt.roles...), testSigningKey))
			if got := codeOf(err); got != tt.want {
				t.Errorf("expected %d, got %d (%v)", tt.want, got, err)
			}
		})
	}

	if _, err := serve(RequireRole(RoleAdmin), "/api/v1/cache", ""); codeOf(err) != http.StatusUnauthorized {
		t.Errorf("expected 401 without claims, got %v", err)
	}
}

func TestDevMiddleware(t *testing.T) {
	chain := func(next echo.HandlerFunc) echo.HandlerFunc {
		return DevMiddleware()(RequireRole(RoleAdmin)(next))
	}
	c, err := serve(chain, "/api/v1/cache", "")
	if err != nil {
		t.Fatalf("expected dev claims to pass, got %v", err)
	}
	if got := SubjectFromContext(c.Request().Context()); got != "dev-user" {
		t.Errorf("expected dev-user, got %q", got)
	}
}

func TestJWTMiddleware_JWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{
			{"kty": "EC", "kid": "ignored"},
			{
				"kty": "RSA",
				"kid": "k1",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			},
		}})
	}))
	defer srv.Close()

	mw := mustMiddleware(t, Config{JWKS: NewJWKSCache(srv.URL, time.Minute)})
	sign := func(kid string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claimsFor("svc"))
		tok.Header["kid"] = kid
		s, err := tok.SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return "Bearer " + s
	}

	for i := 0; i < 2; i++ {
		if _, err := serve(mw, "/api/v1/studies", sign("k1")); err != nil {
			t.Fatalf("request %d: expected valid RS256 token, got %v", i, err)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("expected keys cached after first fetch, got %d fetches", n)
	}
	if _, err := serve(mw, "/api/v1/studies", sign("unknown")); codeOf(err) != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown kid, got %v", err)
	}
	if _, err := serve(mw, "/api/v1/studies", "Bearer "+signHS256(t, claimsFor("svc"), testSigningKey)); codeOf(err) != http.StatusUnauthorized {
		t.Errorf("expected HS256 rejected in JWKS mode, got %v", err)
	}
}
