package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

// runMiddleware executes mw against a request carrying the given headers
// and returns the caller identity the handler saw.
func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, headers map[string]string) (string, []string, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var (
		addr  string
		roles []string
	)
	err := mw(func(c echo.Context) error {
		addr = CallerAddressFromContext(c.Request().Context())
		roles = RolesFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})(c)
	return addr, roles, err
}

func expectUnauthorized(t *testing.T, err error) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), nil)
	expectUnauthorized(t, err)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		t.Run(header, func(t *testing.T) {
			_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}),
				map[string]string{"Authorization": header})
			expectUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_AddressClaim(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Address: "0xa11ce",
		Roles:   []string{"patient"},
	}, testSigningKey)

	addr, roles, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}),
		map[string]string{"Authorization": "Bearer " + token})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "0xa11ce" {
		t.Errorf("expected address claim to win, got %q", addr)
	}
	if len(roles) != 1 || roles[0] != "patient" {
		t.Errorf("unexpected roles %v", roles)
	}
}

func TestJWTMiddleware_SubjectFallback(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "0xd0c",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSigningKey)

	addr, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}),
		map[string]string{"Authorization": "Bearer " + token})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "0xd0c" {
		t.Errorf("expected subject as address, got %q", addr)
	}
}

func TestJWTMiddleware_NoIdentity(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}, testSigningKey)

	_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}),
		map[string]string{"Authorization": "Bearer " + token})
	expectUnauthorized(t, err)
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "0xa11ce",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSigningKey)

	_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}),
		map[string]string{"Authorization": "Bearer " + token})
	expectUnauthorized(t, err)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "0xa11ce"},
	}, []byte("another-key"))

	_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}),
		map[string]string{"Authorization": "Bearer " + token})
	expectUnauthorized(t, err)
}

func TestJWTMiddleware_IssuerAndAudience(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "https://idp.medledger.test", Audience: "medledger"}
	good := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "0xa11ce",
			Issuer:   "https://idp.medledger.test",
			Audience: jwt.ClaimStrings{"medledger"},
		},
	}, testSigningKey)
	bad := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "0xa11ce",
			Issuer:   "https://evil.test",
			Audience: jwt.ClaimStrings{"medledger"},
		},
	}, testSigningKey)

	if _, _, err := runMiddleware(t, JWTMiddleware(cfg), map[string]string{"Authorization": "Bearer " + good}); err != nil {
		t.Errorf("expected valid token, got %v", err)
	}
	_, _, err := runMiddleware(t, JWTMiddleware(cfg), map[string]string{"Authorization": "Bearer " + bad})
	expectUnauthorized(t, err)
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: func(echo.Context) bool { return true }}
	addr, _, err := runMiddleware(t, JWTMiddleware(cfg), nil)
	if err != nil {
		t.Fatalf("expected skipped request to pass, got %v", err)
	}
	if addr != "" {
		t.Errorf("expected no caller for skipped request, got %q", addr)
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	addr, roles, err := runMiddleware(t, DevAuthMiddleware(nil), map[string]string{
		HeaderCallerAddress: " 0xa11ce ",
		HeaderCallerRoles:   "patient, admin,",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "0xa11ce" {
		t.Errorf("expected trimmed address, got %q", addr)
	}
	if len(roles) != 2 || roles[0] != "patient" || roles[1] != "admin" {
		t.Errorf("unexpected roles %v", roles)
	}
}

func TestDevAuthMiddleware_MissingAddress(t *testing.T) {
	_, _, err := runMiddleware(t, DevAuthMiddleware(nil), nil)
	expectUnauthorized(t, err)
}
