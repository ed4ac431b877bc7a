// Package auth resolves the verified caller address for each request. The
// registry trusts this value and nothing else.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	CallerAddressKey contextKey = "caller_address"
	RolesKey         contextKey = "caller_roles"
)

// Dev mode identity headers.
const (
	HeaderCallerAddress = "X-Caller-Address"
	HeaderCallerRoles   = "X-Caller-Roles"
)

// Claims carries the caller's wallet address in the "address" claim, or in
// "sub" when the issuer puts it there.
type Claims struct {
	jwt.RegisteredClaims
	Address string   `json:"address,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// CallerAddress returns the address the token was issued for.
func (c *Claims) CallerAddress() string {
	if c.Address != "" {
		return c.Address
	}
	return c.Subject
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 tokens for development and tests.
	SigningKey []byte
	// Skipper bypasses authentication for matching requests.
	Skipper func(echo.Context) bool
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	} else {
		jwksURL := cfg.JWKSURL
		if jwksURL == "" && cfg.Issuer != "" {
			if p, err := DiscoverOIDC(cfg.Issuer); err == nil {
				jwksURL = p.JWKSURI
			}
		}
		keyFunc = NewJWKSCache(jwksURL, defaultJWKSCacheTTL).KeyFunc()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, tokenStr, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenStr), claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.CallerAddress() == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token carries no caller address")
			}

			ctx := WithCaller(c.Request().Context(), claims.CallerAddress(), claims.Roles...)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware trusts the X-Caller-Address and X-Caller-Roles headers.
// It must only be installed in development.
func DevAuthMiddleware(skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}
			addr := strings.TrimSpace(c.Request().Header.Get(HeaderCallerAddress))
			if addr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing "+HeaderCallerAddress+" header")
			}
			var roles []string
			for _, r := range strings.Split(c.Request().Header.Get(HeaderCallerRoles), ",") {
				if r = strings.TrimSpace(r); r != "" {
					roles = append(roles, r)
				}
			}
			c.SetRequest(c.Request().WithContext(WithCaller(c.Request().Context(), addr, roles...)))
			return next(c)
		}
	}
}

// WithCaller returns a copy of ctx carrying a verified caller identity.
func WithCaller(ctx context.Context, address string, roles ...string) context.Context {
	ctx = context.WithValue(ctx, CallerAddressKey, address)
	return context.WithValue(ctx, RolesKey, roles)
}

func CallerAddressFromContext(ctx context.Context) string {
	addr, _ := ctx.Value(CallerAddressKey).(string)
	return addr
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(RolesKey).([]string)
	return roles
}
