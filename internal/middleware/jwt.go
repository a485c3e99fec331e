// Package middleware contains reusable Echo middleware: bearer-token
// authentication and the redis token-bucket rate limiter.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rateguard/rateguard/internal/token"
)

// Context keys set by JWTAuth.
const (
	CtxUserID = "user_id"
	CtxEmail  = "email"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// with the codec and injects the subject user id and email into the request
// context. Refresh tokens are rejected here: the codec checks the type
// claim, so presenting a refresh token on a protected route is a 401.
func JWTAuth(codec *token.Codec) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims, err := codec.VerifyAccess(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			userID, err := claims.UserID()
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			c.Set(CtxUserID, userID)
			c.Set(CtxEmail, claims.Email)
			return next(c)
		}
	}
}

// UserID reads the authenticated user id set by JWTAuth. The bool is false
// on routes that were not wrapped by it.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(CtxUserID).(uint64)
	return id, ok
}
