// Package echomw provides Echo middlewares used by the safe-bite API server.
package echomw

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
)

const (
	// Env var read by TokenFromEnv.
	EnvAPIBearerToken = "SAFE_BITE_API_TOKEN"

	// Realm for WWW-Authenticate header.
	authRealm = "safe-bite"
)

// TokenFromEnv returns the trimmed SAFE_BITE_API_TOKEN value.
func TokenFromEnv() string {
	return strings.TrimSpace(os.Getenv(EnvAPIBearerToken))
}

/*
RequireBearerToken validates Authorization: Bearer <token> against expected.
An empty expected token rejects every request, on failure responds 401.
*/
func RequireBearerToken(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if expected == "" {
				return unauthorized(c)
			}

			received, ok := bearerToken(c.Request().Header.Get("Authorization"))
			if !ok {
				return unauthorized(c)
			}
			if subtle.ConstantTimeCompare([]byte(received), []byte(expected)) != 1 {
				return unauthorized(c)
			}
			return next(c)
		}
	}
}

// scheme is case-insensitive per RFC 6750, extra spaces allowed
func bearerToken(header string) (string, bool) {
	auth := strings.TrimSpace(header)
	const bearer = "bearer "
	if len(auth) < len(bearer) || !strings.EqualFold(auth[:len(bearer)], bearer) {
		return "", false
	}
	received := strings.TrimSpace(auth[len(bearer):])
	return received, received != ""
}

func unauthorized(c echo.Context) error {
	LogRouteAccess(c, tl.Info, "Unauthorized access attempt", palette.Yellow)

	// avoids browser basic-auth popups
	c.Response().Header().Set("WWW-Authenticate", `Bearer realm="`+authRealm+`"`)
	return c.JSON(http.StatusUnauthorized, map[string]string{
		"error": "unauthorized",
	})
}
