package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const (
	bearerPrefix  = "Bearer "
	ctxKeyUserID  = "userID"
	anonymousUser = "local"
)

// bearerToken returns the JWT carried by an Authorization header value.
func bearerToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(raw, bearerPrefix)
	if !ok || token == "" || strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

// requireAuth rejects requests without a valid bearer token and stores the
// caller's id on the context. Clients that cannot set headers, such as
// EventSource, may pass the token in the "token" query parameter. A nil auth
// admits every request as the local user.
func requireAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if auth == nil {
				c.Set(ctxKeyUserID, anonymousUser)
				return next(c)
			}
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				if token := c.QueryParam("token"); token != "" {
					header = bearerPrefix + token
				}
			}
			userID, err := auth.UserIDFromAuthHeader(header)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
			}
			c.Set(ctxKeyUserID, userID)
			return next(c)
		}
	}
}

func userID(c echo.Context) string {
	if id, ok := c.Get(ctxKeyUserID).(string); ok && id != "" {
		return id
	}
	return anonymousUser
}
