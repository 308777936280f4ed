package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Binder binds the engine to an identity. *session.Session implements it.
type Binder interface {
	Login(ctx context.Context, uid string) error
}

// BindSession makes the verified uid the engine identity. A request from
// another uid replaces the bound identity.
func BindSession(binder Binder, log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uid := UID(c)
			if uid == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "request is not authenticated")
			}
			if err := binder.Login(c.Request().Context(), uid); err != nil {
				log.Error().Err(err).Str("uid", uid).Msg("session bind failed")
				return echo.NewHTTPError(http.StatusInternalServerError, "could not start session")
			}
			return next(c)
		}
	}
}
