package router

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/anonto42/nano-midea/chatsync/internal/handlers"
	"github.com/anonto42/nano-midea/chatsync/internal/metrics"
	"github.com/anonto42/nano-midea/chatsync/internal/middleware"
	"github.com/anonto42/nano-midea/chatsync/internal/resetcode"
	"github.com/anonto42/nano-midea/chatsync/internal/session"
)

// Deps holds what the routes need.
type Deps struct {
	Session    *session.Session
	Verifier   middleware.TokenVerifier
	ResetCodes *resetcode.Client
	Log        zerolog.Logger
}

// SetupRoutes configures all application routes and injects dependencies
func SetupRoutes(e *echo.Echo, d Deps) {
	health := handlers.NewHealthHandler("chatsync", d.Session.UID)
	e.GET("/health", health.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// --- Unprotected routes for password reset ---
	authGroup := e.Group("/api/v1/auth")
	handlers.NewAuthHandler(d.ResetCodes).RegisterAuthRoutes(authGroup)

	// --- Protected routes (require a Firebase ID token) ---
	api := e.Group("/api/v1")
	api.Use(middleware.FirebaseAuthMiddleware(d.Verifier))
	api.Use(middleware.BindSession(d.Session, d.Log))

	handlers.NewChatHandler(d.Session).RegisterChatRoutes(api)
	handlers.NewRoomHandler(d.Session).RegisterRoomRoutes(api)
	handlers.NewFriendshipHandler(d.Session).RegisterFriendshipRoutes(api)
	handlers.NewUserHandler(d.Session.Store().Profiles, d.Session.Profiles()).RegisterProfileRoutes(api)
	handlers.NewNotificationHandler(d.Session.Notifications()).RegisterNotificationRoutes(api)

	d.Log.Info().Int("routes", len(e.Routes())).Msg("routes configured")
}
