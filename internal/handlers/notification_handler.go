package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/chatsync/internal/notify"
)

// NotificationHandler exposes the transient notification center
type NotificationHandler struct {
	center *notify.Center
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(center *notify.Center) *NotificationHandler {
	return &NotificationHandler{center: center}
}

// RegisterNotificationRoutes registers notification routes
func (h *NotificationHandler) RegisterNotificationRoutes(g *echo.Group) {
	g.GET("/notifications", h.GetNotifications)
	g.DELETE("/notifications/:id", h.Dismiss)
}

// GetNotifications lists live notifications, newest first.
func (h *NotificationHandler) GetNotifications(c echo.Context) error {
	return c.JSON(http.StatusOK, h.center.List())
}

func (h *NotificationHandler) Dismiss(c echo.Context) error {
	if !h.center.Dismiss(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "Notification not found")
	}
	return c.NoContent(http.StatusNoContent)
}
