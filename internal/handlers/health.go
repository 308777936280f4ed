package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandler reports liveness and the bound identity.
type HealthHandler struct {
	service string
	uid     func() string
}

func NewHealthHandler(service string, uid func() string) *HealthHandler {
	return &HealthHandler{service: service, uid: uid}
}

func (h *HealthHandler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   h.service,
		"signed_in": h.uid() != "",
	})
}
