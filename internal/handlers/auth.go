package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/chatsync/internal/resetcode"
)

// AuthHandler proxies the password reset code service
type AuthHandler struct {
	codes *resetcode.Client
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(codes *resetcode.Client) *AuthHandler {
	return &AuthHandler{codes: codes}
}

// RegisterAuthRoutes registers unauthenticated reset code routes
func (h *AuthHandler) RegisterAuthRoutes(g *echo.Group) {
	g.POST("/send-code", h.SendCode)
	g.POST("/verify-code", h.VerifyCode)
}

// SendCode emails a reset code.
func (h *AuthHandler) SendCode(c echo.Context) error {
	var req resetcode.SendCodeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	reply, err := h.codes.SendCode(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, reply)
}

// VerifyCode checks a reset code.
func (h *AuthHandler) VerifyCode(c echo.Context) error {
	var req resetcode.VerifyCodeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	reply, err := h.codes.VerifyCode(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, reply)
}
