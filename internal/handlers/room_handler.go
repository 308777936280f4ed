package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/session"
)

// RoomHandler serves open chat rooms
type RoomHandler struct {
	session *session.Session
}

// NewRoomHandler creates a new RoomHandler
func NewRoomHandler(sess *session.Session) *RoomHandler {
	return &RoomHandler{session: sess}
}

// RegisterRoomRoutes registers chat room routes
func (h *RoomHandler) RegisterRoomRoutes(g *echo.Group) {
	g.GET("/rooms/:id", h.GetRoom)
	g.POST("/rooms/:id/messages", h.SendMessage)
	g.POST("/rooms/:id/more", h.LoadMore)
	g.DELETE("/rooms/:id", h.CloseRoom)
}

// GetRoom opens the room if needed and returns its bubbles.
func (h *RoomHandler) GetRoom(c echo.Context) error {
	room, err := h.session.Room(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, room.View())
}

// SendMessage sends text optimistically. The pending bubble is returned
// even when the store confirms it before the response is written.
func (h *RoomHandler) SendMessage(c echo.Context) error {
	var req models.SendMessageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	room, err := h.session.Room(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	pending, err := room.Send(c.Request().Context(), req.Text)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, pending)
}

// LoadMore pages older history into the room.
func (h *RoomHandler) LoadMore(c echo.Context) error {
	room, err := h.session.OpenRoom(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	added, err := room.LoadMore(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	view := room.View()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"added":    added,
		"has_more": view.HasMore,
		"messages": view.Messages,
	})
}

// CloseRoom releases the room's subscriptions.
func (h *RoomHandler) CloseRoom(c echo.Context) error {
	if !h.session.CloseRoom(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "Room is not open")
	}
	return c.NoContent(http.StatusNoContent)
}
