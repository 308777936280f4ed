package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/chatsync/internal/chatlist"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/session"
)

// ChatHandler serves the conversation list of the bound identity
type ChatHandler struct {
	session *session.Session
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(sess *session.Session) *ChatHandler {
	return &ChatHandler{session: sess}
}

// RegisterChatRoutes registers conversation list routes
func (h *ChatHandler) RegisterChatRoutes(g *echo.Group) {
	g.GET("/chats", h.ListChats)
	g.POST("/chats/open", h.OpenChat)
	g.POST("/chats/:id/favorite", h.ToggleFavorite)
	g.DELETE("/session", h.Logout)
}

type chatListResponse struct {
	Tab     chatlist.Tab   `json:"tab"`
	Loading bool           `json:"loading"`
	Rows    []chatlist.Row `json:"rows"`
}

// ListChats returns the sorted rows, filtered by ?tab= and ?q=.
func (h *ChatHandler) ListChats(c echo.Context) error {
	tab := chatlist.ParseTab(c.QueryParam("tab"))
	list := h.session.List()
	return c.JSON(http.StatusOK, chatListResponse{
		Tab:     tab,
		Loading: list.Loading(),
		Rows:    list.Filtered(tab, c.QueryParam("q")),
	})
}

// OpenChat returns the conversation with a friend, creating it on first use.
func (h *ChatHandler) OpenChat(c echo.Context) error {
	var req models.OpenChatRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	conv, err := h.session.OpenChat(c.Request().Context(), req.OtherID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

// ToggleFavorite flips the favorite flag of a row, real or virtual.
func (h *ChatHandler) ToggleFavorite(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid chat ID")
	}
	on := h.session.List().ToggleFavorite(id)
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "favorite": on})
}

// Logout tears down the bound identity.
func (h *ChatHandler) Logout(c echo.Context) error {
	h.session.Logout()
	return c.NoContent(http.StatusNoContent)
}
