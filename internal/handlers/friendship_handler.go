package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/chatsync/internal/middleware"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/session"
)

// FriendshipHandler handles HTTP requests related to friendships
type FriendshipHandler struct {
	session *session.Session
}

// NewFriendshipHandler creates a new FriendshipHandler
func NewFriendshipHandler(sess *session.Session) *FriendshipHandler {
	return &FriendshipHandler{session: sess}
}

// RegisterFriendshipRoutes registers friendship-related routes
func (h *FriendshipHandler) RegisterFriendshipRoutes(g *echo.Group) {
	g.POST("/friends/request", h.SendFriendRequest)
	g.PUT("/friends/request/:id/status", h.UpdateFriendRequestStatus)
	g.DELETE("/friends/request/:id", h.CancelFriendRequest)
	g.GET("/friends", h.GetFriends)
}

// friendsResponse carries the three views plus display profiles of every
// counterpart.
type friendsResponse struct {
	models.FriendsOverview
	Profiles map[string]*models.UserProfile `json:"profiles"`
}

// SendFriendRequest handles sending a friend request by uid or handle
func (h *FriendshipHandler) SendFriendRequest(c echo.Context) error {
	me := middleware.UID(c)

	var req models.CreateFriendRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	var (
		rel *models.FriendRelationship
		err error
	)
	if req.To != "" {
		rel, err = h.session.Friends().Send(ctx, me, req.To)
	} else {
		rel, err = h.session.Friends().SendByHandle(ctx, me, req.Handle)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rel)
}

// UpdateFriendRequestStatus lets the recipient accept or reject a request
func (h *FriendshipHandler) UpdateFriendRequestStatus(c echo.Context) error {
	me := middleware.UID(c)

	var req models.UpdateFriendRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	id := c.Param("id")
	accept := models.FriendStatus(req.Status) == models.FriendAccepted
	if err := h.session.Friends().Respond(c.Request().Context(), me, id, accept); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

// CancelFriendRequest withdraws the caller's own pending request
func (h *FriendshipHandler) CancelFriendRequest(c echo.Context) error {
	if err := h.session.Friends().Cancel(c.Request().Context(), middleware.UID(c), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetFriends returns incoming, outgoing and accepted relationships
func (h *FriendshipHandler) GetFriends(c echo.Context) error {
	me := middleware.UID(c)
	overview := h.session.Friends().Overview()

	var uids []string
	for _, group := range [][]models.FriendRelationship{overview.Incoming, overview.Outgoing, overview.Accepted} {
		for i := range group {
			uids = append(uids, group[i].Other(me))
		}
	}
	profiles, err := h.session.Profiles().GetMany(c.Request().Context(), uids)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, friendsResponse{FriendsOverview: overview, Profiles: profiles})
}
