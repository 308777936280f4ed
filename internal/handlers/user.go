package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/profilecache"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories"
)

const defaultSearchLimit = 10

// UserHandler serves profile lookups
type UserHandler struct {
	repo     repositories.ProfileRepository
	profiles *profilecache.Cache
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(repo repositories.ProfileRepository, profiles *profilecache.Cache) *UserHandler {
	return &UserHandler{repo: repo, profiles: profiles}
}

// RegisterProfileRoutes registers user routes
func (h *UserHandler) RegisterProfileRoutes(g *echo.Group) {
	g.GET("/users/search", h.SearchUsers)
	g.GET("/users/:uid", h.GetUser)
}

// GetUser returns the cached display profile of uid.
func (h *UserHandler) GetUser(c echo.Context) error {
	p, err := h.profiles.Get(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return httpError(err)
	}
	if p == nil {
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	}
	return c.JSON(http.StatusOK, p)
}

// SearchUsers finds users whose handle starts with ?q=.
func (h *UserHandler) SearchUsers(c echo.Context) error {
	var req models.SearchUsersRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	prefix := models.NormalizeHandle(req.Query)
	if prefix == "" {
		return c.JSON(http.StatusOK, []*models.UserProfile{})
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultSearchLimit
	}

	entries, err := h.repo.SearchUsernames(c.Request().Context(), prefix, limit)
	if err != nil {
		return httpError(err)
	}
	uids := make([]string, 0, len(entries))
	for _, e := range entries {
		uids = append(uids, e.UID)
	}
	found, err := h.profiles.GetMany(c.Request().Context(), uids)
	if err != nil {
		return httpError(err)
	}

	out := make([]*models.UserProfile, 0, len(entries))
	for _, e := range entries {
		if p := found[e.UID]; p != nil {
			out = append(out, p)
		}
	}
	return c.JSON(http.StatusOK, out)
}
