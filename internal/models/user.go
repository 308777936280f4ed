package models

import (
	"regexp"
	"strings"
	"time"
)

// PlaceholderName is shown for users with no resolvable profile data.
const PlaceholderName = "User"

// MaxHandleLength bounds normalized handles.
const MaxHandleLength = 20

// UserProfile is the display projection of a user used by lists and rooms.
type UserProfile struct {
	UID         string  `json:"uid"`
	DisplayName string  `json:"display_name"`
	PhotoURL    *string `json:"photo_url,omitempty"`
	Username    *string `json:"username,omitempty"` // "@handle"
}

// Title returns the "@handle" if present, otherwise the display name.
func (p *UserProfile) Title() string {
	if p == nil {
		return PlaceholderName
	}
	if p.Username != nil && *p.Username != "" {
		return *p.Username
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return PlaceholderName
}

// PublicProfile is the world-readable projection stored per user id.
type PublicProfile struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Gamertag    string `json:"gamertag,omitempty"`
}

// PrivateProfile is the owner-readable user document.
type PrivateProfile struct {
	UID         string    `json:"uid"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	Gamertag    string    `json:"gamertag,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UsernameEntry maps a normalized handle to its owner.
type UsernameEntry struct {
	Handle    string    `json:"handle"`
	UID       string    `json:"uid"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	spaceRun       = regexp.MustCompile(`\s+`)
	handleDisallow = regexp.MustCompile(`[^a-z0-9._-]`)
)

// NormalizeHandle lowercases raw, turns whitespace runs into "_", drops
// anything outside [a-z0-9._-] and truncates to MaxHandleLength.
func NormalizeHandle(raw string) string {
	g := strings.ToLower(strings.TrimSpace(raw))
	g = strings.TrimPrefix(g, "@")
	g = spaceRun.ReplaceAllString(g, "_")
	g = handleDisallow.ReplaceAllString(g, "")
	if len(g) > MaxHandleLength {
		g = g[:MaxHandleLength]
	}
	return g
}

// SearchUsersRequest defines the query for a handle prefix search
type SearchUsersRequest struct {
	Query string `query:"q" validate:"required,min=1,max=20"`
	Limit int    `query:"limit" validate:"omitempty,min=1,max=50"`
}
