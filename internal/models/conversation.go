package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

const previewLimit = 140

// VirtualPrefix marks list rows for friends with no conversation yet.
const VirtualPrefix = "temp:"

// VirtualID is the row id of a friend with no conversation yet.
func VirtualID(uid string) string { return VirtualPrefix + uid }

// IsVirtual reports whether id names a synthesized row.
func IsVirtual(id string) bool { return strings.HasPrefix(id, VirtualPrefix) }

// Conversation is a durable one-to-one thread.
type Conversation struct {
	ID            string                `json:"id"`
	Members       []string              `json:"members"`
	PairKey       string                `json:"pair_key"`
	LastMessage   string                `json:"last_message,omitempty"`
	LastSenderID  string                `json:"last_sender_id,omitempty"`
	LastMessageAt *time.Time            `json:"last_message_at,omitempty"`
	UpdatedAt     *time.Time            `json:"updated_at,omitempty"`
	CreatedAt     *time.Time            `json:"created_at,omitempty"`
	MembersMeta   map[string]MemberMeta `json:"members_meta,omitempty"`
}

// MemberMeta is optional display data denormalized onto a conversation.
type MemberMeta struct {
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Username    string `json:"username,omitempty"`
}

// Counterpart returns the other member of the conversation.
func (c *Conversation) Counterpart(me string) string {
	for _, m := range c.Members {
		if m != me {
			return m
		}
	}
	return ""
}

// ActivityAt is the most recent server activity, lastMessageAt then updatedAt.
func (c *Conversation) ActivityAt() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	if c.UpdatedAt != nil {
		return *c.UpdatedAt
	}
	return time.Time{}
}

// Canonical picks the conversation that represents a pair when several
// documents share its pair key: latest activity wins, ties go to the lowest id.
func Canonical(convs []Conversation) (Conversation, bool) {
	if len(convs) == 0 {
		return Conversation{}, false
	}
	best := convs[0]
	for _, c := range convs[1:] {
		ba, ca := best.ActivityAt(), c.ActivityAt()
		if ca.After(ba) || (ca.Equal(ba) && c.ID < best.ID) {
			best = c
		}
	}
	return best, true
}

// Preview trims text and shortens it to the conversation summary length.
func Preview(text string) string {
	t := strings.TrimSpace(text)
	if utf8.RuneCountInString(t) <= previewLimit {
		return t
	}
	r := []rune(t)
	return string(r[:previewLimit]) + "…"
}

// OpenChatRequest defines the request body to open a chat with a friend
type OpenChatRequest struct {
	OtherID string `json:"other_id" validate:"required"`
}
