// Package repositories is the boundary to the remote document store. Loose
// documents are decoded into typed models here, before business logic sees
// them.
package repositories

import (
	"context"
	"time"

	"github.com/anonto42/nano-midea/chatsync/internal/live"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collection names in the document store.
const (
	PublicProfilesCollection = "publicProfiles"
	UsersCollection          = "users"
	UsernamesCollection      = "usernames"
	FriendsCollection        = "friends"
	ConversationsCollection  = "conversations"
	MessagesSubcollection    = "messages"
)

// ProfileRepository defines read access to the profile projections
type ProfileRepository interface {
	// GetPublicProfile returns nil, nil when the user has no public projection.
	GetPublicProfile(ctx context.Context, uid string) (*models.PublicProfile, error)
	// GetPrivateProfile returns nil, nil when the user document is missing.
	GetPrivateProfile(ctx context.Context, uid string) (*models.PrivateProfile, error)
	// UsernameByUID returns "" when the user never claimed a handle.
	UsernameByUID(ctx context.Context, uid string) (string, error)
	// UIDByUsername returns "" when the handle is unclaimed.
	UIDByUsername(ctx context.Context, handle string) (string, error)
	SearchUsernames(ctx context.Context, prefix string, limit int) ([]models.UsernameEntry, error)
}

// FriendshipRepository defines the interface for friend relationship documents
type FriendshipRepository interface {
	// GetRelationship returns nil, nil when no document exists.
	GetRelationship(ctx context.Context, id string) (*models.FriendRelationship, error)
	// CreatePending writes a pending request on the pair document. The
	// existing document, if any, decides the outcome atomically.
	CreatePending(ctx context.Context, from, to string) (*models.FriendRelationship, error)
	// TransitionRelationship moves the document from expect to next.
	TransitionRelationship(ctx context.Context, id string, expect, next models.FriendStatus) error
	WatchIncoming(ctx context.Context, uid string) live.Subscription[[]models.FriendRelationship]
	WatchOutgoing(ctx context.Context, uid string) live.Subscription[[]models.FriendRelationship]
	WatchAccepted(ctx context.Context, uid string) live.Subscription[[]models.FriendRelationship]
}

// ConversationRepository defines the interface for conversation documents
type ConversationRepository interface {
	// WatchConversations follows conversations containing uid. When ordered
	// is true the store sorts by updatedAt desc, which may need an index.
	WatchConversations(ctx context.Context, uid string, ordered bool, limit int) live.Subscription[[]models.Conversation]
	FindConversationsByPairKey(ctx context.Context, pairKey string) ([]models.Conversation, error)
	// CreateConversation returns the existing canonical conversation of the
	// pair or creates one, atomically.
	CreateConversation(ctx context.Context, a, b string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
}

// MessageRepository defines the interface for the per-conversation message stream
type MessageRepository interface {
	// SendMessage writes the message and the conversation summary in one
	// transaction.
	SendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error)
	// WatchRecentMessages follows the newest limit messages, newest first.
	WatchRecentMessages(ctx context.Context, conversationID string, limit int) live.Subscription[[]models.Message]
	// MessagesPage returns up to limit messages older than before, newest first.
	MessagesPage(ctx context.Context, conversationID string, before models.MessageCursor, limit int) ([]models.Message, error)
	// WatchMessagesSince follows every message created strictly after after.
	WatchMessagesSince(ctx context.Context, conversationID string, after time.Time) live.Subscription[[]models.Message]
}

// Store groups the repositories of one backend.
type Store struct {
	Profiles      ProfileRepository
	Friendships   FriendshipRepository
	Conversations ConversationRepository
	Messages      MessageRepository
}

// IsMissingIndex reports whether err is the store's "query needs a
// composite index" failure.
func IsMissingIndex(err error) bool {
	return status.Code(err) == codes.FailedPrecondition
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// MissingIndexError is the failure returned for an unindexed ordered query.
func MissingIndexError(query string) error {
	return status.Errorf(codes.FailedPrecondition, "the query %s requires an index", query)
}
