package repositories

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/anonto42/nano-midea/chatsync/internal/live"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	apperr "github.com/anonto42/nano-midea/chatsync/pkg/errors"
	"github.com/rs/zerolog"
)

// FirestoreMessageRepository implements MessageRepository for Firestore
type FirestoreMessageRepository struct {
	client *firestore.Client
	log    zerolog.Logger
}

// NewFirestoreMessageRepository creates a new FirestoreMessageRepository
func NewFirestoreMessageRepository(client *firestore.Client, log zerolog.Logger) *FirestoreMessageRepository {
	return &FirestoreMessageRepository{client: client, log: log.With().Str("repo", "messages").Logger()}
}

func (r *FirestoreMessageRepository) messages(conversationID string) *firestore.CollectionRef {
	return r.client.Collection(ConversationsCollection).Doc(conversationID).Collection(MessagesSubcollection)
}

// SendMessage writes both field spellings (senderId/authorId,
// createdAt/sentAt) so older readers keep working.
func (r *FirestoreMessageRepository) SendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, apperr.ErrEmptyMessage
	}
	convRef := r.client.Collection(ConversationsCollection).Doc(conversationID)
	msgRef := convRef.Collection(MessagesSubcollection).NewDoc()

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(msgRef, map[string]interface{}{
			"id":        msgRef.ID,
			"text":      trimmed,
			"senderId":  senderID,
			"authorId":  senderID,
			"createdAt": firestore.ServerTimestamp,
			"sentAt":    firestore.ServerTimestamp,
			"type":      "text",
		}); err != nil {
			return err
		}
		return tx.Set(convRef, map[string]interface{}{
			"lastMessage":   models.Preview(trimmed),
			"lastMessageAt": firestore.ServerTimestamp,
			"lastSenderId":  senderID,
			"updatedAt":     firestore.ServerTimestamp,
		}, firestore.MergeAll)
	})
	if err != nil {
		return nil, err
	}
	return &models.Message{
		ID:             msgRef.ID,
		ConversationID: conversationID,
		Text:           trimmed,
		SenderID:       senderID,
	}, nil
}

func (r *FirestoreMessageRepository) decoder(conversationID string) func(*firestore.DocumentSnapshot) (models.Message, bool) {
	return func(doc *firestore.DocumentSnapshot) (models.Message, bool) {
		return decodeMessage(conversationID, doc)
	}
}

func (r *FirestoreMessageRepository) WatchRecentMessages(ctx context.Context, conversationID string, limit int) live.Subscription[[]models.Message] {
	q := r.messages(conversationID).OrderBy("createdAt", firestore.Desc).Limit(limit)
	return watchQuery(ctx, r.log, "messages.recent", q, r.decoder(conversationID))
}

func (r *FirestoreMessageRepository) MessagesPage(ctx context.Context, conversationID string, before models.MessageCursor, limit int) ([]models.Message, error) {
	q := r.messages(conversationID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		StartAfter(before.CreatedAt, before.ID).
		Limit(limit)
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	decode := r.decoder(conversationID)
	out := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		if m, ok := decode(d); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *FirestoreMessageRepository) WatchMessagesSince(ctx context.Context, conversationID string, after time.Time) live.Subscription[[]models.Message] {
	q := r.messages(conversationID).Where("createdAt", ">", after)
	return watchQuery(ctx, r.log, "messages.since", q, r.decoder(conversationID))
}

// NewFirestoreStore wires every Firestore repository on one client.
func NewFirestoreStore(client *firestore.Client, log zerolog.Logger) Store {
	return Store{
		Profiles:      NewFirestoreProfileRepository(client),
		Friendships:   NewFirestoreFriendshipRepository(client, log),
		Conversations: NewFirestoreConversationRepository(client, log),
		Messages:      NewFirestoreMessageRepository(client, log),
	}
}
