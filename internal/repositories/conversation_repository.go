package repositories

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/anonto42/nano-midea/chatsync/internal/live"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	apperr "github.com/anonto42/nano-midea/chatsync/pkg/errors"
	"github.com/rs/zerolog"
)

// FirestoreConversationRepository implements ConversationRepository for Firestore
type FirestoreConversationRepository struct {
	client *firestore.Client
	log    zerolog.Logger
}

// NewFirestoreConversationRepository creates a new FirestoreConversationRepository
func NewFirestoreConversationRepository(client *firestore.Client, log zerolog.Logger) *FirestoreConversationRepository {
	return &FirestoreConversationRepository{client: client, log: log.With().Str("repo", "conversations").Logger()}
}

func (r *FirestoreConversationRepository) col() *firestore.CollectionRef {
	return r.client.Collection(ConversationsCollection)
}

func (r *FirestoreConversationRepository) WatchConversations(ctx context.Context, uid string, ordered bool, limit int) live.Subscription[[]models.Conversation] {
	q := r.col().Where("members", "array-contains", uid)
	name := "conversations.unordered"
	if ordered {
		q = q.OrderBy("updatedAt", firestore.Desc)
		name = "conversations.ordered"
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return watchQuery(ctx, r.log, name, q, decodeConversation)
}

func (r *FirestoreConversationRepository) FindConversationsByPairKey(ctx context.Context, pairKey string) ([]models.Conversation, error) {
	docs, err := r.col().Where("pairKey", "==", pairKey).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return decodeConversations(docs), nil
}

// CreateConversation re-reads the pair key inside the transaction so two
// racing creators end up sharing one document.
func (r *FirestoreConversationRepository) CreateConversation(ctx context.Context, a, b string) (*models.Conversation, error) {
	if a == "" || b == "" || a == b {
		return nil, apperr.ErrInvalidPair
	}
	x, y := models.SortedPair(a, b)
	pairKey := models.PairKey(x, y)

	var result models.Conversation
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.Documents(r.col().Where("pairKey", "==", pairKey)).GetAll()
		if err != nil {
			return err
		}
		if existing, ok := models.Canonical(decodeConversations(docs)); ok {
			result = existing
			return nil
		}

		ref := r.col().NewDoc()
		result = models.Conversation{ID: ref.ID, Members: []string{x, y}, PairKey: pairKey}
		return tx.Create(ref, map[string]interface{}{
			"id":            ref.ID,
			"members":       []string{x, y},
			"pairKey":       pairKey,
			"lastMessage":   nil,
			"lastMessageAt": nil,
			"lastSenderId":  nil,
			"createdAt":     firestore.ServerTimestamp,
			"updatedAt":     firestore.ServerTimestamp,
		})
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *FirestoreConversationRepository) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	doc, err := r.col().Doc(id).Get(ctx)
	if isNotFound(err) {
		return nil, apperr.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	conv, ok := decodeConversation(doc)
	if !ok {
		return nil, apperr.ErrConversationNotFound
	}
	return &conv, nil
}

func decodeConversations(docs []*firestore.DocumentSnapshot) []models.Conversation {
	out := make([]models.Conversation, 0, len(docs))
	for _, d := range docs {
		if c, ok := decodeConversation(d); ok {
			out = append(out, c)
		}
	}
	return out
}
