package repositories

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/anonto42/nano-midea/chatsync/internal/live"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	apperr "github.com/anonto42/nano-midea/chatsync/pkg/errors"
	"github.com/rs/zerolog"
)

// FirestoreFriendshipRepository implements FriendshipRepository for Firestore
type FirestoreFriendshipRepository struct {
	client *firestore.Client
	log    zerolog.Logger
}

// NewFirestoreFriendshipRepository creates a new FirestoreFriendshipRepository
func NewFirestoreFriendshipRepository(client *firestore.Client, log zerolog.Logger) *FirestoreFriendshipRepository {
	return &FirestoreFriendshipRepository{client: client, log: log.With().Str("repo", "friends").Logger()}
}

func (r *FirestoreFriendshipRepository) col() *firestore.CollectionRef {
	return r.client.Collection(FriendsCollection)
}

func (r *FirestoreFriendshipRepository) GetRelationship(ctx context.Context, id string) (*models.FriendRelationship, error) {
	doc, err := r.col().Doc(id).Get(ctx)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rel, ok := decodeRelationship(doc)
	if !ok {
		return nil, nil
	}
	return &rel, nil
}

// CreatePending checks the pair document and merge-writes the request in
// one transaction, so crossing requests from both sides land on a single
// document and a status advanced by the other side is never overwritten.
func (r *FirestoreFriendshipRepository) CreatePending(ctx context.Context, from, to string) (*models.FriendRelationship, error) {
	id := models.RelationshipID(from, to)
	ref := r.col().Doc(id)
	x, y := models.SortedPair(from, to)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err == nil && doc.Exists() {
			if existing, ok := decodeRelationship(doc); ok {
				if err := PendingConflict(existing.Status); err != nil {
					return err
				}
			}
		}
		return tx.Set(ref, map[string]interface{}{
			"from":      from,
			"to":        to,
			"members":   []string{x, y},
			"status":    string(models.FriendPending),
			"createdAt": firestore.ServerTimestamp,
			"updatedAt": firestore.ServerTimestamp,
		}, firestore.MergeAll)
	})
	if err != nil {
		return nil, err
	}
	return &models.FriendRelationship{
		ID:      id,
		From:    from,
		To:      to,
		Members: []string{x, y},
		Status:  models.FriendPending,
	}, nil
}

// PendingConflict maps an existing status to the error a new request hits.
func PendingConflict(status models.FriendStatus) error {
	switch status {
	case models.FriendAccepted:
		return apperr.ErrAlreadyFriends
	case models.FriendPending:
		return apperr.ErrRequestExists
	case models.FriendRejected:
		return apperr.ErrRelationshipClosed
	}
	return nil
}

func (r *FirestoreFriendshipRepository) TransitionRelationship(ctx context.Context, id string, expect, next models.FriendStatus) error {
	ref := r.col().Doc(id)
	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if isNotFound(err) {
			return apperr.ErrRelationshipMissing
		}
		if err != nil {
			return err
		}
		rel, ok := decodeRelationship(doc)
		if !ok {
			return apperr.ErrRelationshipMissing
		}
		if rel.Status != expect {
			return apperr.ErrRequestNotPending
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(next)},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
}

func (r *FirestoreFriendshipRepository) WatchIncoming(ctx context.Context, uid string) live.Subscription[[]models.FriendRelationship] {
	q := r.col().Where("to", "==", uid).Where("status", "==", string(models.FriendPending))
	return watchQuery(ctx, r.log, "friends.incoming", q, decodeRelationship)
}

func (r *FirestoreFriendshipRepository) WatchOutgoing(ctx context.Context, uid string) live.Subscription[[]models.FriendRelationship] {
	q := r.col().Where("from", "==", uid).Where("status", "==", string(models.FriendPending))
	return watchQuery(ctx, r.log, "friends.outgoing", q, decodeRelationship)
}

func (r *FirestoreFriendshipRepository) WatchAccepted(ctx context.Context, uid string) live.Subscription[[]models.FriendRelationship] {
	q := r.col().Where("members", "array-contains", uid).Where("status", "==", string(models.FriendAccepted))
	return watchQuery(ctx, r.log, "friends.accepted", q, decodeRelationship)
}
