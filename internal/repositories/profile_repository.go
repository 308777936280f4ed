package repositories

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"google.golang.org/api/iterator"
)

// FirestoreProfileRepository implements ProfileRepository for Firestore
type FirestoreProfileRepository struct {
	client *firestore.Client
}

// NewFirestoreProfileRepository creates a new FirestoreProfileRepository
func NewFirestoreProfileRepository(client *firestore.Client) *FirestoreProfileRepository {
	return &FirestoreProfileRepository{client: client}
}

func (r *FirestoreProfileRepository) GetPublicProfile(ctx context.Context, uid string) (*models.PublicProfile, error) {
	doc, err := r.client.Collection(PublicProfilesCollection).Doc(uid).Get(ctx)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data := doc.Data()
	return &models.PublicProfile{
		UID:         uid,
		DisplayName: getStr(data, "displayName"),
		PhotoURL:    getStr(data, "photoURL"),
		Gamertag:    getStr(data, "gamertag"),
	}, nil
}

func (r *FirestoreProfileRepository) GetPrivateProfile(ctx context.Context, uid string) (*models.PrivateProfile, error) {
	doc, err := r.client.Collection(UsersCollection).Doc(uid).Get(ctx)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data := doc.Data()
	return &models.PrivateProfile{
		UID:         uid,
		DisplayName: getStr(data, "displayName"),
		Email:       getStr(data, "email"),
		PhotoURL:    getStr(data, "photoURL"),
		Gamertag:    getStr(data, "gamertag"),
		UpdatedAt:   timeOrZero(getTime(data, "updatedAt")),
	}, nil
}

func (r *FirestoreProfileRepository) UsernameByUID(ctx context.Context, uid string) (string, error) {
	it := r.client.Collection(UsernamesCollection).Where("uid", "==", uid).Limit(1).Documents(ctx)
	defer it.Stop()
	doc, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return doc.Ref.ID, nil
}

func (r *FirestoreProfileRepository) UIDByUsername(ctx context.Context, handle string) (string, error) {
	handle = models.NormalizeHandle(handle)
	if handle == "" {
		return "", nil
	}
	doc, err := r.client.Collection(UsernamesCollection).Doc(handle).Get(ctx)
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return getStr(doc.Data(), "uid"), nil
}

// SearchUsernames runs a prefix range query over the handle document ids.
func (r *FirestoreProfileRepository) SearchUsernames(ctx context.Context, prefix string, limit int) ([]models.UsernameEntry, error) {
	prefix = models.NormalizeHandle(prefix)
	if prefix == "" {
		return nil, nil
	}
	col := r.client.Collection(UsernamesCollection)
	docs, err := col.
		Where(firestore.DocumentID, ">=", col.Doc(prefix)).
		Where(firestore.DocumentID, "<=", col.Doc(prefix+"\uf8ff")).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]models.UsernameEntry, 0, len(docs))
	for _, d := range docs {
		data := d.Data()
		out = append(out, models.UsernameEntry{
			Handle:    d.Ref.ID,
			UID:       getStr(data, "uid"),
			CreatedAt: timeOrZero(getTime(data, "createdAt")),
		})
	}
	return out, nil
}
