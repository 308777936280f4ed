// Package friends implements the friend request state machine and its
// live views.
package friends

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/notify"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories"
	apperr "github.com/anonto42/nano-midea/chatsync/pkg/errors"
)

// Store owns friend relationship mutations and the three views of the
// signed-in user.
type Store struct {
	repo     repositories.FriendshipRepository
	profiles repositories.ProfileRepository
	log      zerolog.Logger

	Incoming *View
	Outgoing *View
	Accepted *View
}

func NewStore(repo repositories.FriendshipRepository, profiles repositories.ProfileRepository, notes *notify.Center, log zerolog.Logger) *Store {
	log = log.With().Str("component", "friends").Logger()
	onError := func(error) {}
	if notes != nil {
		onError = func(error) { notes.Error("Friend list is temporarily unavailable") }
	}
	return &Store{
		repo:     repo,
		profiles: profiles,
		log:      log,
		Incoming: newView("incoming", repo.WatchIncoming, onError, log),
		Outgoing: newView("outgoing", repo.WatchOutgoing, onError, log),
		Accepted: newView("accepted", repo.WatchAccepted, onError, log),
	}
}

// Attach starts all three views for uid.
func (s *Store) Attach(ctx context.Context, uid string) {
	s.Incoming.Start(ctx, uid)
	s.Outgoing.Start(ctx, uid)
	s.Accepted.Start(ctx, uid)
}

// Detach stops all three views.
func (s *Store) Detach() {
	s.Incoming.Stop()
	s.Outgoing.Stop()
	s.Accepted.Stop()
}

// Overview returns the current snapshot of every view.
func (s *Store) Overview() models.FriendsOverview {
	return models.FriendsOverview{
		Incoming: s.Incoming.Rows(),
		Outgoing: s.Outgoing.Rows(),
		Accepted: s.Accepted.Rows(),
	}
}

// Send requests friendship from from to to. Both directions share one
// document, so a crossing request from the other side is reported as an
// existing request instead of creating a second one.
func (s *Store) Send(ctx context.Context, from, to string) (*models.FriendRelationship, error) {
	if from == "" || to == "" {
		return nil, apperr.ErrInvalidPair
	}
	if from == to {
		return nil, apperr.ErrSelfRequest
	}
	existing, err := s.repo.GetRelationship(ctx, models.RelationshipID(from, to))
	if err != nil {
		return nil, apperr.ErrStoreUnavailable(err)
	}
	if existing != nil {
		if err := repositories.PendingConflict(existing.Status); err != nil {
			return nil, err
		}
	}
	rel, err := s.repo.CreatePending(ctx, from, to)
	if err != nil {
		if apperr.CodeOf(err) != apperr.CodeUnknown {
			return nil, err
		}
		return nil, apperr.ErrStoreUnavailable(err)
	}
	s.log.Info().Str("from", from).Str("to", to).Msg("friend request sent")
	return rel, nil
}

// SendByHandle resolves handle to a user and sends the request.
func (s *Store) SendByHandle(ctx context.Context, from, handle string) (*models.FriendRelationship, error) {
	tag := models.NormalizeHandle(handle)
	if tag == "" {
		return nil, apperr.ErrHandleNotFound
	}
	to, err := s.profiles.UIDByUsername(ctx, tag)
	if err != nil {
		return nil, apperr.ErrStoreUnavailable(err)
	}
	if to == "" {
		return nil, apperr.ErrHandleNotFound
	}
	return s.Send(ctx, from, to)
}

// Respond lets the recipient accept or reject a pending request.
func (s *Store) Respond(ctx context.Context, me, id string, accept bool) error {
	rel, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if rel.To != me {
		return apperr.ErrNotRecipient
	}
	if rel.Status != models.FriendPending {
		return apperr.ErrRequestNotPending
	}
	next := models.FriendRejected
	if accept {
		next = models.FriendAccepted
	}
	return s.transition(ctx, id, next)
}

// Cancel withdraws my own pending request, recorded as a rejection.
func (s *Store) Cancel(ctx context.Context, me, id string) error {
	rel, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if rel.From != me {
		return apperr.ErrNotRequester
	}
	if rel.Status != models.FriendPending {
		return apperr.ErrRequestNotPending
	}
	return s.transition(ctx, id, models.FriendRejected)
}

// AreFriends reports whether an accepted relationship links a and b.
func (s *Store) AreFriends(ctx context.Context, a, b string) (bool, error) {
	if a == "" || b == "" || a == b {
		return false, nil
	}
	rel, err := s.repo.GetRelationship(ctx, models.RelationshipID(a, b))
	if err != nil {
		return false, apperr.ErrStoreUnavailable(err)
	}
	return rel != nil && rel.Status == models.FriendAccepted, nil
}

func (s *Store) load(ctx context.Context, id string) (*models.FriendRelationship, error) {
	rel, err := s.repo.GetRelationship(ctx, id)
	if err != nil {
		return nil, apperr.ErrStoreUnavailable(err)
	}
	if rel == nil {
		return nil, apperr.ErrRelationshipMissing
	}
	return rel, nil
}

func (s *Store) transition(ctx context.Context, id string, next models.FriendStatus) error {
	err := s.repo.TransitionRelationship(ctx, id, models.FriendPending, next)
	if err != nil {
		if apperr.CodeOf(err) != apperr.CodeUnknown {
			return err
		}
		return apperr.ErrStoreUnavailable(err)
	}
	s.log.Info().Str("id", id).Str("status", string(next)).Msg("friend request answered")
	return nil
}
