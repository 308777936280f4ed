package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/nano-midea/chatsync/internal/chatlist"
	"github.com/anonto42/nano-midea/chatsync/internal/headcache"
	"github.com/anonto42/nano-midea/chatsync/internal/kv"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/notify"
	"github.com/anonto42/nano-midea/chatsync/internal/profilecache"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories/memory"
	"github.com/anonto42/nano-midea/chatsync/internal/unread"
	apperr "github.com/anonto42/nano-midea/chatsync/pkg/errors"
)

func newSession(t *testing.T, b *memory.Backend, store kv.Store) *Session {
	t.Helper()
	var w *kv.Writer
	if store != nil {
		w = kv.NewWriter(store, zerolog.Nop())
		t.Cleanup(w.Close)
	}
	profiles, err := profilecache.New(b, profilecache.Options{Writer: w, Log: zerolog.Nop()})
	require.NoError(t, err)
	s := New(Deps{
		Store:     b.Store(),
		Profiles:  profiles,
		Heads:     headcache.New(w, zerolog.Nop()),
		Marks:     unread.NewWatermarks(w, zerolog.Nop(), nil),
		Favorites: chatlist.NewFavorites(w, zerolog.Nop()),
		Notify:    notify.NewCenter(time.Minute),
		Writer:    w,
		Log:       zerolog.Nop(),
	})
	t.Cleanup(s.Close)
	return s
}

func TestOpenChatRequiresFriendshipBeforeTouchingConversations(t *testing.T) {
	b := memory.New()
	s := newSession(t, b, nil)
	require.NoError(t, s.Login(context.Background(), "me"))

	_, err := s.OpenChat(context.Background(), "stranger")
	assert.ErrorIs(t, err, apperr.ErrNotFriends)
	assert.Zero(t, b.Calls(memory.CallConvRead))
	assert.Zero(t, b.Calls(memory.CallConvWrite))

	b.PutRelationship(models.FriendRelationship{From: "me", To: "stranger", Status: models.FriendPending})
	_, err = s.OpenChat(context.Background(), "stranger")
	assert.ErrorIs(t, err, apperr.ErrNotFriends)
	assert.Zero(t, b.Calls(memory.CallConvRead))
}

func TestOpenChatCreatesOnceThenReuses(t *testing.T) {
	b := memory.New()
	b.PutRelationship(models.FriendRelationship{From: "me", To: "bob", Status: models.FriendAccepted})
	s := newSession(t, b, nil)
	require.NoError(t, s.Login(context.Background(), "me"))

	first, err := s.OpenChat(context.Background(), "bob")
	require.NoError(t, err)
	second, err := s.OpenChat(context.Background(), "bob")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.PairKey("me", "bob"), first.PairKey)
	assert.Equal(t, 1, b.Calls(memory.CallConvWrite))
}

func TestFetchOrCreatePicksCanonicalDuplicate(t *testing.T) {
	b := memory.New()
	b.PutConversation(models.Conversation{ID: "z", Members: []string{"a", "b"}, UpdatedAt: ptr(time.UnixMilli(10))})
	b.PutConversation(models.Conversation{ID: "y", Members: []string{"b", "a"}, UpdatedAt: ptr(time.UnixMilli(90))})

	c, err := FetchOrCreate(context.Background(), b, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, "y", c.ID)

	_, err = FetchOrCreate(context.Background(), b, "a", "a")
	assert.ErrorIs(t, err, apperr.ErrInvalidPair)
}

func ptr(t time.Time) *time.Time { return &t }

func TestRequiresLogin(t *testing.T) {
	s := newSession(t, memory.New(), nil)
	_, err := s.OpenChat(context.Background(), "bob")
	assert.ErrorIs(t, err, apperr.ErrNoSession)
	_, err = s.Room(context.Background(), "c1")
	assert.ErrorIs(t, err, apperr.ErrNoSession)
	assert.ErrorIs(t, s.Login(context.Background(), ""), apperr.ErrNoSession)
}

func TestRoomIsSharedAndMembershipChecked(t *testing.T) {
	b := memory.New()
	b.PutConversation(models.Conversation{ID: "mine", Members: []string{"me", "bob"}})
	b.PutConversation(models.Conversation{ID: "theirs", Members: []string{"x", "y"}})
	s := newSession(t, b, nil)
	require.NoError(t, s.Login(context.Background(), "me"))

	r1, err := s.Room(context.Background(), "mine")
	require.NoError(t, err)
	r2, err := s.Room(context.Background(), "mine")
	require.NoError(t, err)
	assert.Same(t, r1, r2)

	_, err = s.Room(context.Background(), "theirs")
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
	_, err = s.Room(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrConversationNotFound)
	_, err = s.Room(context.Background(), models.VirtualID("bob"))
	assert.ErrorIs(t, err, apperr.ErrVirtualConversation)

	assert.True(t, s.CloseRoom("mine"))
	_, err = s.OpenRoom("mine")
	assert.ErrorIs(t, err, apperr.ErrRoomNotOpen)
}

func TestSwitchingIdentityTearsDownPrevious(t *testing.T) {
	b := memory.New()
	b.PutConversation(models.Conversation{ID: "c-me", Members: []string{"me", "a"}})
	b.PutConversation(models.Conversation{ID: "c-other", Members: []string{"other", "a"}})
	s := newSession(t, b, nil)

	require.NoError(t, s.Login(context.Background(), "me"))
	_, err := s.Room(context.Background(), "c-me")
	require.NoError(t, err)
	s.List().ToggleFavorite("c-me")
	require.Eventually(t, func() bool { return len(s.List().Rows()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Login(context.Background(), "other"))
	assert.Equal(t, "other", s.UID())
	require.Eventually(t, func() bool {
		rows := s.List().Rows()
		return len(rows) == 1 && rows[0].ID == "c-other"
	}, time.Second, 5*time.Millisecond)
	assert.False(t, s.deps.Favorites.Has("c-me"))
	_, err = s.OpenRoom("c-me")
	assert.ErrorIs(t, err, apperr.ErrRoomNotOpen)
}

func TestLogoutReleasesEveryWatcher(t *testing.T) {
	b := memory.New()
	b.PutRelationship(models.FriendRelationship{From: "me", To: "bob", Status: models.FriendAccepted})
	b.PutConversation(models.Conversation{ID: "c1", Members: []string{"me", "bob"}})
	s := newSession(t, b, nil)

	require.NoError(t, s.Login(context.Background(), "me"))
	_, err := s.Room(context.Background(), "c1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.ActiveWatchers() > 0 }, time.Second, 5*time.Millisecond)

	s.Logout()
	assert.Empty(t, s.UID())
	assert.Eventually(t, func() bool { return b.ActiveWatchers() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, s.List().Rows())
	assert.Empty(t, s.Friends().Overview().Accepted)
}

func TestRestoreLoadsPersistedState(t *testing.T) {
	store := kv.NewMemoryStore()
	b := memory.New()
	b.PutConversation(models.Conversation{ID: "c1", Members: []string{"me", "bob"}})

	first := newSession(t, b, store)
	require.NoError(t, first.Login(context.Background(), "me"))
	first.List().ToggleFavorite("c1")
	first.deps.Heads.Apply("c1", models.HeadEntry{Text: "hey", AtMillis: 42}, headcache.SourceLocalSend)
	first.Close()

	second := newSession(t, b, store)
	second.Restore(context.Background(), store)
	assert.True(t, second.deps.Favorites.Has("c1"))
	h, ok := second.deps.Heads.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "hey", h.Text)
}
