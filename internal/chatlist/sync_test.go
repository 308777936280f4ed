package chatlist

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/nano-midea/chatsync/internal/headcache"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/profilecache"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories/memory"
	"github.com/anonto42/nano-midea/chatsync/internal/unread"
)

type fixture struct {
	backend *memory.Backend
	heads   *headcache.Cache
	sync    *Sync
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := memory.New()
	profiles, err := profilecache.New(b, profilecache.Options{Log: zerolog.Nop()})
	require.NoError(t, err)
	heads := headcache.New(nil, zerolog.Nop())
	marks := unread.NewWatermarks(nil, zerolog.Nop(), nil)
	s := New(Deps{
		Conversations: b,
		Friendships:   b,
		Messages:      b,
		Profiles:      profiles,
		Heads:         heads,
		Unread:        unread.NewCounter(b, marks, zerolog.Nop()),
		Favorites:     NewFavorites(nil, zerolog.Nop()),
		Log:           zerolog.Nop(),
	})
	t.Cleanup(s.Stop)
	return &fixture{backend: b, heads: heads, sync: s}
}

func ptr(t time.Time) *time.Time { return &t }

func ids(rows []Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func (f *fixture) waitRows(t *testing.T, want ...string) []Row {
	t.Helper()
	var rows []Row
	require.Eventually(t, func() bool {
		rows = f.sync.Rows()
		return assert.ObjectsAreEqual(want, ids(rows))
	}, time.Second, 5*time.Millisecond, "rows: %v", ids(f.sync.Rows()))
	return rows
}

func TestRealConversationRanksAboveFriendRow(t *testing.T) {
	f := newFixture(t)
	f.backend.PutPublicProfile(models.PublicProfile{UID: "bob", DisplayName: "Bob"})
	f.backend.PutPublicProfile(models.PublicProfile{UID: "carol", DisplayName: "Carol"})
	f.backend.PutRelationship(models.FriendRelationship{From: "me", To: "bob", Status: models.FriendAccepted})
	f.backend.PutRelationship(models.FriendRelationship{From: "carol", To: "me", Status: models.FriendAccepted})
	f.backend.PutConversation(models.Conversation{
		ID:            "c1",
		Members:       []string{"me", "bob"},
		LastMessage:   "hi",
		LastMessageAt: ptr(time.UnixMilli(1_000)),
	})

	f.sync.Start(context.Background(), "me")
	rows := f.waitRows(t, "c1", models.VirtualID("carol"))

	assert.False(t, rows[0].Virtual)
	assert.Equal(t, "bob", rows[0].OtherID)
	assert.Equal(t, "hi", rows[0].LastMessage)
	assert.True(t, rows[1].Virtual)
	assert.Empty(t, rows[1].ConversationID)
	assert.Eventually(t, func() bool {
		rows := f.sync.Rows()
		return len(rows) == 2 && rows[0].Title == "Bob" && rows[1].Title == "Carol"
	}, time.Second, 5*time.Millisecond)
}

func TestMissingIndexFallsBackOnce(t *testing.T) {
	f := newFixture(t)
	f.backend.SetMissingIndex(true)
	f.backend.PutConversation(models.Conversation{ID: "old", Members: []string{"me", "a"}, UpdatedAt: ptr(time.UnixMilli(100))})
	f.backend.PutConversation(models.Conversation{ID: "new", Members: []string{"me", "b"}, UpdatedAt: ptr(time.UnixMilli(900))})

	f.sync.Start(context.Background(), "me")
	f.waitRows(t, "new", "old")
	assert.Equal(t, 2, f.backend.Calls(memory.CallConvWatch))
	assert.False(t, f.sync.Loading())
}

func TestDuplicatePairCollapsesToCanonical(t *testing.T) {
	f := newFixture(t)
	f.backend.PutConversation(models.Conversation{ID: "dup-a", Members: []string{"me", "bob"}, UpdatedAt: ptr(time.UnixMilli(100))})
	f.backend.PutConversation(models.Conversation{ID: "dup-b", Members: []string{"me", "bob"}, UpdatedAt: ptr(time.UnixMilli(500))})

	f.sync.Start(context.Background(), "me")
	f.waitRows(t, "dup-b")
}

func TestNewerHeadReordersRows(t *testing.T) {
	f := newFixture(t)
	f.backend.PutConversation(models.Conversation{ID: "c1", Members: []string{"me", "a"}, LastMessageAt: ptr(time.UnixMilli(2_000))})
	f.backend.PutConversation(models.Conversation{ID: "c2", Members: []string{"me", "b"}, LastMessageAt: ptr(time.UnixMilli(1_000))})

	f.sync.Start(context.Background(), "me")
	f.waitRows(t, "c1", "c2")

	f.heads.Apply("c2", models.HeadEntry{Text: "sent just now", AtMillis: 3_000}, headcache.SourceLocalSend)
	rows := f.waitRows(t, "c2", "c1")
	assert.Equal(t, "sent just now", rows[0].LastMessage)
}

func TestUnreadAndFavoriteFlowIntoRows(t *testing.T) {
	f := newFixture(t)
	f.backend.PutConversation(models.Conversation{ID: "c1", Members: []string{"me", "a"}})
	f.backend.AddMessage("c1", "a", "ping", time.UnixMilli(5_000))

	f.sync.Start(context.Background(), "me")
	require.Eventually(t, func() bool {
		rows := f.sync.Rows()
		return len(rows) == 1 && rows[0].Unread == 1
	}, time.Second, 5*time.Millisecond)

	assert.True(t, f.sync.ToggleFavorite("c1"))
	assert.Len(t, f.sync.Filtered(TabFavorites, ""), 1)
	assert.Len(t, f.sync.Filtered(TabUnread, "PING"), 1)
	assert.Empty(t, f.sync.Filtered(TabUnread, "nothing"))
}

func TestStopReleasesEverySubscription(t *testing.T) {
	f := newFixture(t)
	f.backend.PutRelationship(models.FriendRelationship{From: "me", To: "x", Status: models.FriendAccepted})
	f.backend.PutConversation(models.Conversation{ID: "c1", Members: []string{"me", "a"}})
	f.backend.PutConversation(models.Conversation{ID: "c2", Members: []string{"me", "b"}})

	f.sync.Start(context.Background(), "me")
	f.waitRows(t, "c1", "c2", models.VirtualID("x"))
	require.Positive(t, f.backend.ActiveWatchers())

	f.sync.Stop()
	assert.Empty(t, f.sync.Rows())
	assert.Eventually(t, func() bool { return f.backend.ActiveWatchers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRestartDropsPreviousIdentity(t *testing.T) {
	f := newFixture(t)
	f.backend.PutConversation(models.Conversation{ID: "mine", Members: []string{"me", "a"}})
	f.backend.PutConversation(models.Conversation{ID: "theirs", Members: []string{"other", "a"}})

	f.sync.Start(context.Background(), "me")
	f.waitRows(t, "mine")

	f.sync.Start(context.Background(), "other")
	f.waitRows(t, "theirs")
}
