package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anonto42/nano-midea/chatsync/internal/live"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories"
	apperr "github.com/anonto42/nano-midea/chatsync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next[T any](t *testing.T, sub live.Subscription[T]) live.Snapshot[T] {
	t.Helper()
	select {
	case s, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed")
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return live.Snapshot[T]{}
	}
}

func TestCreatePendingCollapsesCrossingRequests(t *testing.T) {
	b := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = b.CreatePending(ctx, "alice", "bob") }()
	go func() { defer wg.Done(); _, errs[1] = b.CreatePending(ctx, "bob", "alice") }()
	wg.Wait()

	assert.Len(t, b.Relationships(), 1)
	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, apperr.ErrRequestExists)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestTransitionOnlyFromExpected(t *testing.T) {
	b := New()
	ctx := context.Background()
	rel, err := b.CreatePending(ctx, "a", "b")
	require.NoError(t, err)

	require.NoError(t, b.TransitionRelationship(ctx, rel.ID, models.FriendPending, models.FriendAccepted))
	err = b.TransitionRelationship(ctx, rel.ID, models.FriendPending, models.FriendRejected)
	assert.ErrorIs(t, err, apperr.ErrRequestNotPending)

	err = b.TransitionRelationship(ctx, "nope", models.FriendPending, models.FriendAccepted)
	assert.ErrorIs(t, err, apperr.ErrRelationshipMissing)
}

func TestWatchAcceptedTracksMutations(t *testing.T) {
	b := New()
	ctx := context.Background()
	sub := b.WatchAccepted(ctx, "a")
	defer sub.Stop()

	assert.Empty(t, next(t, sub).Value)

	rel, err := b.CreatePending(ctx, "a", "b")
	require.NoError(t, err)
	require.NoError(t, b.TransitionRelationship(ctx, rel.ID, models.FriendPending, models.FriendAccepted))

	got := next(t, sub).Value
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Other("a"))
}

func TestOrderedConversationsFailWithoutIndex(t *testing.T) {
	b := New()
	b.SetMissingIndex(true)

	sub := b.WatchConversations(context.Background(), "a", true, 50)
	snap := next(t, sub)
	assert.True(t, repositories.IsMissingIndex(snap.Err))

	unordered := b.WatchConversations(context.Background(), "a", false, 50)
	defer unordered.Stop()
	assert.NoError(t, next(t, unordered).Err)
}

func TestCreateConversationReturnsCanonical(t *testing.T) {
	b := New()
	ctx := context.Background()
	t1, t2 := time.UnixMilli(100), time.UnixMilli(200)
	b.PutConversation(models.Conversation{ID: "old", Members: []string{"a", "b"}, LastMessageAt: &t1})
	b.PutConversation(models.Conversation{ID: "new", Members: []string{"b", "a"}, LastMessageAt: &t2})

	conv, err := b.CreateConversation(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, "new", conv.ID)

	_, err = b.CreateConversation(ctx, "a", "a")
	assert.ErrorIs(t, err, apperr.ErrInvalidPair)
}

func TestMessagesPageAndSince(t *testing.T) {
	b := New()
	ctx := context.Background()
	base := time.UnixMilli(1_000)
	var all []models.Message
	for i := 0; i < 5; i++ {
		all = append(all, b.AddMessage("c1", "u1", "m", base.Add(time.Duration(i)*time.Second)))
	}

	page, err := b.MessagesPage(ctx, "c1", models.MessageCursor{CreatedAt: all[3].CreatedAt, ID: all[3].ID}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[2].ID, page[0].ID)
	assert.Equal(t, all[1].ID, page[1].ID)

	sub := b.WatchMessagesSince(ctx, "c1", all[2].CreatedAt)
	defer sub.Stop()
	assert.Len(t, next(t, sub).Value, 2)
}

func TestSendFailureAndWatcherRelease(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	sub := b.WatchRecentMessages(ctx, "c1", 25)
	next(t, sub)
	assert.Equal(t, 1, b.ActiveWatchers())

	b.FailNextSend(errors.New("offline"))
	_, err := b.SendMessage(ctx, "c1", "u1", "hi")
	assert.Error(t, err)

	msg, err := b.SendMessage(ctx, "c1", "u1", "  hi  ")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, "hi", next(t, sub).Value[0].Text)

	cancel()
	assert.Eventually(t, func() bool { return b.ActiveWatchers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSearchUsernames(t *testing.T) {
	b := New()
	b.PutUsername("neo", "u1")
	b.PutUsername("neon", "u2")
	b.PutUsername("trinity", "u3")

	got, err := b.SearchUsernames(context.Background(), "NE", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "neo", got[0].Handle)

	uid, err := b.UIDByUsername(context.Background(), "@Trinity")
	require.NoError(t, err)
	assert.Equal(t, "u3", uid)
}
