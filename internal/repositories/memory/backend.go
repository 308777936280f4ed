// Package memory is an in-process document store with the same live
// query semantics as the remote one. Every mutation re-evaluates the open
// queries and publishes full snapshots.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/chatsync/internal/live"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories"
	apperr "github.com/anonto42/nano-midea/chatsync/pkg/errors"
)

// Call counter names.
const (
	CallPublicProfile  = "profiles.public"
	CallPrivateProfile = "profiles.private"
	CallUsernameByUID  = "profiles.username"
	CallConvRead       = "conversations.read"
	CallConvWrite      = "conversations.write"
	CallConvWatch      = "conversations.watch"
	CallSend           = "messages.send"
)

type Backend struct {
	mu  sync.Mutex
	now func() time.Time
	seq int

	public   map[string]models.PublicProfile
	private  map[string]models.PrivateProfile
	handles  map[string]models.UsernameEntry
	friends  map[string]models.FriendRelationship
	convs    map[string]models.Conversation
	messages map[string][]models.Message

	missingIndex bool
	sendErr      error
	sendGate     chan struct{}
	profileErr   map[string]error
	profileGate  chan struct{}
	calls        map[string]int

	wmu      sync.Mutex
	watchers map[int]func()
	nextW    int
}

var (
	_ repositories.ProfileRepository      = (*Backend)(nil)
	_ repositories.FriendshipRepository   = (*Backend)(nil)
	_ repositories.ConversationRepository = (*Backend)(nil)
	_ repositories.MessageRepository      = (*Backend)(nil)
)

func New() *Backend {
	return &Backend{
		now:        time.Now,
		public:     make(map[string]models.PublicProfile),
		private:    make(map[string]models.PrivateProfile),
		handles:    make(map[string]models.UsernameEntry),
		friends:    make(map[string]models.FriendRelationship),
		convs:      make(map[string]models.Conversation),
		messages:   make(map[string][]models.Message),
		profileErr: make(map[string]error),
		calls:      make(map[string]int),
		watchers:   make(map[int]func()),
	}
}

// Store exposes the backend through the repository set.
func (b *Backend) Store() repositories.Store {
	return repositories.Store{Profiles: b, Friendships: b, Conversations: b, Messages: b}
}

// SetClock replaces the server clock used for timestamps.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// SetMissingIndex makes ordered conversation queries fail as unindexed.
func (b *Backend) SetMissingIndex(missing bool) {
	b.mu.Lock()
	b.missingIndex = missing
	b.mu.Unlock()
}

// FailNextSend makes the next SendMessage return err.
func (b *Backend) FailNextSend(err error) {
	b.mu.Lock()
	b.sendErr = err
	b.mu.Unlock()
}

// HoldSends blocks SendMessage until the returned release is called.
func (b *Backend) HoldSends() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.sendGate = gate
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.sendGate = nil
			b.mu.Unlock()
			close(gate)
		})
	}
}

// HoldProfiles blocks public profile reads until release is called.
func (b *Backend) HoldProfiles() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.profileGate = gate
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.profileGate = nil
			b.mu.Unlock()
			close(gate)
		})
	}
}

// FailProfile makes public profile reads of uid return err.
func (b *Backend) FailProfile(uid string, err error) {
	b.mu.Lock()
	b.profileErr[uid] = err
	b.mu.Unlock()
}

// Calls returns how many times the named operation ran.
func (b *Backend) Calls(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

// ActiveWatchers returns the number of open live queries.
func (b *Backend) ActiveWatchers() int {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	return len(b.watchers)
}

func (b *Backend) nextID(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s-%06d", prefix, b.seq)
}

// notifyLocked re-evaluates every open query. Callers hold b.mu.
func (b *Backend) notifyLocked() {
	b.wmu.Lock()
	refresh := make([]func(), 0, len(b.watchers))
	for _, fn := range b.watchers {
		refresh = append(refresh, fn)
	}
	b.wmu.Unlock()
	for _, fn := range refresh {
		fn()
	}
}

// watch registers a live query. eval runs with b.mu held.
func watch[T any](ctx context.Context, b *Backend, eval func() []T) live.Subscription[[]T] {
	ctx, cancel := context.WithCancel(ctx)

	b.wmu.Lock()
	id := b.nextW
	b.nextW++
	b.wmu.Unlock()

	feed := live.NewFeed[[]T](func() {
		cancel()
		b.wmu.Lock()
		delete(b.watchers, id)
		b.wmu.Unlock()
	})

	b.mu.Lock()
	refresh := func() { feed.Publish(eval()) }
	b.wmu.Lock()
	b.watchers[id] = refresh
	b.wmu.Unlock()
	refresh()
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			feed.Stop()
		case <-feed.Done():
		}
	}()
	return feed
}

func failed[T any](err error) live.Subscription[[]T] {
	feed := live.NewFeed[[]T](nil)
	feed.Fail(err)
	return feed
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Seeding

func (b *Backend) PutPublicProfile(p models.PublicProfile) {
	b.mu.Lock()
	b.public[p.UID] = p
	b.mu.Unlock()
}

func (b *Backend) PutPrivateProfile(p models.PrivateProfile) {
	b.mu.Lock()
	b.private[p.UID] = p
	b.mu.Unlock()
}

func (b *Backend) PutUsername(handle, uid string) {
	handle = models.NormalizeHandle(handle)
	b.mu.Lock()
	b.handles[handle] = models.UsernameEntry{Handle: handle, UID: uid, CreatedAt: b.now()}
	b.mu.Unlock()
}

func (b *Backend) PutRelationship(rel models.FriendRelationship) {
	b.mu.Lock()
	if rel.ID == "" {
		rel.ID = models.RelationshipID(rel.From, rel.To)
	}
	if len(rel.Members) == 0 {
		x, y := models.SortedPair(rel.From, rel.To)
		rel.Members = []string{x, y}
	}
	b.friends[rel.ID] = rel
	b.notifyLocked()
	b.mu.Unlock()
}

// PutConversation stores c as is, duplicates of a pair included.
func (b *Backend) PutConversation(c models.Conversation) {
	b.mu.Lock()
	if c.ID == "" {
		c.ID = b.nextID("conv")
	}
	if c.PairKey == "" && len(c.Members) == 2 {
		c.PairKey = models.PairKey(c.Members[0], c.Members[1])
	}
	b.convs[c.ID] = c
	b.notifyLocked()
	b.mu.Unlock()
}

// AddMessage inserts a confirmed message with an explicit server time and
// advances the conversation summary.
func (b *Backend) AddMessage(conversationID, senderID, text string, at time.Time) models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insertMessageLocked(conversationID, senderID, text, at)
}

func (b *Backend) insertMessageLocked(conversationID, senderID, text string, at time.Time) models.Message {
	msg := models.Message{
		ID:             b.nextID("msg"),
		ConversationID: conversationID,
		Text:           text,
		SenderID:       senderID,
		CreatedAt:      at,
	}
	b.messages[conversationID] = append(b.messages[conversationID], msg)

	conv := b.convs[conversationID]
	conv.ID = conversationID
	if conv.LastMessageAt == nil || !at.Before(*conv.LastMessageAt) {
		t := at
		conv.LastMessage = models.Preview(text)
		conv.LastSenderID = senderID
		conv.LastMessageAt = &t
		conv.UpdatedAt = &t
	}
	b.convs[conversationID] = conv
	b.notifyLocked()
	return msg
}

// Relationships returns every stored relationship document.
func (b *Backend) Relationships() []models.FriendRelationship {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.FriendRelationship, 0, len(b.friends))
	for _, r := range b.friends {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Messages returns the stored messages of a conversation in insert order.
func (b *Backend) Messages(conversationID string) []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Message(nil), b.messages[conversationID]...)
}

// Profiles

func (b *Backend) GetPublicProfile(ctx context.Context, uid string) (*models.PublicProfile, error) {
	b.mu.Lock()
	b.calls[CallPublicProfile]++
	gate := b.profileGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.profileErr[uid]; err != nil {
		return nil, err
	}
	p, ok := b.public[uid]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (b *Backend) GetPrivateProfile(_ context.Context, uid string) (*models.PrivateProfile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[CallPrivateProfile]++
	p, ok := b.private[uid]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (b *Backend) UsernameByUID(_ context.Context, uid string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[CallUsernameByUID]++
	for handle, e := range b.handles {
		if e.UID == uid {
			return handle, nil
		}
	}
	return "", nil
}

func (b *Backend) UIDByUsername(_ context.Context, handle string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handles[models.NormalizeHandle(handle)].UID, nil
}

func (b *Backend) SearchUsernames(_ context.Context, prefix string, limit int) ([]models.UsernameEntry, error) {
	prefix = models.NormalizeHandle(prefix)
	if prefix == "" {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.UsernameEntry
	for handle, e := range b.handles {
		if strings.HasPrefix(handle, prefix) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Friendships

func (b *Backend) GetRelationship(_ context.Context, id string) (*models.FriendRelationship, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rel, ok := b.friends[id]
	if !ok {
		return nil, nil
	}
	return &rel, nil
}

func (b *Backend) CreatePending(_ context.Context, from, to string) (*models.FriendRelationship, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := models.RelationshipID(from, to)
	if existing, ok := b.friends[id]; ok {
		if err := repositories.PendingConflict(existing.Status); err != nil {
			return nil, err
		}
	}
	x, y := models.SortedPair(from, to)
	now := b.now()
	rel := models.FriendRelationship{
		ID:        id,
		From:      from,
		To:        to,
		Members:   []string{x, y},
		Status:    models.FriendPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.friends[id] = rel
	b.notifyLocked()
	return &rel, nil
}

func (b *Backend) TransitionRelationship(_ context.Context, id string, expect, next models.FriendStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rel, ok := b.friends[id]
	if !ok {
		return apperr.ErrRelationshipMissing
	}
	if rel.Status != expect {
		return apperr.ErrRequestNotPending
	}
	rel.Status = next
	rel.UpdatedAt = b.now()
	b.friends[id] = rel
	b.notifyLocked()
	return nil
}

func (b *Backend) watchFriends(ctx context.Context, match func(models.FriendRelationship) bool) live.Subscription[[]models.FriendRelationship] {
	return watch(ctx, b, func() []models.FriendRelationship {
		var out []models.FriendRelationship
		for _, r := range b.friends {
			if match(r) {
				out = append(out, r)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out
	})
}

func (b *Backend) WatchIncoming(ctx context.Context, uid string) live.Subscription[[]models.FriendRelationship] {
	return b.watchFriends(ctx, func(r models.FriendRelationship) bool {
		return r.To == uid && r.Status == models.FriendPending
	})
}

func (b *Backend) WatchOutgoing(ctx context.Context, uid string) live.Subscription[[]models.FriendRelationship] {
	return b.watchFriends(ctx, func(r models.FriendRelationship) bool {
		return r.From == uid && r.Status == models.FriendPending
	})
}

func (b *Backend) WatchAccepted(ctx context.Context, uid string) live.Subscription[[]models.FriendRelationship] {
	return b.watchFriends(ctx, func(r models.FriendRelationship) bool {
		return contains(r.Members, uid) && r.Status == models.FriendAccepted
	})
}

// Conversations

func (b *Backend) WatchConversations(ctx context.Context, uid string, ordered bool, limit int) live.Subscription[[]models.Conversation] {
	b.mu.Lock()
	b.calls[CallConvWatch]++
	missing := b.missingIndex
	b.mu.Unlock()

	if ordered && missing {
		return failed[models.Conversation](repositories.MissingIndexError("conversations.ordered"))
	}
	return watch(ctx, b, func() []models.Conversation {
		var out []models.Conversation
		for _, c := range b.convs {
			if contains(c.Members, uid) {
				out = append(out, c)
			}
		}
		if ordered {
			sort.Slice(out, func(i, j int) bool {
				ti, tj := updatedAt(out[i]), updatedAt(out[j])
				if !ti.Equal(tj) {
					return ti.After(tj)
				}
				return out[i].ID < out[j].ID
			})
		} else {
			// Unordered queries come back in document id order.
			sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		}
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out
	})
}

func updatedAt(c models.Conversation) time.Time {
	if c.UpdatedAt == nil {
		return time.Time{}
	}
	return *c.UpdatedAt
}

func (b *Backend) FindConversationsByPairKey(_ context.Context, pairKey string) ([]models.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[CallConvRead]++
	return b.byPairLocked(pairKey), nil
}

func (b *Backend) byPairLocked(pairKey string) []models.Conversation {
	var out []models.Conversation
	for _, c := range b.convs {
		if c.PairKey == pairKey {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Backend) CreateConversation(_ context.Context, a, c string) (*models.Conversation, error) {
	if a == "" || c == "" || a == c {
		return nil, apperr.ErrInvalidPair
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[CallConvWrite]++

	x, y := models.SortedPair(a, c)
	key := models.PairKey(x, y)
	if existing, ok := models.Canonical(b.byPairLocked(key)); ok {
		return &existing, nil
	}
	now := b.now()
	conv := models.Conversation{
		ID:        b.nextID("conv"),
		Members:   []string{x, y},
		PairKey:   key,
		UpdatedAt: &now,
		CreatedAt: &now,
	}
	b.convs[conv.ID] = conv
	b.notifyLocked()
	return &conv, nil
}

func (b *Backend) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[CallConvRead]++
	c, ok := b.convs[id]
	if !ok {
		return nil, apperr.ErrConversationNotFound
	}
	return &c, nil
}

// Messages

func (b *Backend) SendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, apperr.ErrEmptyMessage
	}

	b.mu.Lock()
	b.calls[CallSend]++
	gate := b.sendGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.sendErr; err != nil {
		b.sendErr = nil
		return nil, err
	}
	msg := b.insertMessageLocked(conversationID, senderID, trimmed, b.now())
	return &msg, nil
}

func newestFirst(msgs []models.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].ID > msgs[j].ID
	})
}

func (b *Backend) WatchRecentMessages(ctx context.Context, conversationID string, limit int) live.Subscription[[]models.Message] {
	return watch(ctx, b, func() []models.Message {
		out := append([]models.Message(nil), b.messages[conversationID]...)
		newestFirst(out)
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out
	})
}

func (b *Backend) MessagesPage(_ context.Context, conversationID string, before models.MessageCursor, limit int) ([]models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Message
	for _, m := range b.messages[conversationID] {
		if m.CreatedAt.Before(before.CreatedAt) || (m.CreatedAt.Equal(before.CreatedAt) && m.ID < before.ID) {
			out = append(out, m)
		}
	}
	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *Backend) WatchMessagesSince(ctx context.Context, conversationID string, after time.Time) live.Subscription[[]models.Message] {
	return watch(ctx, b, func() []models.Message {
		var out []models.Message
		for _, m := range b.messages[conversationID] {
			if m.CreatedAt.After(after) {
				out = append(out, m)
			}
		}
		newestFirst(out)
		return out
	})
}
