// Package session binds the sync components to one signed-in identity and
// gates chat access on friendship.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/anonto42/nano-midea/chatsync/internal/chatlist"
	"github.com/anonto42/nano-midea/chatsync/internal/chatroom"
	"github.com/anonto42/nano-midea/chatsync/internal/friends"
	"github.com/anonto42/nano-midea/chatsync/internal/headcache"
	"github.com/anonto42/nano-midea/chatsync/internal/kv"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/notify"
	"github.com/anonto42/nano-midea/chatsync/internal/profilecache"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories"
	"github.com/anonto42/nano-midea/chatsync/internal/unread"
	apperr "github.com/anonto42/nano-midea/chatsync/pkg/errors"
)

type Deps struct {
	Store     repositories.Store
	Profiles  *profilecache.Cache
	Heads     *headcache.Cache
	Marks     *unread.Watermarks
	Favorites *chatlist.Favorites
	Notify    *notify.Center
	// Writer flushes local state on logout. May be nil.
	Writer            *kv.Writer
	ConversationLimit int
	Room              chatroom.Options
	Log               zerolog.Logger
}

// Session is the client engine of one device. At most one identity is
// bound at a time.
type Session struct {
	deps    Deps
	log     zerolog.Logger
	list    *chatlist.Sync
	friends *friends.Store

	// life serializes identity changes.
	life  sync.Mutex
	mu    sync.Mutex
	uid   string
	ctx   context.Context
	stop  context.CancelFunc
	rooms map[string]*chatroom.Room
}

func New(deps Deps) *Session {
	log := deps.Log.With().Str("component", "session").Logger()
	counter := unread.NewCounter(deps.Store.Messages, deps.Marks, deps.Log)
	if deps.Room.Notify == nil {
		deps.Room.Notify = deps.Notify
	}
	return &Session{
		deps: deps,
		log:  log,
		list: chatlist.New(chatlist.Deps{
			Conversations: deps.Store.Conversations,
			Friendships:   deps.Store.Friendships,
			Messages:      deps.Store.Messages,
			Profiles:      deps.Profiles,
			Heads:         deps.Heads,
			Unread:        counter,
			Favorites:     deps.Favorites,
			Notify:        deps.Notify,
			Limit:         deps.ConversationLimit,
			Log:           deps.Log,
		}),
		friends: friends.NewStore(deps.Store.Friendships, deps.Store.Profiles, deps.Notify, deps.Log),
		rooms:   make(map[string]*chatroom.Room),
	}
}

// Restore loads the persisted caches of a cold start.
func (s *Session) Restore(ctx context.Context, store kv.Store) {
	if store == nil {
		return
	}
	s.deps.Profiles.Load(ctx, store)
	n := s.deps.Heads.Load(ctx, store)
	s.deps.Marks.Load(ctx, store)
	s.deps.Favorites.Load(ctx, store)
	s.log.Info().Int("heads", n).Int("profiles", s.deps.Profiles.Len()).Msg("local state restored")
}

// Login binds uid. Logging in as the bound uid is a no-op; any other uid
// tears the previous identity down first.
func (s *Session) Login(ctx context.Context, uid string) error {
	if uid == "" {
		return apperr.ErrNoSession
	}
	s.life.Lock()
	defer s.life.Unlock()

	s.mu.Lock()
	current := s.uid
	s.mu.Unlock()
	if current == uid {
		return nil
	}
	if current != "" {
		s.logoutLocked(true)
	}

	// Subscriptions outlive the request that triggered the login.
	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.uid = uid
	s.ctx = runCtx
	s.stop = stop
	s.mu.Unlock()

	s.friends.Attach(runCtx, uid)
	s.list.Start(runCtx, uid)
	s.log.Info().Str("uid", uid).Msg("session started")
	return nil
}

// Logout tears down every subscription of the bound identity and clears the
// per-account local state.
func (s *Session) Logout() {
	s.life.Lock()
	defer s.life.Unlock()
	s.logoutLocked(true)
}

// Close stops everything but keeps the persisted state for the next start.
func (s *Session) Close() {
	s.life.Lock()
	defer s.life.Unlock()
	s.logoutLocked(false)
}

func (s *Session) logoutLocked(clear bool) {
	s.mu.Lock()
	uid, stop, rooms := s.uid, s.stop, s.rooms
	s.uid, s.ctx, s.stop = "", nil, nil
	s.rooms = make(map[string]*chatroom.Room)
	s.mu.Unlock()

	if uid == "" {
		return
	}
	for _, r := range rooms {
		r.Close()
	}
	s.list.Stop()
	s.friends.Detach()
	if stop != nil {
		stop()
	}
	if clear {
		s.deps.Heads.Clear()
		s.deps.Marks.Clear()
		s.deps.Favorites.Clear()
		if s.deps.Notify != nil {
			s.deps.Notify.Clear()
		}
	}
	if s.deps.Writer != nil {
		s.deps.Writer.Flush(context.Background())
	}
	s.log.Info().Str("uid", uid).Bool("cleared", clear).Msg("session ended")
}

// UID returns the bound identity or "".
func (s *Session) UID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

func (s *Session) List() *chatlist.Sync { return s.list }

func (s *Session) Friends() *friends.Store { return s.friends }

func (s *Session) Profiles() *profilecache.Cache { return s.deps.Profiles }

func (s *Session) Store() repositories.Store { return s.deps.Store }

func (s *Session) Notifications() *notify.Center { return s.deps.Notify }

func (s *Session) me() (string, error) {
	uid := s.UID()
	if uid == "" {
		return "", apperr.ErrNoSession
	}
	return uid, nil
}

// OpenChat returns the conversation with other, creating it when needed.
// Friendship is checked before any conversation is read or written.
func (s *Session) OpenChat(ctx context.Context, other string) (*models.Conversation, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	if other == "" || other == me {
		return nil, apperr.ErrInvalidPair
	}
	ok, err := s.friends.AreFriends(ctx, me, other)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrNotFriends
	}
	return FetchOrCreate(ctx, s.deps.Store.Conversations, me, other)
}

// FetchOrCreate returns the canonical conversation of the pair a, b.
func FetchOrCreate(ctx context.Context, repo repositories.ConversationRepository, a, b string) (*models.Conversation, error) {
	if a == "" || b == "" || a == b {
		return nil, apperr.ErrInvalidPair
	}
	found, err := repo.FindConversationsByPairKey(ctx, models.PairKey(a, b))
	if err != nil {
		return nil, apperr.ErrStoreUnavailable(err)
	}
	if c, ok := models.Canonical(found); ok {
		return &c, nil
	}
	c, err := repo.CreateConversation(ctx, a, b)
	if err != nil {
		return nil, apperr.ErrStoreUnavailable(err)
	}
	return c, nil
}

// Room returns the open room of conversationID, opening it on first use.
func (s *Session) Room(ctx context.Context, conversationID string) (*chatroom.Room, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	if models.IsVirtual(conversationID) || conversationID == "" {
		return nil, apperr.ErrVirtualConversation
	}

	s.mu.Lock()
	if r, ok := s.rooms[conversationID]; ok {
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	conv, err := s.deps.Store.Conversations.GetConversation(ctx, conversationID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			return nil, err
		}
		return nil, apperr.ErrStoreUnavailable(err)
	}
	if len(conv.Members) != 2 || !isMember(conv.Members, me) {
		return nil, apperr.Forbidden("not a member of this conversation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uid != me {
		return nil, apperr.ErrNoSession
	}
	if r, ok := s.rooms[conversationID]; ok {
		return r, nil
	}
	r := chatroom.New(conversationID, me, s.deps.Store.Messages, s.deps.Heads, s.deps.Marks, s.deps.Room)
	if err := r.Open(s.ctx); err != nil {
		return nil, err
	}
	s.rooms[conversationID] = r
	return r, nil
}

// OpenRoom returns the room if it is already open.
func (s *Session) OpenRoom(conversationID string) (*chatroom.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[conversationID]
	if !ok {
		return nil, apperr.ErrRoomNotOpen
	}
	return r, nil
}

// CloseRoom closes the room of conversationID if it is open.
func (s *Session) CloseRoom(conversationID string) bool {
	s.mu.Lock()
	r, ok := s.rooms[conversationID]
	delete(s.rooms, conversationID)
	s.mu.Unlock()
	if ok {
		r.Close()
	}
	return ok
}

func isMember(members []string, uid string) bool {
	for _, m := range members {
		if m == uid {
			return true
		}
	}
	return false
}
