// Package chatlist maintains the live conversation list of the signed-in
// user: real conversations plus synthesized rows for accepted friends with
// no conversation yet.
package chatlist

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/anonto42/nano-midea/chatsync/internal/eventbus"
	"github.com/anonto42/nano-midea/chatsync/internal/headcache"
	"github.com/anonto42/nano-midea/chatsync/internal/live"
	"github.com/anonto42/nano-midea/chatsync/internal/metrics"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/notify"
	"github.com/anonto42/nano-midea/chatsync/internal/profilecache"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories"
	"github.com/anonto42/nano-midea/chatsync/internal/unread"
)

const DefaultLimit = 50

// Row is one entry of the conversation list.
type Row struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id,omitempty"`
	OtherID        string              `json:"other_id"`
	Virtual        bool                `json:"virtual"`
	Title          string              `json:"title"`
	Profile        *models.UserProfile `json:"profile,omitempty"`
	LastMessage    string              `json:"last_message,omitempty"`
	ActivityAt     int64               `json:"activity_at"`
	Unread         int                 `json:"unread"`
	Favorite       bool                `json:"favorite"`
}

type Deps struct {
	Conversations repositories.ConversationRepository
	Friendships   repositories.FriendshipRepository
	Messages      repositories.MessageRepository
	Profiles      *profilecache.Cache
	Heads         *headcache.Cache
	Unread        *unread.Counter
	Favorites     *Favorites
	Notify        *notify.Center
	Limit         int
	Log           zerolog.Logger
}

// rowSub holds the per-row subscriptions of one real conversation.
type rowSub struct {
	cancel context.CancelFunc
}

// Sync is bound to at most one identity at a time. Every snapshot it
// receives replaces the matching part of its state wholesale.
type Sync struct {
	deps Deps
	log  zerolog.Logger
	bus  *eventbus.Bus[[]Row]

	// life serializes Start and Stop.
	life sync.Mutex
	wg   sync.WaitGroup

	mu           sync.Mutex
	me           string
	gen          uint64
	ctx          context.Context
	cancel       context.CancelFunc
	unsubHead    func()
	loading      bool
	fallbackUsed bool
	convs        []models.Conversation
	friendIDs    []string
	rowSubs      map[string]*rowSub
	unreadCounts map[string]int
	hydrating    map[string]bool
	rows         []Row
}

func New(deps Deps) *Sync {
	if deps.Limit <= 0 {
		deps.Limit = DefaultLimit
	}
	return &Sync{
		deps: deps,
		log:  deps.Log.With().Str("component", "chat_list").Logger(),
		bus:  eventbus.New[[]Row](),
	}
}

// Start binds the list to uid. Whatever was bound before is torn down and
// drained first, so nothing from a previous identity is delivered after.
func (s *Sync) Start(ctx context.Context, uid string) {
	s.life.Lock()
	defer s.life.Unlock()
	s.stopLocked()

	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.me = uid
	s.ctx = ctx
	s.cancel = cancel
	s.loading = true
	s.fallbackUsed = false
	s.rowSubs = make(map[string]*rowSub)
	s.unreadCounts = make(map[string]int)
	s.hydrating = make(map[string]bool)
	s.mu.Unlock()

	unsub := s.deps.Heads.Subscribe(func(headcache.Update) { s.refresh(gen) })
	s.mu.Lock()
	s.unsubHead = unsub
	s.mu.Unlock()

	s.wg.Add(2)
	go s.runConversations(ctx, gen, uid)
	go s.runFriends(ctx, gen, uid)
	s.log.Debug().Str("uid", uid).Msg("chat list started")
}

// Stop tears down every subscription and waits for them to finish.
func (s *Sync) Stop() {
	s.life.Lock()
	defer s.life.Unlock()
	s.stopLocked()
}

func (s *Sync) stopLocked() {
	s.mu.Lock()
	cancel, unsub := s.cancel, s.unsubHead
	s.gen++
	s.me = ""
	s.cancel, s.unsubHead, s.ctx = nil, nil, nil
	s.convs, s.friendIDs, s.rows = nil, nil, nil
	s.rowSubs, s.unreadCounts, s.hydrating = nil, nil, nil
	s.loading = false
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if cancel != nil {
		s.bus.Publish(nil)
	}
}

// Rows returns the sorted list.
func (s *Sync) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Row(nil), s.rows...)
}

// Filtered returns rows for a tab and search query.
func (s *Sync) Filtered(tab Tab, query string) []Row {
	return Filter(s.Rows(), tab, query)
}

func (s *Sync) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Subscribe is called with every new list. Handlers must not block.
func (s *Sync) Subscribe(fn func([]Row)) (unsubscribe func()) {
	return s.bus.Subscribe(fn)
}

// ToggleFavorite flips a row's favorite flag.
func (s *Sync) ToggleFavorite(id string) bool {
	on := s.deps.Favorites.Toggle(id)
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.refresh(gen)
	return on
}

func (s *Sync) runConversations(ctx context.Context, gen uint64, uid string) {
	defer s.wg.Done()
	ordered := true
	metrics.ActiveSubscriptions.WithLabelValues("chat_list").Inc()
	defer metrics.ActiveSubscriptions.WithLabelValues("chat_list").Dec()

	for {
		sub := s.deps.Conversations.WatchConversations(ctx, uid, ordered, s.deps.Limit)
		retry := false
		live.Consume(ctx, sub, func(snap live.Snapshot[[]models.Conversation]) {
			if snap.Err == nil {
				s.applyConversations(gen, snap.Value)
				return
			}
			if ordered && repositories.IsMissingIndex(snap.Err) && s.takeFallback(gen) {
				s.log.Info().Msg("conversation index missing, falling back to client-side ordering")
				retry = true
				return
			}
			s.log.Warn().Err(snap.Err).Msg("conversation list subscription failed")
			if s.deps.Notify != nil {
				s.deps.Notify.Error("Could not load conversations")
			}
			s.applyConversations(gen, nil)
		})
		if !retry || ctx.Err() != nil {
			return
		}
		metrics.ListFallbacks.Inc()
		ordered = false
	}
}

// takeFallback reports whether this session may still fall back.
func (s *Sync) takeFallback(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.fallbackUsed {
		return false
	}
	s.fallbackUsed = true
	return true
}

func (s *Sync) runFriends(ctx context.Context, gen uint64, uid string) {
	defer s.wg.Done()
	sub := s.deps.Friendships.WatchAccepted(ctx, uid)
	live.Consume(ctx, sub, func(snap live.Snapshot[[]models.FriendRelationship]) {
		var ids []string
		if snap.Err != nil {
			s.log.Warn().Err(snap.Err).Msg("accepted friends subscription failed")
		} else {
			for _, rel := range snap.Value {
				if other := rel.Other(uid); other != "" && other != uid {
					ids = append(ids, other)
				}
			}
		}
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.friendIDs = ids
		s.mu.Unlock()
		s.refresh(gen)
	})
}

// dedupe keeps one canonical conversation per pair key.
func dedupe(convs []models.Conversation) []models.Conversation {
	groups := make(map[string][]models.Conversation)
	var order []string
	for _, c := range convs {
		if _, seen := groups[c.PairKey]; !seen {
			order = append(order, c.PairKey)
		}
		groups[c.PairKey] = append(groups[c.PairKey], c)
	}
	out := make([]models.Conversation, 0, len(order))
	for _, key := range order {
		if c, ok := models.Canonical(groups[key]); ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *Sync) applyConversations(gen uint64, convs []models.Conversation) {
	convs = dedupe(convs)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.convs = convs
	s.loading = false

	keep := make(map[string]bool, len(convs))
	for _, c := range convs {
		keep[c.ID] = true
		if _, ok := s.rowSubs[c.ID]; !ok {
			s.startRowLocked(gen, c.ID)
		}
	}
	for id, rs := range s.rowSubs {
		if !keep[id] {
			rs.cancel()
			delete(s.rowSubs, id)
			delete(s.unreadCounts, id)
		}
	}
	me := s.me
	s.mu.Unlock()

	s.primeFromMeta(me, convs)
	s.refresh(gen)
}

// primeFromMeta seeds the profile cache from denormalized member data.
func (s *Sync) primeFromMeta(me string, convs []models.Conversation) {
	seed := make(map[string]*models.UserProfile)
	for _, c := range convs {
		other := c.Counterpart(me)
		meta, ok := c.MembersMeta[other]
		if !ok || meta.DisplayName == "" {
			continue
		}
		p := &models.UserProfile{UID: other, DisplayName: meta.DisplayName}
		if meta.PhotoURL != "" {
			photo := meta.PhotoURL
			p.PhotoURL = &photo
		}
		if tag := models.NormalizeHandle(meta.Username); tag != "" {
			handle := "@" + tag
			p.Username = &handle
		}
		seed[other] = p
	}
	if len(seed) > 0 {
		s.deps.Profiles.PrimeIfAbsent(seed)
	}
}

// startRowLocked opens the unread and head subscriptions of a real row.
func (s *Sync) startRowLocked(gen uint64, convID string) {
	ctx, cancel := context.WithCancel(s.ctx)
	rs := &rowSub{cancel: cancel}
	s.rowSubs[convID] = rs
	me := s.me

	if counts, err := s.deps.Unread.Watch(ctx, me, convID); err == nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			live.Consume(ctx, counts, func(snap live.Snapshot[int]) {
				s.mu.Lock()
				if s.gen != gen || s.rowSubs[convID] != rs {
					s.mu.Unlock()
					return
				}
				s.unreadCounts[convID] = snap.Value
				s.mu.Unlock()
				s.refresh(gen)
			})
		}()
	}

	head := s.deps.Messages.WatchRecentMessages(ctx, convID, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		live.Consume(ctx, head, func(snap live.Snapshot[[]models.Message]) {
			if snap.Err != nil {
				s.log.Debug().Err(snap.Err).Str("conversation", convID).Msg("row head subscription failed")
				return
			}
			if len(snap.Value) == 0 || !s.current(gen, convID, rs) {
				return
			}
			s.deps.Heads.Apply(convID, models.HeadOf(snap.Value[0]), headcache.SourceRow)
		})
	}()
}

func (s *Sync) current(gen uint64, convID string, rs *rowSub) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.rowSubs[convID] == rs
}

// refresh rebuilds the rows from current state and publishes them.
func (s *Sync) refresh(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.rowSubs == nil {
		s.mu.Unlock()
		return
	}
	rows, missing := s.buildLocked()
	s.rows = rows
	s.hydrateLocked(gen, missing)
	s.mu.Unlock()

	s.bus.Publish(rows)
}

func (s *Sync) buildLocked() ([]Row, []string) {
	rows := make([]Row, 0, len(s.convs)+len(s.friendIDs))
	var missing []string
	withConv := make(map[string]bool, len(s.convs))

	profile := func(uid string) (*models.UserProfile, string) {
		p, ok := s.deps.Profiles.Peek(uid)
		if !ok {
			missing = append(missing, uid)
		}
		if p == nil {
			return nil, models.PlaceholderName
		}
		return p, p.Title()
	}

	for _, c := range s.convs {
		other := c.Counterpart(s.me)
		withConv[other] = true
		p, title := profile(other)

		activity := c.ActivityAt().UnixMilli()
		if c.ActivityAt().IsZero() {
			activity = 0
		}
		last := c.LastMessage
		if h, ok := s.deps.Heads.Get(c.ID); ok && h.AtMillis >= activity {
			activity = h.AtMillis
			last = h.Text
		}
		rows = append(rows, Row{
			ID:             c.ID,
			ConversationID: c.ID,
			OtherID:        other,
			Title:          title,
			Profile:        p,
			LastMessage:    last,
			ActivityAt:     activity,
			Unread:         s.unreadCounts[c.ID],
			Favorite:       s.deps.Favorites.Has(c.ID),
		})
	}

	for _, uid := range s.friendIDs {
		if withConv[uid] {
			continue
		}
		withConv[uid] = true
		p, title := profile(uid)
		id := models.VirtualID(uid)
		rows = append(rows, Row{
			ID:       id,
			OtherID:  uid,
			Virtual:  true,
			Title:    title,
			Profile:  p,
			Favorite: s.deps.Favorites.Has(id),
		})
	}

	SortRows(rows)
	return rows, missing
}

// SortRows orders real rows before virtual ones, then by activity, newest
// first, then by counterpart id.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Virtual != b.Virtual {
			return !a.Virtual
		}
		if a.ActivityAt != b.ActivityAt {
			return a.ActivityAt > b.ActivityAt
		}
		return a.OtherID < b.OtherID
	})
}

// hydrateLocked fetches profiles not yet cached. Results are dropped when
// the identity changed while the batch was in flight.
func (s *Sync) hydrateLocked(gen uint64, uids []string) {
	var batch []string
	for _, uid := range uids {
		if !s.hydrating[uid] {
			s.hydrating[uid] = true
			batch = append(batch, uid)
		}
	}
	if len(batch) == 0 {
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.deps.Profiles.GetMany(ctx, batch); err != nil {
			return
		}
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		for _, uid := range batch {
			delete(s.hydrating, uid)
		}
		s.mu.Unlock()
		s.refresh(gen)
	}()
}
