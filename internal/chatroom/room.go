// Package chatroom merges optimistic local sends with the confirmed message
// stream of one open conversation.
package chatroom

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anonto42/nano-midea/chatsync/internal/headcache"
	"github.com/anonto42/nano-midea/chatsync/internal/metrics"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/notify"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories"
	"github.com/anonto42/nano-midea/chatsync/internal/unread"
	apperr "github.com/anonto42/nano-midea/chatsync/pkg/errors"
)

const (
	DefaultWindow     = 15 * time.Second
	DefaultPendingTTL = 2 * time.Minute
	DefaultPageSize   = 25
)

type Options struct {
	// Window bounds the distance between a pending entry's client time and
	// the server time of the message that confirms it.
	Window     time.Duration
	PendingTTL time.Duration
	PageSize   int
	Notify     *notify.Center
	Log        zerolog.Logger
	Now        func() time.Time
}

// MessageView is one bubble. Pending bubbles carry their temp id.
type MessageView struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SenderID  string    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
	Pending   bool      `json:"pending"`
}

type View struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []MessageView `json:"messages"`
	Input          string        `json:"input"`
	Sending        bool          `json:"sending"`
	HasMore        bool          `json:"has_more"`
	Loading        bool          `json:"loading"`
}

// Room is the state of one open conversation for one viewer.
type Room struct {
	id       string
	me       string
	messages repositories.MessageRepository
	heads    *headcache.Cache
	marks    *unread.Watermarks
	opts     Options
	log      zerolog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	loading   bool
	confirmed []models.Message // live window, newest first
	older     []models.Message // paged history, newest first
	pending   []models.PendingMessage
	absorbed  map[string]bool // confirmed ids that already replaced a pending entry
	input     string
	sending   bool
	hasMore   bool
}

func New(conversationID, me string, messages repositories.MessageRepository, heads *headcache.Cache, marks *unread.Watermarks, opts Options) *Room {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = DefaultPendingTTL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Room{
		id:       conversationID,
		me:       me,
		messages: messages,
		heads:    heads,
		marks:    marks,
		opts:     opts,
		log:      opts.Log.With().Str("conversation", conversationID).Logger(),
	}
}

func (r *Room) ID() string { return r.id }

// Open subscribes to the recent messages and marks the conversation read.
func (r *Room) Open(ctx context.Context) error {
	if r.id == "" || models.IsVirtual(r.id) {
		return apperr.ErrVirtualConversation
	}
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.loading = true
	r.hasMore = true
	done := r.done
	r.mu.Unlock()

	if r.marks != nil {
		r.marks.MarkRead(r.id)
	}

	sub := r.messages.WatchRecentMessages(ctx, r.id, r.opts.PageSize)
	go func() {
		defer close(done)
		metrics.ActiveSubscriptions.WithLabelValues("room").Inc()
		defer metrics.ActiveSubscriptions.WithLabelValues("room").Dec()

		ticker := time.NewTicker(sweepInterval(r.opts.PendingTTL))
		defer ticker.Stop()
		defer sub.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			case snap, ok := <-sub.Updates():
				if !ok {
					return
				}
				if snap.Err != nil {
					r.log.Warn().Err(snap.Err).Msg("message stream failed")
					r.mu.Lock()
					r.loading = false
					r.mu.Unlock()
					return
				}
				r.applyConfirmed(snap.Value)
			}
		}
	}()
	return nil
}

func sweepInterval(ttl time.Duration) time.Duration {
	if d := ttl / 4; d > time.Second {
		return d
	}
	return time.Second
}

// Close ends the subscription and waits for it to drain.
func (r *Room) Close() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Room) applyConfirmed(msgs []models.Message) {
	r.mu.Lock()
	r.retainDroppedLocked(msgs)
	r.confirmed = msgs
	r.pruneAbsorbedLocked()
	r.loading = false
	if len(r.older) == 0 {
		r.hasMore = len(msgs) >= r.opts.PageSize
	}
	r.reconcileLocked()
	r.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	newest := msgs[0]
	if r.heads != nil {
		r.heads.Apply(r.id, models.HeadOf(newest), headcache.SourceRoom)
	}
	// The viewer is looking at the room, so what arrives is read.
	if r.marks != nil {
		r.marks.Advance(r.id, newest.CreatedAt)
	}
}

// retainDroppedLocked keeps messages pushed out of the live window as
// history so paging has no gap.
func (r *Room) retainDroppedLocked(next []models.Message) {
	if len(next) == 0 || len(r.confirmed) == 0 {
		return
	}
	floor := next[len(next)-1]
	inNext := make(map[string]bool, len(next))
	for _, m := range next {
		inNext[m.ID] = true
	}
	var dropped []models.Message
	for _, m := range r.confirmed {
		if !inNext[m.ID] && olderThan(m, floor) {
			dropped = append(dropped, m)
		}
	}
	if len(dropped) == 0 {
		return
	}
	seen := make(map[string]bool, len(r.older))
	for _, m := range r.older {
		seen[m.ID] = true
	}
	for _, m := range dropped {
		if !seen[m.ID] {
			r.older = append(r.older, m)
		}
	}
	sort.Slice(r.older, func(i, j int) bool { return olderThan(r.older[j], r.older[i]) })
}

func olderThan(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// reconcileLocked drops every pending entry that a confirmed message now
// represents. A confirmed message absorbs at most one pending entry.
func (r *Room) reconcileLocked() {
	if len(r.pending) == 0 {
		return
	}
	if r.absorbed == nil {
		r.absorbed = make(map[string]bool)
	}
	kept := r.pending[:0]
	for _, p := range r.pending {
		if m, ok := r.match(p); ok {
			r.absorbed[m.ID] = true
			metrics.PendingResolved.WithLabelValues("matched").Inc()
			continue
		}
		kept = append(kept, p)
	}
	r.pending = kept
}

// pruneAbsorbedLocked forgets absorbed ids that left the live window.
func (r *Room) pruneAbsorbedLocked() {
	if len(r.absorbed) == 0 {
		return
	}
	inWindow := make(map[string]bool, len(r.confirmed))
	for _, m := range r.confirmed {
		inWindow[m.ID] = true
	}
	for id := range r.absorbed {
		if !inWindow[id] {
			delete(r.absorbed, id)
		}
	}
}

func (r *Room) match(p models.PendingMessage) (models.Message, bool) {
	for _, m := range r.confirmed {
		if r.absorbed[m.ID] || m.SenderID != p.SenderID || m.Text != p.Text {
			continue
		}
		dt := m.CreatedAt.Sub(p.CreatedAt)
		if dt < 0 {
			dt = -dt
		}
		if dt < r.opts.Window {
			return m, true
		}
	}
	return models.Message{}, false
}

// SetInput replaces the draft text.
func (r *Room) SetInput(text string) {
	r.mu.Lock()
	r.input = text
	r.mu.Unlock()
}

// Send shows text immediately as a pending bubble and writes it. Only one
// send may be in flight per room.
func (r *Room) Send(ctx context.Context, text string) (*models.PendingMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, apperr.ErrEmptyMessage
	}

	r.mu.Lock()
	if r.sending {
		r.mu.Unlock()
		metrics.MessagesSent.WithLabelValues("rejected").Inc()
		return nil, apperr.ErrSendInFlight
	}
	r.sending = true
	p := models.PendingMessage{
		TempID:    uuid.NewString(),
		Text:      trimmed,
		SenderID:  r.me,
		CreatedAt: r.opts.Now(),
	}
	r.pending = append([]models.PendingMessage{p}, r.pending...)
	r.input = ""
	r.mu.Unlock()

	if r.heads != nil {
		r.heads.Apply(r.id, models.HeadEntry{Text: models.Preview(trimmed), AtMillis: p.CreatedAt.UnixMilli()}, headcache.SourceLocalSend)
	}

	_, err := r.messages.SendMessage(ctx, r.id, r.me, trimmed)

	r.mu.Lock()
	r.sending = false
	if err != nil {
		r.removePendingLocked(p.TempID)
		r.input = text
		r.mu.Unlock()
		metrics.MessagesSent.WithLabelValues("failed").Inc()
		metrics.PendingResolved.WithLabelValues("failed").Inc()
		r.log.Warn().Err(err).Msg("send failed")
		if r.opts.Notify != nil {
			r.opts.Notify.Error("Message not sent")
		}
		return nil, apperr.ErrSendFailed(err)
	}
	for i := range r.pending {
		if r.pending[i].TempID == p.TempID {
			r.pending[i].Acked = true
			r.pending[i].AckedAt = r.opts.Now()
		}
	}
	r.reconcileLocked()
	r.mu.Unlock()

	metrics.MessagesSent.WithLabelValues("ok").Inc()
	return &p, nil
}

func (r *Room) removePendingLocked(tempID string) {
	for i, p := range r.pending {
		if p.TempID == tempID {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

// Sweep expires acknowledged entries no confirmed message has matched
// within the pending TTL.
func (r *Room) Sweep() int {
	now := r.opts.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.pending[:0]
	expired := 0
	for _, p := range r.pending {
		if p.Acked && now.Sub(p.AckedAt) > r.opts.PendingTTL {
			expired++
			continue
		}
		kept = append(kept, p)
	}
	r.pending = kept
	if expired > 0 {
		metrics.PendingResolved.WithLabelValues("expired").Add(float64(expired))
		r.log.Debug().Int("expired", expired).Msg("pending messages expired")
	}
	return expired
}

// LoadMore fetches the page of messages older than everything shown.
func (r *Room) LoadMore(ctx context.Context) (int, error) {
	r.mu.Lock()
	if !r.hasMore {
		r.mu.Unlock()
		return 0, nil
	}
	oldest, ok := r.oldestLocked()
	r.mu.Unlock()
	if !ok {
		return 0, nil
	}

	page, err := r.messages.MessagesPage(ctx, r.id, models.MessageCursor{CreatedAt: oldest.CreatedAt, ID: oldest.ID}, r.opts.PageSize)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool, len(r.confirmed)+len(r.older))
	for _, m := range r.confirmed {
		seen[m.ID] = true
	}
	for _, m := range r.older {
		seen[m.ID] = true
	}
	added := 0
	for _, m := range page {
		if !seen[m.ID] {
			r.older = append(r.older, m)
			added++
		}
	}
	r.hasMore = len(page) == r.opts.PageSize
	return added, nil
}

func (r *Room) oldestLocked() (models.Message, bool) {
	if n := len(r.older); n > 0 {
		return r.older[n-1], true
	}
	if n := len(r.confirmed); n > 0 {
		return r.confirmed[n-1], true
	}
	return models.Message{}, false
}

// Pending returns the unreconciled entries, newest first.
func (r *Room) Pending() []models.PendingMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.PendingMessage(nil), r.pending...)
}

// View renders pending bubbles above the confirmed history.
func (r *Room) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := View{
		ConversationID: r.id,
		Input:          r.input,
		Sending:        r.sending,
		HasMore:        r.hasMore,
		Loading:        r.loading,
		Messages:       make([]MessageView, 0, len(r.pending)+len(r.confirmed)+len(r.older)),
	}
	for _, p := range r.pending {
		v.Messages = append(v.Messages, MessageView{ID: p.TempID, Text: p.Text, SenderID: p.SenderID, CreatedAt: p.CreatedAt, Pending: true})
	}
	seen := make(map[string]bool, len(r.confirmed))
	for _, m := range r.confirmed {
		seen[m.ID] = true
		v.Messages = append(v.Messages, MessageView{ID: m.ID, Text: m.Text, SenderID: m.SenderID, CreatedAt: m.CreatedAt})
	}
	for _, m := range r.older {
		if !seen[m.ID] {
			v.Messages = append(v.Messages, MessageView{ID: m.ID, Text: m.Text, SenderID: m.SenderID, CreatedAt: m.CreatedAt})
		}
	}
	return v
}
