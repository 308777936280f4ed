// Package unread tracks per-conversation read watermarks and the live
// count of messages past them.
package unread

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anonto42/nano-midea/chatsync/internal/eventbus"
	"github.com/anonto42/nano-midea/chatsync/internal/kv"
)

// Mark is published when a watermark advances.
type Mark struct {
	ConversationID string
	At             time.Time
}

// Watermarks holds, per conversation, the time up to which the viewer has
// read, in Unix nanoseconds. A watermark only moves forward.
type Watermarks struct {
	mu     sync.RWMutex
	marks  map[string]int64
	writer *kv.Writer
	bus    *eventbus.Bus[Mark]
	log    zerolog.Logger
	now    func() time.Time
}

func NewWatermarks(writer *kv.Writer, log zerolog.Logger, now func() time.Time) *Watermarks {
	if now == nil {
		now = time.Now
	}
	return &Watermarks{
		marks:  make(map[string]int64),
		writer: writer,
		bus:    eventbus.New[Mark](),
		log:    log.With().Str("component", "watermarks").Logger(),
		now:    now,
	}
}

// Get returns the watermark, the zero time when the conversation was never opened.
func (w *Watermarks) Get(conversationID string) time.Time {
	w.mu.RLock()
	ns, ok := w.marks[conversationID]
	w.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// MarkRead advances the watermark to now.
func (w *Watermarks) MarkRead(conversationID string) time.Time {
	at := w.now()
	w.Advance(conversationID, at)
	return w.Get(conversationID)
}

// Advance moves the watermark to at if that is later, reporting whether it moved.
func (w *Watermarks) Advance(conversationID string, at time.Time) bool {
	ns := at.UnixNano()
	w.mu.Lock()
	if cur, ok := w.marks[conversationID]; ok && ns <= cur {
		w.mu.Unlock()
		return false
	}
	w.marks[conversationID] = ns
	w.mu.Unlock()

	w.persist()
	w.bus.Publish(Mark{ConversationID: conversationID, At: time.Unix(0, ns)})
	return true
}

func (w *Watermarks) Subscribe(fn func(Mark)) (unsubscribe func()) {
	return w.bus.Subscribe(fn)
}

func (w *Watermarks) Clear() {
	w.mu.Lock()
	w.marks = make(map[string]int64)
	w.mu.Unlock()
	w.persist()
}

func (w *Watermarks) snapshot() map[string]int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]int64, len(w.marks))
	for k, v := range w.marks {
		out[k] = v
	}
	return out
}

func (w *Watermarks) persist() {
	if w.writer != nil {
		w.writer.Put(kv.KeyLastRead, w.snapshot())
	}
}

// Load merges persisted watermarks, keeping the later of each.
func (w *Watermarks) Load(ctx context.Context, store kv.Store) {
	var stored map[string]int64
	found, err := kv.GetJSON(ctx, store, kv.KeyLastRead, &stored)
	if err != nil {
		w.log.Warn().Err(err).Msg("persisted watermarks unreadable")
		return
	}
	if !found {
		return
	}
	w.mu.Lock()
	for id, ns := range stored {
		if cur, ok := w.marks[id]; !ok || ns > cur {
			w.marks[id] = ns
		}
	}
	w.mu.Unlock()
}
