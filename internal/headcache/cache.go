// Package headcache keeps the latest known message of each conversation,
// shared by the chat list and open rooms.
package headcache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anonto42/nano-midea/chatsync/internal/eventbus"
	"github.com/anonto42/nano-midea/chatsync/internal/kv"
	"github.com/anonto42/nano-midea/chatsync/internal/metrics"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
)

type Source string

const (
	SourceLocalSend Source = "local_send"
	SourceRoom      Source = "room"
	SourceRow       Source = "row"
	SourcePersisted Source = "persisted"
)

// Update is published for every head that changed.
type Update struct {
	ConversationID string
	Entry          models.HeadEntry
	Source         Source
}

// Cache is last-write-wins by AtMillis: an entry that is not strictly newer
// than the cached one is ignored.
type Cache struct {
	mu     sync.RWMutex
	heads  map[string]models.HeadEntry
	bus    *eventbus.Bus[Update]
	writer *kv.Writer
	log    zerolog.Logger
}

// New creates a cache. writer may be nil.
func New(writer *kv.Writer, log zerolog.Logger) *Cache {
	return &Cache{
		heads:  make(map[string]models.HeadEntry),
		bus:    eventbus.New[Update](),
		writer: writer,
		log:    log.With().Str("component", "head_cache").Logger(),
	}
}

// Apply stores e when it is newer than the cached head and reports whether
// it did.
func (c *Cache) Apply(conversationID string, e models.HeadEntry, src Source) bool {
	if conversationID == "" {
		return false
	}
	c.mu.Lock()
	cur, ok := c.heads[conversationID]
	if ok && e.AtMillis <= cur.AtMillis {
		c.mu.Unlock()
		metrics.HeadUpdates.WithLabelValues(string(src), "false").Inc()
		return false
	}
	c.heads[conversationID] = e
	c.mu.Unlock()

	metrics.HeadUpdates.WithLabelValues(string(src), "true").Inc()
	c.persist()
	c.bus.Publish(Update{ConversationID: conversationID, Entry: e, Source: src})
	return true
}

func (c *Cache) Get(conversationID string) (models.HeadEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.heads[conversationID]
	return e, ok
}

// Snapshot returns a copy of every head.
func (c *Cache) Snapshot() map[string]models.HeadEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.HeadEntry, len(c.heads))
	for k, v := range c.heads {
		out[k] = v
	}
	return out
}

// Subscribe registers fn for applied updates. Handlers run on the
// updating goroutine and must not block.
func (c *Cache) Subscribe(fn func(Update)) (unsubscribe func()) {
	return c.bus.Subscribe(fn)
}

// Clear drops every head in memory and in the persisted copy.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.heads = make(map[string]models.HeadEntry)
	c.mu.Unlock()
	c.persist()
}

type persisted struct {
	Data      map[string]models.HeadEntry `json:"data"`
	UpdatedAt int64                       `json:"updatedAt"`
}

func (c *Cache) persist() {
	if c.writer == nil {
		return
	}
	c.writer.Put(kv.KeyHeadsCache, persisted{Data: c.Snapshot(), UpdatedAt: time.Now().UnixMilli()})
}

// Load merges the persisted snapshot into the cache under the same
// last-write-wins rule as Apply.
func (c *Cache) Load(ctx context.Context, store kv.Store) int {
	var snap persisted
	found, err := kv.GetJSON(ctx, store, kv.KeyHeadsCache, &snap)
	if err != nil {
		c.log.Warn().Err(err).Msg("persisted heads unreadable, starting empty")
		return 0
	}
	if !found {
		return 0
	}
	applied := 0
	for id, e := range snap.Data {
		if c.Apply(id, e, SourcePersisted) {
			applied++
		}
	}
	c.log.Debug().Int("applied", applied).Msg("heads restored")
	return applied
}
