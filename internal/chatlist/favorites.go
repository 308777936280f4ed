package chatlist

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/anonto42/nano-midea/chatsync/internal/kv"
)

// Favorites is the persisted set of starred row ids.
type Favorites struct {
	mu     sync.RWMutex
	set    map[string]bool
	writer *kv.Writer
	log    zerolog.Logger
}

func NewFavorites(writer *kv.Writer, log zerolog.Logger) *Favorites {
	return &Favorites{set: make(map[string]bool), writer: writer, log: log}
}

func (f *Favorites) Has(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.set[id]
}

// Toggle flips id and returns its new state.
func (f *Favorites) Toggle(id string) bool {
	f.mu.Lock()
	now := !f.set[id]
	if now {
		f.set[id] = true
	} else {
		delete(f.set, id)
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()

	if f.writer != nil {
		f.writer.Put(kv.KeyFavorites, snap)
	}
	return now
}

func (f *Favorites) List() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.set))
	for id := range f.set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (f *Favorites) snapshotLocked() map[string]bool {
	out := make(map[string]bool, len(f.set))
	for k := range f.set {
		out[k] = true
	}
	return out
}

func (f *Favorites) Load(ctx context.Context, store kv.Store) {
	var stored map[string]bool
	found, err := kv.GetJSON(ctx, store, kv.KeyFavorites, &stored)
	if err != nil {
		f.log.Warn().Err(err).Msg("persisted favorites unreadable")
		return
	}
	if !found {
		return
	}
	f.mu.Lock()
	for id, on := range stored {
		if on {
			f.set[id] = true
		}
	}
	f.mu.Unlock()
}

func (f *Favorites) Clear() {
	f.mu.Lock()
	f.set = make(map[string]bool)
	f.mu.Unlock()
	if f.writer != nil {
		f.writer.Put(kv.KeyFavorites, map[string]bool{})
	}
}
