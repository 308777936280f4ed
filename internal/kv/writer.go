package kv

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Writer persists values in the background. Writes for the same key
// coalesce so only the latest value is stored, and failures are logged and
// dropped: callers treat persistence as best effort.
type Writer struct {
	store Store
	log   zerolog.Logger

	mu      sync.Mutex
	pending map[string][]byte
	wake    chan struct{}

	// writeMu orders batches so an older batch never lands after a newer one.
	writeMu sync.Mutex

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewWriter(store Store, log zerolog.Logger) *Writer {
	w := &Writer{
		store:   store,
		log:     log.With().Str("component", "kv_writer").Logger(),
		pending: make(map[string][]byte),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Store returns the backing store for reads.
func (w *Writer) Store() Store { return w.store }

// Put schedules v, JSON encoded, to be written under key.
func (w *Writer) Put(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		w.log.Warn().Err(err).Str("key", key).Msg("encode failed, value not persisted")
		return
	}
	w.mu.Lock()
	w.pending[key] = raw
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Flush writes everything scheduled so far.
func (w *Writer) Flush(ctx context.Context) {
	w.writeBatch(ctx)
}

// Close flushes pending values and stops the background goroutine.
func (w *Writer) Close() {
	close(w.stop)
	w.wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.writeBatch(ctx)
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-w.wake:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.writeBatch(ctx)
			cancel()
		}
	}
}

func (w *Writer) writeBatch(ctx context.Context) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string][]byte)
	w.mu.Unlock()

	for key, raw := range batch {
		if err := w.store.Set(ctx, key, raw); err != nil {
			w.log.Warn().Err(err).Str("key", key).Msg("persist failed")
		}
	}
}
