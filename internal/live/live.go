// Package live provides cancellable, latest-wins subscriptions over
// snapshot streams. Every snapshot is a complete replacement of the
// previous one, so a slow consumer only ever misses stale states.
package live

import (
	"context"
	"sync"
)

// Snapshot is one delivery of a subscription: a full value or a terminal error.
type Snapshot[T any] struct {
	Value T
	Err   error
}

// Subscription is a live stream owned by its caller, who must call Stop.
type Subscription[T any] interface {
	Updates() <-chan Snapshot[T]
	Stop()
}

// Feed is a Subscription fed by a producer. It buffers at most one
// snapshot and replaces it on every Publish.
type Feed[T any] struct {
	mu     sync.Mutex
	ch     chan Snapshot[T]
	done   chan struct{}
	closed bool

	stopOnce sync.Once
	onStop   func()
}

// NewFeed creates a feed. onStop runs once, after the feed is closed by
// Stop or Fail, and releases the producer.
func NewFeed[T any](onStop func()) *Feed[T] {
	return &Feed[T]{
		ch:     make(chan Snapshot[T], 1),
		done:   make(chan struct{}),
		onStop: onStop,
	}
}

func (f *Feed[T]) Updates() <-chan Snapshot[T] { return f.ch }

// Done is closed once the feed no longer accepts snapshots.
func (f *Feed[T]) Done() <-chan struct{} { return f.done }

// Publish replaces any undelivered snapshot with v. It reports false once
// the feed is closed.
func (f *Feed[T]) Publish(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.replace(Snapshot[T]{Value: v})
	return true
}

// Fail delivers err as the final snapshot and closes the feed.
func (f *Feed[T]) Fail(err error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.replace(Snapshot[T]{Err: err})
	f.closeLocked()
	f.mu.Unlock()
	f.release()
}

// Stop closes the feed without a final snapshot. Safe to call repeatedly.
func (f *Feed[T]) Stop() {
	f.mu.Lock()
	if !f.closed {
		// Drop whatever the consumer has not read yet.
		select {
		case <-f.ch:
		default:
		}
		f.closeLocked()
	}
	f.mu.Unlock()
	f.release()
}

func (f *Feed[T]) replace(s Snapshot[T]) {
	select {
	case <-f.ch:
	default:
	}
	f.ch <- s
}

func (f *Feed[T]) closeLocked() {
	f.closed = true
	close(f.ch)
	close(f.done)
}

func (f *Feed[T]) release() {
	f.stopOnce.Do(func() {
		if f.onStop != nil {
			f.onStop()
		}
	})
}

// Consume calls fn for every snapshot until the subscription ends or ctx
// is cancelled, then stops the subscription.
func Consume[T any](ctx context.Context, sub Subscription[T], fn func(Snapshot[T])) {
	defer sub.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.Updates():
			if !ok {
				return
			}
			fn(snap)
			if snap.Err != nil {
				return
			}
		}
	}
}

// Map derives a subscription whose values are fn applied to src's values.
func Map[A, B any](src Subscription[A], fn func(A) B) Subscription[B] {
	ctx, cancel := context.WithCancel(context.Background())
	out := NewFeed[B](func() {
		cancel()
	})
	go func() {
		defer src.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-src.Updates():
				if !ok {
					out.Stop()
					return
				}
				if snap.Err != nil {
					out.Fail(snap.Err)
					return
				}
				out.Publish(fn(snap.Value))
			}
		}
	}()
	return out
}
