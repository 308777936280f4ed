package friends

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/anonto42/nano-midea/chatsync/internal/live"
	"github.com/anonto42/nano-midea/chatsync/internal/metrics"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
)

type watchFunc func(ctx context.Context, uid string) live.Subscription[[]models.FriendRelationship]

// View is one live relationship query bound to a single identity.
type View struct {
	name    string
	watch   watchFunc
	onError func(error)
	log     zerolog.Logger

	mu     sync.Mutex
	uid    string
	gen    uint64
	rows   []models.FriendRelationship
	ready  bool
	cancel context.CancelFunc
	done   chan struct{}
}

func newView(name string, watch watchFunc, onError func(error), log zerolog.Logger) *View {
	return &View{
		name:    name,
		watch:   watch,
		onError: onError,
		log:     log.With().Str("view", name).Logger(),
	}
}

// Start binds the view to uid, tearing down any previous binding first.
func (v *View) Start(ctx context.Context, uid string) {
	v.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	v.mu.Lock()
	v.gen++
	gen := v.gen
	v.uid = uid
	v.cancel = cancel
	v.done = done
	v.mu.Unlock()

	sub := v.watch(ctx, uid)
	metrics.ActiveSubscriptions.WithLabelValues("friends_" + v.name).Inc()
	go func() {
		defer close(done)
		defer metrics.ActiveSubscriptions.WithLabelValues("friends_" + v.name).Dec()
		live.Consume(ctx, sub, func(s live.Snapshot[[]models.FriendRelationship]) {
			v.mu.Lock()
			defer v.mu.Unlock()
			if v.gen != gen {
				return
			}
			v.ready = true
			if s.Err != nil {
				v.log.Warn().Err(s.Err).Msg("relationship view failed")
				v.rows = nil
				if v.onError != nil {
					go v.onError(s.Err)
				}
				return
			}
			v.rows = s.Value
		})
	}()
}

// Stop ends the subscription and waits until it can no longer deliver.
func (v *View) Stop() {
	v.mu.Lock()
	cancel, done := v.cancel, v.done
	v.gen++
	v.uid = ""
	v.rows = nil
	v.ready = false
	v.cancel, v.done = nil, nil
	v.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Rows returns the latest snapshot.
func (v *View) Rows() []models.FriendRelationship {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.FriendRelationship(nil), v.rows...)
}

// Ready reports whether the first snapshot for the current identity arrived.
func (v *View) Ready() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ready
}

func (v *View) UID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.uid
}
