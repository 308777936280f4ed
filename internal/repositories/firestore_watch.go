package repositories

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/anonto42/nano-midea/chatsync/internal/live"
	"github.com/rs/zerolog"
)

// watchQuery turns a Firestore snapshot listener into a live subscription.
// The iterator is only touched from its own goroutine; Stop cancels the
// context, which unblocks Next.
func watchQuery[T any](ctx context.Context, log zerolog.Logger, name string, q firestore.Query, decode func(*firestore.DocumentSnapshot) (T, bool)) live.Subscription[[]T] {
	ctx, cancel := context.WithCancel(ctx)
	feed := live.NewFeed[[]T](cancel)

	go func() {
		it := q.Snapshots(ctx)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil {
					feed.Stop()
					return
				}
				log.Warn().Err(err).Str("query", name).Msg("snapshot listener failed")
				feed.Fail(err)
				return
			}
			docs, err := snap.Documents.GetAll()
			if err != nil {
				log.Warn().Err(err).Str("query", name).Msg("reading snapshot documents failed")
				feed.Fail(err)
				return
			}
			out := make([]T, 0, len(docs))
			for _, d := range docs {
				if v, ok := decode(d); ok {
					out = append(out, v)
				}
			}
			if !feed.Publish(out) {
				return
			}
		}
	}()

	return feed
}
