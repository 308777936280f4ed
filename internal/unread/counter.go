package unread

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/anonto42/nano-midea/chatsync/internal/live"
	"github.com/anonto42/nano-midea/chatsync/internal/metrics"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories"
	apperr "github.com/anonto42/nano-midea/chatsync/pkg/errors"
)

// Counter derives live unread counts from the message store.
type Counter struct {
	messages repositories.MessageRepository
	marks    *Watermarks
	log      zerolog.Logger
}

func NewCounter(messages repositories.MessageRepository, marks *Watermarks, log zerolog.Logger) *Counter {
	return &Counter{
		messages: messages,
		marks:    marks,
		log:      log.With().Str("component", "unread").Logger(),
	}
}

// Watch follows the number of messages in conversationID created after the
// watermark and not sent by me. The query restarts whenever the watermark
// moves. Synthesized rows have nothing to count and are rejected.
func (c *Counter) Watch(ctx context.Context, me, conversationID string) (live.Subscription[int], error) {
	if models.IsVirtual(conversationID) || conversationID == "" {
		return nil, apperr.ErrVirtualConversation
	}

	ctx, cancel := context.WithCancel(ctx)
	out := live.NewFeed[int](cancel)

	moved := make(chan struct{}, 1)
	unsubscribe := c.marks.Subscribe(func(m Mark) {
		if m.ConversationID != conversationID {
			return
		}
		select {
		case moved <- struct{}{}:
		default:
		}
	})

	metrics.ActiveSubscriptions.WithLabelValues("unread").Inc()
	go func() {
		defer metrics.ActiveSubscriptions.WithLabelValues("unread").Dec()
		defer unsubscribe()
		for {
			if !c.follow(ctx, out, me, conversationID, moved) {
				out.Stop()
				return
			}
		}
	}()
	return out, nil
}

// follow runs one query from the current watermark. It returns true when
// the watermark moved and the query should restart.
func (c *Counter) follow(ctx context.Context, out *live.Feed[int], me, conversationID string, moved <-chan struct{}) bool {
	since := c.messages.WatchMessagesSince(ctx, conversationID, c.marks.Get(conversationID))
	sub := live.Map(since, func(msgs []models.Message) int { return countUnread(msgs, me) })
	defer sub.Stop()

	updates := sub.Updates()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-moved:
			return true
		case snap, ok := <-updates:
			if !ok {
				// Source ended; keep the last count until the watermark moves.
				updates = nil
				continue
			}
			if snap.Err != nil {
				c.log.Warn().Err(snap.Err).Str("conversation", conversationID).Msg("unread query failed")
				out.Publish(0)
				updates = nil
				continue
			}
			out.Publish(snap.Value)
		}
	}
}

func countUnread(msgs []models.Message, me string) int {
	n := 0
	for _, m := range msgs {
		if m.SenderID != me {
			n++
		}
	}
	return n
}
