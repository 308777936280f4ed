// Package notify holds transient, dismissible user notifications.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/google/uuid"
)

const defaultMax = 20

// Center keeps the most recent notifications until they are dismissed or
// expire.
type Center struct {
	mu    sync.Mutex
	items map[string]models.Notification
	ttl   time.Duration
	max   int
	now   func() time.Time
}

func NewCenter(ttl time.Duration) *Center {
	return &Center{
		items: make(map[string]models.Notification),
		ttl:   ttl,
		max:   defaultMax,
		now:   time.Now,
	}
}

// WithClock replaces the clock used for expiry.
func (c *Center) WithClock(now func() time.Time) *Center {
	c.now = now
	return c
}

func (c *Center) Push(level models.NotificationLevel, message string) models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := models.Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: c.now(),
	}
	c.items[n.ID] = n
	c.pruneLocked()
	return n
}

func (c *Center) Error(message string) models.Notification {
	return c.Push(models.LevelError, message)
}

// List returns live notifications, newest first.
func (c *Center) List() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	return c.sortedLocked()
}

// Dismiss removes a notification and reports whether it existed.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	delete(c.items, id)
	return ok
}

// Clear drops everything, used when the signed-in user changes.
func (c *Center) Clear() {
	c.mu.Lock()
	c.items = make(map[string]models.Notification)
	c.mu.Unlock()
}

func (c *Center) sortedLocked() []models.Notification {
	out := make([]models.Notification, 0, len(c.items))
	for _, n := range c.items {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Center) pruneLocked() {
	if c.ttl > 0 {
		cutoff := c.now().Add(-c.ttl)
		for id, n := range c.items {
			if n.CreatedAt.Before(cutoff) {
				delete(c.items, id)
			}
		}
	}
	if len(c.items) > c.max {
		sorted := c.sortedLocked()
		for _, n := range sorted[c.max:] {
			delete(c.items, n.ID)
		}
	}
}
