// Package profilecache resolves user display profiles with a TTL bound
// memory tier backed by the local key-value store.
package profilecache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/anonto42/nano-midea/chatsync/internal/kv"
	"github.com/anonto42/nano-midea/chatsync/internal/metrics"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories"
)

const (
	DefaultTTL         = 7 * 24 * time.Hour
	DefaultConcurrency = 12
	defaultSize        = 2048
)

// entry caches one resolution. A nil profile is a cached failure.
type entry struct {
	profile   *models.UserProfile
	fetchedAt time.Time
}

type Options struct {
	TTL         time.Duration
	Size        int
	Concurrency int
	// Writer persists the cache. Nil keeps it memory only.
	Writer *kv.Writer
	Log    zerolog.Logger
	Now    func() time.Time
}

type Cache struct {
	repo        repositories.ProfileRepository
	entries     *lru.Cache
	ttl         time.Duration
	concurrency int
	group       singleflight.Group
	writer      *kv.Writer
	log         zerolog.Logger
	now         func() time.Time
}

func New(repo repositories.ProfileRepository, opts Options) (*Cache, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Size <= 0 {
		opts.Size = defaultSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	entries, err := lru.New(opts.Size)
	if err != nil {
		return nil, err
	}
	return &Cache{
		repo:        repo,
		entries:     entries,
		ttl:         opts.TTL,
		concurrency: opts.Concurrency,
		writer:      opts.Writer,
		log:         opts.Log.With().Str("component", "profile_cache").Logger(),
		now:         opts.Now,
	}, nil
}

// lookup returns a fresh cached entry. Expired entries are evicted.
func (c *Cache) lookup(uid string) (entry, bool) {
	v, ok := c.entries.Get(uid)
	if !ok {
		metrics.ProfileCacheLookups.WithLabelValues("miss").Inc()
		return entry{}, false
	}
	e := v.(entry)
	if c.now().Sub(e.fetchedAt) > c.ttl {
		c.entries.Remove(uid)
		metrics.ProfileCacheLookups.WithLabelValues("expired").Inc()
		return entry{}, false
	}
	metrics.ProfileCacheLookups.WithLabelValues("hit").Inc()
	return e, true
}

// Peek returns the cached profile without fetching. The second result is
// false when uid was never resolved or its entry expired.
func (c *Cache) Peek(uid string) (*models.UserProfile, bool) {
	e, ok := c.lookup(uid)
	return e.profile, ok
}

// Get returns the profile of uid, nil for a cached failure. Only context
// errors are returned; store failures are cached as nil until the TTL runs out.
func (c *Cache) Get(ctx context.Context, uid string) (*models.UserProfile, error) {
	if uid == "" {
		return nil, nil
	}
	if e, ok := c.lookup(uid); ok {
		return e.profile, nil
	}

	ch := c.group.DoChan(uid, func() (interface{}, error) {
		// Detached so one caller leaving does not fail the shared fetch.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		// A concurrent flight may have finished between lookup and here.
		if v, ok := c.entries.Peek(uid); ok {
			if e := v.(entry); c.now().Sub(e.fetchedAt) <= c.ttl {
				return e.profile, nil
			}
		}
		p, err := c.resolve(fetchCtx, uid)
		if err != nil {
			c.log.Debug().Err(err).Str("uid", uid).Msg("profile fetch failed, caching placeholder")
			metrics.ProfileFetches.WithLabelValues("error").Inc()
			p = nil
		}
		c.entries.Add(uid, entry{profile: p, fetchedAt: c.now()})
		c.persist()
		return p, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		p, _ := res.Val.(*models.UserProfile)
		return p, res.Err
	}
}

// GetMany resolves every distinct uid, serving cached entries directly and
// fetching the rest with bounded concurrency.
func (c *Cache) GetMany(ctx context.Context, uids []string) (map[string]*models.UserProfile, error) {
	out := make(map[string]*models.UserProfile, len(uids))
	var missing []string
	seen := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		if uid == "" {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		if e, ok := c.lookup(uid); ok {
			out[uid] = e.profile
			continue
		}
		missing = append(missing, uid)
	}
	if len(missing) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, uid := range missing {
		uid := uid
		g.Go(func() error {
			p, err := c.Get(gctx, uid)
			if err != nil {
				return err
			}
			mu.Lock()
			out[uid] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// resolve walks the profile sources from most to least specific and
// always yields a profile unless a store call fails.
func (c *Cache) resolve(ctx context.Context, uid string) (*models.UserProfile, error) {
	pub, err := c.repo.GetPublicProfile(ctx, uid)
	if err != nil {
		return nil, err
	}
	if pub != nil {
		metrics.ProfileFetches.WithLabelValues("public").Inc()
		tag := models.NormalizeHandle(pub.Gamertag)
		return build(uid, firstNonEmpty(strings.TrimSpace(pub.DisplayName), at(tag)), pub.PhotoURL, tag), nil
	}

	priv, err := c.repo.GetPrivateProfile(ctx, uid)
	if err != nil {
		return nil, err
	}
	if priv != nil {
		tag := models.NormalizeHandle(priv.Gamertag)
		if tag == "" {
			name, err := c.repo.UsernameByUID(ctx, uid)
			if err != nil {
				return nil, err
			}
			tag = models.NormalizeHandle(name)
		}
		metrics.ProfileFetches.WithLabelValues("private").Inc()
		display := firstNonEmpty(strings.TrimSpace(priv.DisplayName), at(tag), strings.TrimSpace(priv.Email))
		return build(uid, display, priv.PhotoURL, tag), nil
	}

	name, err := c.repo.UsernameByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if tag := models.NormalizeHandle(name); tag != "" {
		metrics.ProfileFetches.WithLabelValues("username").Inc()
		return build(uid, at(tag), "", tag), nil
	}

	metrics.ProfileFetches.WithLabelValues("placeholder").Inc()
	return build(uid, "", "", ""), nil
}

func build(uid, display, photo, tag string) *models.UserProfile {
	p := &models.UserProfile{UID: uid, DisplayName: firstNonEmpty(display, models.PlaceholderName)}
	if photo != "" {
		p.PhotoURL = &photo
	}
	if tag != "" {
		handle := at(tag)
		p.Username = &handle
	}
	return p
}

func at(tag string) string {
	if tag == "" {
		return ""
	}
	return "@" + tag
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Prime stores profiles as freshly fetched.
func (c *Cache) Prime(profiles map[string]*models.UserProfile) {
	now := c.now()
	for uid, p := range profiles {
		c.entries.Add(uid, entry{profile: p, fetchedAt: now})
	}
	c.persist()
}

// PrimeIfAbsent stores profiles only for uids with no fresh entry.
func (c *Cache) PrimeIfAbsent(profiles map[string]*models.UserProfile) {
	now := c.now()
	added := false
	for uid, p := range profiles {
		if v, ok := c.entries.Peek(uid); ok && now.Sub(v.(entry).fetchedAt) <= c.ttl {
			continue
		}
		c.entries.Add(uid, entry{profile: p, fetchedAt: now})
		added = true
	}
	if added {
		c.persist()
	}
}

func (c *Cache) Invalidate(uid string) {
	c.entries.Remove(uid)
	c.persist()
}

func (c *Cache) Clear() {
	c.entries.Purge()
	c.persist()
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

// persisted is the stored layout: profiles plus their fetch times in ms.
type persisted struct {
	Data      map[string]*models.UserProfile `json:"data"`
	UpdatedAt map[string]int64               `json:"updatedAt"`
}

func (c *Cache) persist() {
	if c.writer == nil {
		return
	}
	snap := persisted{
		Data:      make(map[string]*models.UserProfile),
		UpdatedAt: make(map[string]int64),
	}
	for _, k := range c.entries.Keys() {
		v, ok := c.entries.Peek(k)
		if !ok {
			continue
		}
		uid := k.(string)
		e := v.(entry)
		snap.Data[uid] = e.profile
		snap.UpdatedAt[uid] = e.fetchedAt.UnixMilli()
	}
	c.writer.Put(kv.KeyProfileCache, snap)
}

// Load restores persisted entries that are still within the TTL, keeping
// their original fetch time. Failures leave the cache empty.
func (c *Cache) Load(ctx context.Context, store kv.Store) {
	var snap persisted
	found, err := kv.GetJSON(ctx, store, kv.KeyProfileCache, &snap)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.Warn().Err(err).Msg("persisted profile cache unreadable, starting empty")
		}
		return
	}
	if !found {
		return
	}
	now := c.now()
	for uid, p := range snap.Data {
		ms, ok := snap.UpdatedAt[uid]
		if !ok {
			continue
		}
		fetchedAt := time.UnixMilli(ms)
		if now.Sub(fetchedAt) > c.ttl {
			continue
		}
		c.entries.Add(uid, entry{profile: p, fetchedAt: fetchedAt})
	}
}
