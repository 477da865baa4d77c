package gencache

import (
	"bytes"
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"narrator/internal/logging"
)

// ErrItemTooLarge is returned when a single item exceeds the byte ceiling.
var ErrItemTooLarge = errors.New("item too large for cache")

// Options configures a Cache.
type Options struct {
	MaxEntries int
	MaxBytes   int64
	// TTL of zero disables expiry.
	TTL time.Duration
	// SweepInterval of zero disables the background sweep.
	SweepInterval time.Duration
	Clock         func() time.Time
	Logger        *slog.Logger
}

// Stats is a point-in-time view of cache usage since the last Clear.
type Stats struct {
	Entries     int
	Bytes       int64
	MaxEntries  int
	MaxBytes    int64
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
	HitRate     float64
}

// Clip is generated audio plus the duration the provider reported for it.
// A zero Duration means none was reported.
type Clip struct {
	Audio    []byte
	Duration time.Duration
}

type entry struct {
	fingerprint    string
	audio          []byte
	duration       time.Duration
	size           int64
	createdAt      time.Time
	lastAccessedAt time.Time
	accessCount    int64
}

// Cache is an LRU cache of generated audio keyed by fingerprint. It is safe
// for concurrent use.
type Cache struct {
	maxEntries int
	maxBytes   int64
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	size    int64
	hits    int64
	misses  int64
	evicted int64
	expired int64

	group singleflight.Group

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a Cache and starts its sweep goroutine when configured.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 256
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 512 << 20
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	c := &Cache{
		maxEntries: opts.MaxEntries,
		maxBytes:   opts.MaxBytes,
		ttl:        opts.TTL,
		now:        opts.Clock,
		logger:     opts.Logger,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if opts.SweepInterval > 0 && opts.TTL > 0 {
		go c.sweepLoop(opts.SweepInterval)
	} else {
		close(c.done)
	}
	return c
}

// Get returns a copy of the cached audio. Expired entries are evicted and
// reported as absent.
func (c *Cache) Get(fingerprint string) ([]byte, bool) {
	clip, ok := c.getClip(fingerprint)
	return clip.Audio, ok
}

func (c *Cache) getClip(fingerprint string) (Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.lookupLocked(fingerprint)
	if !ok {
		c.misses++
		return Clip{}, false
	}
	ent.lastAccessedAt = c.now()
	ent.accessCount++
	c.hits++
	return Clip{Audio: bytes.Clone(ent.audio), Duration: ent.duration}, true
}

// Set stores a copy of data, evicting least recently used entries until both
// ceilings hold.
func (c *Cache) Set(fingerprint string, data []byte) error {
	return c.store(fingerprint, Clip{Audio: data})
}

func (c *Cache) store(fingerprint string, clip Clip) error {
	size := int64(len(clip.Audio))
	if size > c.maxBytes {
		return ErrItemTooLarge
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fingerprint]; ok {
		c.removeElementLocked(elem)
	}
	for c.order.Len() > 0 && (c.order.Len() >= c.maxEntries || c.size+size > c.maxBytes) {
		c.removeElementLocked(c.order.Back())
		c.evicted++
	}

	now := c.now()
	ent := &entry{
		fingerprint:    fingerprint,
		audio:          bytes.Clone(clip.Audio),
		duration:       clip.Duration,
		size:           size,
		createdAt:      now,
		lastAccessedAt: now,
	}
	c.items[fingerprint] = c.order.PushFront(ent)
	c.size += size
	return nil
}

// Source describes how Do obtained its result.
type Source int

const (
	// SourceGenerated means this caller ran the generator.
	SourceGenerated Source = iota
	// SourceCache means the result was already cached.
	SourceCache
	// SourceShared means the result came from a concurrent caller's generation.
	SourceShared
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceShared:
		return "shared"
	default:
		return "generated"
	}
}

// Do returns the cached clip for fingerprint or runs generate, storing its
// result. Concurrent callers missing on the same fingerprint share a single
// generate call. generate runs detached from the caller's cancellation so a
// caller giving up does not fail the others; the caller itself returns early
// with ctx.Err().
func (c *Cache) Do(ctx context.Context, fingerprint string, generate func(context.Context) (Clip, error)) (Clip, Source, error) {
	if clip, ok := c.getClip(fingerprint); ok {
		return clip, SourceCache, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fingerprint, func() (any, error) {
		c.mu.Lock()
		ent, ok := c.lookupLocked(fingerprint)
		var cached Clip
		if ok {
			cached = Clip{Audio: bytes.Clone(ent.audio), Duration: ent.duration}
		}
		c.mu.Unlock()
		if ok {
			return cached, nil
		}

		clip, err := generate(detached)
		if err != nil {
			return nil, err
		}
		if err := c.store(fingerprint, clip); err != nil {
			c.logger.Debug("generated audio not cached",
				logging.String("fingerprint", fingerprint),
				logging.Int64("size_bytes", int64(len(clip.Audio))),
				logging.Error(err),
			)
		}
		return clip, nil
	})

	select {
	case <-ctx.Done():
		return Clip{}, SourceGenerated, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Clip{}, SourceGenerated, res.Err
		}
		source := SourceGenerated
		if res.Shared {
			source = SourceShared
		}
		clip := res.Val.(Clip)
		return Clip{Audio: bytes.Clone(clip.Audio), Duration: clip.Duration}, source, nil
	}
}

// Stats reports current usage.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Entries:     c.order.Len(),
		Bytes:       c.size,
		MaxEntries:  c.maxEntries,
		MaxBytes:    c.maxBytes,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evicted,
		Expirations: c.expired,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Clear drops every entry and resets counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.size = 0
	c.hits, c.misses, c.evicted, c.expired = 0, 0, 0, 0
}

// Dispose stops the sweep goroutine and clears the cache. It is safe to call
// more than once.
func (c *Cache) Dispose() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	c.Clear()
}

// Sweep evicts every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expiredLocked(elem.Value.(*entry), now) {
			c.removeElementLocked(elem)
			c.expired++
			removed++
		}
		elem = prev
	}
	return removed
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("expired generation cache entries",
					logging.Int("removed", n),
				)
			}
		}
	}
}

// lookupLocked finds a live entry, evicting it if expired. It promotes the
// entry to most recently used.
func (c *Cache) lookupLocked(fingerprint string) (*entry, bool) {
	elem, ok := c.items[fingerprint]
	if !ok {
		return nil, false
	}
	ent := elem.Value.(*entry)
	if c.expiredLocked(ent, c.now()) {
		c.removeElementLocked(elem)
		c.expired++
		return nil, false
	}
	c.order.MoveToFront(elem)
	return ent, true
}

func (c *Cache) expiredLocked(ent *entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(ent.createdAt) > c.ttl
}

func (c *Cache) removeElementLocked(elem *list.Element) {
	ent := c.order.Remove(elem).(*entry)
	delete(c.items, ent.fingerprint)
	c.size -= ent.size
}
