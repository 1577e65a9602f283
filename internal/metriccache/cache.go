// Package metriccache memoizes per-file risk vectors by content address.
//
// A key binds the file content hash to the metric-set version and the engine
// version, so an entry can never be read back under different extraction
// rules. The cache is a latency optimization only: every failure inside it is
// logged and counted, then treated as a miss.
package metriccache

import (
	"container/list"
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"qgate/internal/errors"
	"qgate/internal/risk"
	"qgate/internal/slogutil"
	"qgate/internal/telemetry"
)

// DefaultCapacity is the in-memory entry limit used when none is given.
const DefaultCapacity = 10000

// Key addresses one cached risk vector.
type Key struct {
	ContentHash      string
	MetricSetVersion string
	EngineVersion    string
}

// String returns the canonical {content_hash}_{metric_set_version}_{engine_version} form.
func (k Key) String() string {
	return k.ContentHash + "_" + k.MetricSetVersion + "_" + k.EngineVersion
}

// HashContent returns the hex blake2b-256 digest of a file's content.
func HashContent(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PersistentStore is an optional second tier behind the in-memory LRU.
// storage.MetricStore satisfies it.
type PersistentStore interface {
	Load(key Key) ([]byte, bool, error)
	Save(key Key, value []byte) error
	DeleteStale(metricSetVersion, engineVersion string) (int64, error)
	Clear() error
	Close() error
}

// Source tells where a value returned by GetOrCompute came from.
type Source string

const (
	SourceMemory     Source = "memory"
	SourcePersistent Source = "persistent"
	SourceComputed   Source = "computed"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries        int   `json:"entries"`
	Capacity       int   `json:"capacity"`
	MemoryHits     int64 `json:"memoryHits"`
	PersistentHits int64 `json:"persistentHits"`
	Misses         int64 `json:"misses"`
	Computes       int64 `json:"computes"`
	Evictions      int64 `json:"evictions"`
	Errors         int64 `json:"errors"`
}

// HitRate returns hits over lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	lookups := s.MemoryHits + s.PersistentHits + s.Misses
	if lookups == 0 {
		return 0
	}
	return float64(s.MemoryHits+s.PersistentHits) / float64(lookups)
}

type entry struct {
	key   Key
	value risk.Vector
}

// Cache is a bounded LRU of risk vectors with compute-once claims.
type Cache struct {
	capacity int
	store    PersistentStore
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	stats Stats

	group singleflight.Group
}

// Options configure a Cache. Zero values are valid.
type Options struct {
	Capacity int
	Store    PersistentStore
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

// New creates a cache.
func New(opts Options) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slogutil.NewDiscardLogger()
	}
	return &Cache{
		capacity: opts.Capacity,
		store:    opts.Store,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the vector stored under key, consulting the persistent tier on
// a memory miss.
func (c *Cache) Get(key Key) (risk.Vector, bool) {
	v, src, ok := c.lookup(key)
	if ok {
		c.metrics.CacheHit(string(src))
	} else {
		c.metrics.CacheMiss()
	}
	return v, ok
}

func (c *Cache) lookup(key Key) (risk.Vector, Source, bool) {
	k := key.String()

	c.mu.Lock()
	if el, ok := c.items[k]; ok {
		c.ll.MoveToFront(el)
		c.stats.MemoryHits++
		v := el.Value.(*entry).value
		c.mu.Unlock()
		return v, SourceMemory, true
	}
	c.mu.Unlock()

	if v, ok := c.loadPersistent(key); ok {
		c.mu.Lock()
		c.stats.PersistentHits++
		c.insertLocked(key, v)
		c.mu.Unlock()
		return v, SourcePersistent, true
	}

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	return risk.Vector{}, "", false
}

func (c *Cache) loadPersistent(key Key) (risk.Vector, bool) {
	if c.store == nil {
		return risk.Vector{}, false
	}
	data, ok, err := c.store.Load(key)
	if err != nil {
		c.fail("load", key, err)
		return risk.Vector{}, false
	}
	if !ok {
		return risk.Vector{}, false
	}
	var v risk.Vector
	if err := json.Unmarshal(data, &v); err != nil {
		c.fail("decode", key, err)
		return risk.Vector{}, false
	}
	if err := v.Validate(); err != nil {
		c.fail("decode", key, err)
		return risk.Vector{}, false
	}
	return v, true
}

// Put stores v under key in memory and, if configured, in the persistent tier.
// Entries are immutable: a second Put for the same key keeps the first value.
func (c *Cache) Put(key Key, v risk.Vector) {
	c.mu.Lock()
	_, exists := c.items[key.String()]
	if !exists {
		c.insertLocked(key, v)
	}
	c.mu.Unlock()

	if exists || c.store == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.fail("encode", key, err)
		return
	}
	if err := c.store.Save(key, data); err != nil {
		c.fail("save", key, err)
	}
}

func (c *Cache) insertLocked(key Key, v risk.Vector) {
	k := key.String()
	if el, ok := c.items[k]; ok {
		c.ll.MoveToFront(el)
		return
	}
	c.items[k] = c.ll.PushFront(&entry{key: key, value: v})

	evicted := 0
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key.String())
		evicted++
	}
	c.stats.Evictions += int64(evicted)
	c.metrics.CacheEvicted(evicted)
	c.metrics.CacheSize(c.ll.Len())
}

// ComputeFunc produces the vector for a key on a miss.
type ComputeFunc func(ctx context.Context) (risk.Vector, error)

// GetOrCompute returns the cached vector for key, or runs compute exactly once
// across concurrent callers for the same key and caches its result. Compute
// errors are returned and never cached.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) (risk.Vector, Source, error) {
	if v, src, ok := c.lookup(key); ok {
		c.metrics.CacheHit(string(src))
		return v, src, nil
	}
	c.metrics.CacheMiss()

	res, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		// another claim may have finished between our miss and this call
		c.mu.Lock()
		if el, ok := c.items[key.String()]; ok {
			v := el.Value.(*entry).value
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return nil, errors.New(errors.Cancelled, "metric computation cancelled", err)
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := v.Validate(); err != nil {
			return nil, errors.New(errors.ProviderError, "provider returned an invalid risk vector", err)
		}

		c.mu.Lock()
		c.stats.Computes++
		c.mu.Unlock()
		c.Put(key, v)
		return v, nil
	})
	if err != nil {
		return risk.Vector{}, "", err
	}
	return res.(risk.Vector), SourceComputed, nil
}

// Invalidate drops every entry not produced under metricSetVersion and
// engineVersion, in memory and in the persistent tier. It returns the number
// of in-memory entries removed.
func (c *Cache) Invalidate(metricSetVersion, engineVersion string) int {
	c.mu.Lock()
	removed := 0
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		key := el.Value.(*entry).key
		if key.MetricSetVersion != metricSetVersion || key.EngineVersion != engineVersion {
			c.ll.Remove(el)
			delete(c.items, key.String())
			removed++
		}
		el = next
	}
	c.metrics.CacheSize(c.ll.Len())
	c.mu.Unlock()

	if c.store != nil {
		n, err := c.store.DeleteStale(metricSetVersion, engineVersion)
		if err != nil {
			c.fail("invalidate", Key{MetricSetVersion: metricSetVersion, EngineVersion: engineVersion}, err)
		} else if n > 0 {
			c.logger.Info("pruned stale cache entries", "count", n, "metric_set_version", metricSetVersion)
		}
	}
	return removed
}

// Purge removes every entry from both tiers.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.metrics.CacheSize(0)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Clear(); err != nil {
			c.fail("purge", Key{}, err)
		}
	}
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.ll.Len()
	s.Capacity = c.capacity
	return s
}

// Close closes the persistent tier.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// fail records a cache error. It never propagates.
func (c *Cache) fail(op string, key Key, err error) {
	c.mu.Lock()
	c.stats.Errors++
	c.mu.Unlock()
	c.metrics.CacheError(op)
	c.logger.Warn("metric cache error, treating as miss",
		"op", op,
		"key", key.String(),
		"code", errors.CacheError,
		"error", err,
	)
}
