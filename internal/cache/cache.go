// Package cache provides a size- and TTL-bounded LRU cache for expensive
// derived context (codebase summaries, assembled prompts). Contents can be
// persisted to a single msgpack blob so they survive between runs.
package cache

import (
	"container/list"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/francisykl/qoder-cli-orchestrator/internal/fsutil"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"
)

// BlobName is the file name of the persisted cache inside the cache directory.
const BlobName = "context_cache.msgpack"

// defaultEntrySize is charged for values that cannot be encoded.
const defaultEntrySize = 1024

// Options configures a Cache.
type Options struct {
	Enabled      bool
	MaxBytes     int64            // Byte ceiling for all entries
	TTL          time.Duration    // Entry lifetime measured from insertion; zero disables expiry
	Dir          string           // Directory holding the blob; empty disables persistence
	PersistEvery int              // Persist after this many insertions (default 10)
	Now          func() time.Time // Clock override for tests
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Enabled  bool
	Entries  int
	Size     int64
	MaxSize  int64
	Hits     uint64
	Misses   uint64
	HitRate  float64
	TTL      time.Duration
	BlobPath string
}

// Entry is one cached value.
type Entry[V any] struct {
	Key       string    `msgpack:"key"`
	Value     V         `msgpack:"value"`
	CreatedAt time.Time `msgpack:"created_at"`
	Size      int64     `msgpack:"size"`
}

// Cache is an LRU cache keyed by a fingerprint of the lookup parts. All
// methods are safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	opts    Options
	items   map[string]*list.Element // key -> element holding *Entry[V]
	order   *list.List               // front = least recently used
	size    int64
	hits    uint64
	misses  uint64
	inserts int
}

// New creates a cache and loads any persisted blob from opts.Dir. Load
// failures are logged and leave the cache empty.
func New[V any](opts Options) *Cache[V] {
	if opts.PersistEvery <= 0 {
		opts.PersistEvery = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Cache[V]{
		opts:  opts,
		items: make(map[string]*list.Element),
		order: list.New(),
	}
	if opts.Enabled && opts.Dir != "" {
		c.load()
	}
	return c
}

// Key fingerprints parts: blake3 over their string forms joined with "|".
func Key(parts ...any) string {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = fmt.Sprint(p)
	}
	sum := blake3.Sum256([]byte(strings.Join(strs, "|")))
	return hex.EncodeToString(sum[:])
}

// EstimateSize returns the length of the msgpack encoding of v, or a fixed
// default when v cannot be encoded.
func EstimateSize(v any) int64 {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return defaultEntrySize
	}
	return int64(len(b))
}

// Get returns the value cached for parts. Expired entries are evicted and
// count as a miss.
func (c *Cache[V]) Get(parts ...any) (V, bool) {
	var zero V
	if !c.opts.Enabled {
		return zero, false
	}
	key := Key(parts...)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := el.Value.(*Entry[V])
	if c.expired(e) {
		c.remove(el)
		c.misses++
		return zero, false
	}
	c.order.MoveToBack(el)
	c.hits++
	return e.Value, true
}

// Put stores value under parts. It returns false when the cache is disabled
// or the value alone exceeds the byte ceiling.
func (c *Cache[V]) Put(value V, parts ...any) bool {
	if !c.opts.Enabled {
		return false
	}
	key := Key(parts...)
	size := EstimateSize(value)
	if size > c.opts.MaxBytes {
		log.Printf("WARNING: value too large for cache: %d bytes", size)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
	for c.size+size > c.opts.MaxBytes && c.order.Len() > 0 {
		c.remove(c.order.Front())
	}

	e := &Entry[V]{Key: key, Value: value, CreatedAt: c.opts.Now(), Size: size}
	c.items[key] = c.order.PushBack(e)
	c.size += size

	c.inserts++
	if c.inserts%c.opts.PersistEvery == 0 {
		c.saveLocked()
	}
	return true
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Enabled:  c.opts.Enabled,
		Entries:  c.order.Len(),
		Size:     c.size,
		MaxSize:  c.opts.MaxBytes,
		Hits:     c.hits,
		Misses:   c.misses,
		HitRate:  rate,
		TTL:      c.opts.TTL,
		BlobPath: c.blobPath(),
	}
}

// Clear drops every entry, resets the counters and removes the blob.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.size = 0
	c.hits = 0
	c.misses = 0
	c.inserts = 0

	if path := c.blobPath(); path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("WARNING: failed to remove cache blob: %v", err)
		}
	}
	log.Printf("INFO: cache cleared")
}

// Close persists the cache.
func (c *Cache[V]) Close() error {
	if !c.opts.Enabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveLocked()
	return nil
}

func (c *Cache[V]) expired(e *Entry[V]) bool {
	return c.opts.TTL > 0 && c.opts.Now().Sub(e.CreatedAt) > c.opts.TTL
}

func (c *Cache[V]) remove(el *list.Element) {
	e := c.order.Remove(el).(*Entry[V])
	delete(c.items, e.Key)
	c.size -= e.Size
}

func (c *Cache[V]) blobPath() string {
	if c.opts.Dir == "" {
		return ""
	}
	return filepath.Join(c.opts.Dir, BlobName)
}

// saveLocked writes entries LRU-first. Caller holds c.mu.
func (c *Cache[V]) saveLocked() {
	path := c.blobPath()
	if path == "" {
		return
	}
	entries := make([]*Entry[V], 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value.(*Entry[V]))
	}
	data, err := msgpack.Marshal(entries)
	if err != nil {
		log.Printf("WARNING: failed to encode cache: %v", err)
		return
	}
	if err := fsutil.LockAndWrite(path, data); err != nil {
		log.Printf("WARNING: failed to save cache to disk: %v", err)
	}
}

func (c *Cache[V]) load() {
	data, err := fsutil.LockAndRead(c.blobPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("WARNING: failed to load cache from disk: %v", err)
		}
		return
	}

	var entries []*Entry[V]
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		log.Printf("WARNING: failed to decode cache blob: %v", err)
		return
	}

	for _, e := range entries {
		if e == nil || c.expired(e) {
			continue
		}
		if c.size+e.Size > c.opts.MaxBytes {
			continue
		}
		if old, ok := c.items[e.Key]; ok {
			c.remove(old)
		}
		c.items[e.Key] = c.order.PushBack(e)
		c.size += e.Size
	}
	log.Printf("INFO: loaded %d entries from cache", c.order.Len())
}
