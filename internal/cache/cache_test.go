package cache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestKey(t *testing.T) {
	a := Key("summary", "/repo", 3)
	b := Key("summary", "/repo", 3)
	c := Key("summary|/repo", 3)

	if a != b {
		t.Error("same parts produced different keys")
	}
	if len(a) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(a))
	}
	// Joining is textual, so these collide on purpose.
	if a != c {
		t.Error("expected identical joined strings to share a key")
	}
	if Key("a") == Key("b") {
		t.Error("different parts produced the same key")
	}
}

func TestGetPut(t *testing.T) {
	c := New[string](Options{Enabled: true, MaxBytes: 1 << 20})

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss on empty cache")
	}
	if !c.Put("value", "k", 1) {
		t.Fatal("Put returned false")
	}
	got, ok := c.Get("k", 1)
	if !ok || got != "value" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("hit rate = %v, want 0.5", stats.HitRate)
	}
	if stats.Size != EstimateSize("value") {
		t.Errorf("size = %d, want %d", stats.Size, EstimateSize("value"))
	}
}

func TestPutReplacesSameKey(t *testing.T) {
	c := New[string](Options{Enabled: true, MaxBytes: 1 << 20})

	c.Put("short", "k")
	c.Put(strings.Repeat("x", 100), "k")

	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	if got := c.Stats().Size; got != EstimateSize(strings.Repeat("x", 100)) {
		t.Errorf("size = %d, want only the replacement's size", got)
	}
}

func TestLRUEviction(t *testing.T) {
	value := strings.Repeat("a", 50)
	each := EstimateSize(value)
	c := New[string](Options{Enabled: true, MaxBytes: each * 3})

	c.Put(value, "one")
	c.Put(value, "two")
	c.Put(value, "three")

	// Touch "one" so "two" becomes least recently used.
	if _, ok := c.Get("one"); !ok {
		t.Fatal("expected hit for one")
	}
	c.Put(value, "four")

	if _, ok := c.Get("two"); ok {
		t.Error("expected two to be evicted")
	}
	for _, k := range []string{"one", "three", "four"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("expected %s to survive", k)
		}
	}
	if got := c.Stats().Size; got > each*3 {
		t.Errorf("size %d exceeds ceiling %d", got, each*3)
	}
}

func TestPutTooLarge(t *testing.T) {
	c := New[string](Options{Enabled: true, MaxBytes: 10})
	c.Put("tiny", "keep")

	if c.Put(strings.Repeat("z", 100), "big") {
		t.Error("Put accepted value larger than ceiling")
	}
	if _, ok := c.Get("keep"); !ok {
		t.Error("oversized Put evicted existing entries")
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New[string](Options{Enabled: true, MaxBytes: 1 << 20, TTL: time.Minute, Now: clock.Now})

	c.Put("v", "k")
	clock.Advance(30 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired too early")
	}

	clock.Advance(31 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
	stats := c.Stats()
	if stats.Entries != 0 || stats.Size != 0 {
		t.Errorf("expired entry not evicted: entries=%d size=%d", stats.Entries, stats.Size)
	}
	if stats.Misses != 1 {
		t.Errorf("misses = %d, want 1", stats.Misses)
	}
}

func TestDisabled(t *testing.T) {
	dir := t.TempDir()
	c := New[string](Options{Enabled: false, MaxBytes: 1 << 20, Dir: dir})

	if c.Put("v", "k") {
		t.Error("disabled cache accepted Put")
	}
	if _, ok := c.Get("k"); ok {
		t.Error("disabled cache returned a hit")
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, BlobName)); !os.IsNotExist(err) {
		t.Error("disabled cache wrote a blob")
	}
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()
	opts := Options{Enabled: true, MaxBytes: 1 << 20, TTL: time.Hour, Dir: dir, Now: clock.Now}

	c := New[string](opts)
	c.Put("fresh", "a")
	clock.Advance(50 * time.Minute)
	c.Put("newer", "b")
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	// "a" is 70 minutes old by now and must be discarded on load.
	clock.Advance(20 * time.Minute)
	reloaded := New[string](opts)

	if _, ok := reloaded.Get("a"); ok {
		t.Error("expired entry survived reload")
	}
	got, ok := reloaded.Get("b")
	if !ok || got != "newer" {
		t.Errorf("Get(b) = %q, %v", got, ok)
	}
}

func TestPersistEvery(t *testing.T) {
	dir := t.TempDir()
	c := New[int](Options{Enabled: true, MaxBytes: 1 << 20, Dir: dir, PersistEvery: 2})
	blob := filepath.Join(dir, BlobName)

	c.Put(1, "one")
	if _, err := os.Stat(blob); !os.IsNotExist(err) {
		t.Fatal("blob written before threshold")
	}
	c.Put(2, "two")
	if _, err := os.Stat(blob); err != nil {
		t.Fatalf("blob not written after threshold: %v", err)
	}
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	c := New[string](Options{Enabled: true, MaxBytes: 1 << 20, Dir: dir})
	c.Put("v", "k")
	c.Get("k")
	c.Close()

	c.Clear()

	stats := c.Stats()
	if stats.Entries != 0 || stats.Size != 0 || stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("stats after Clear = %+v", stats)
	}
	if _, err := os.Stat(filepath.Join(dir, BlobName)); !os.IsNotExist(err) {
		t.Error("blob survived Clear")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](Options{Enabled: true, MaxBytes: 4096})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Put(i, w, i%16)
				c.Get(w, (i+1)%16)
			}
		}(w)
	}
	wg.Wait()

	if got := c.Stats().Size; got > 4096 {
		t.Errorf("size %d exceeds ceiling", got)
	}
}
