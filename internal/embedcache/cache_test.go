package embedcache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestCache(t *testing.T, capacity int) *Cache {
	t.Helper()
	cache, err := Open(t.TempDir()+"/cache.db", capacity)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = cache.Close()
	})
	return cache
}

func TestCache_GetMiss(t *testing.T) {
	cache := newTestCache(t, 0)

	vector, ok, err := cache.Get(context.Background(), "absent", "model-a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() reported a hit for an absent key")
	}
	if vector != nil {
		t.Error("Get() returned a vector for an absent key")
	}
}

func TestCache_PutGetRoundtrip(t *testing.T) {
	cache := newTestCache(t, 0)
	ctx := context.Background()

	want := []float32{0.1, -0.5, 2.25, 0}
	if err := cache.Put(ctx, "hash-1", "model-a", want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := cache.Get(ctx, "hash-1", "model-a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() missed a stored entry")
	}
	if len(got) != len(want) {
		t.Fatalf("vector length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vector[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCache_KeyedByModel(t *testing.T) {
	cache := newTestCache(t, 0)
	ctx := context.Background()

	if err := cache.Put(ctx, "hash-1", "model-a", []float32{1, 2}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// A different model's vectors live in an incompatible space.
	_, ok, err := cache.Get(ctx, "hash-1", "model-b")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() returned a vector computed by a different model")
	}
}

func TestCache_DuplicatePutIgnored(t *testing.T) {
	cache := newTestCache(t, 0)
	ctx := context.Background()

	if err := cache.Put(ctx, "hash-1", "model-a", []float32{1, 2}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := cache.Put(ctx, "hash-1", "model-a", []float32{9, 9}); err != nil {
		t.Fatalf("Put() duplicate error = %v", err)
	}

	got, ok, err := cache.Get(ctx, "hash-1", "model-a")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got[0] != 1 {
		t.Error("duplicate Put overwrote an immutable entry")
	}

	n, err := cache.Len(ctx)
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := newTestCache(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cache.Put(ctx, fmt.Sprintf("hash-%d", i), "model-a", []float32{float32(i)}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		// SQLite datetime resolution is coarse enough that same-instant
		// writes would make LRU order ambiguous.
		time.Sleep(5 * time.Millisecond)
	}

	// Touch hash-0 so hash-1 becomes the oldest entry.
	if _, _, err := cache.Get(ctx, "hash-0", "model-a"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if err := cache.Put(ctx, "hash-3", "model-a", []float32{3}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	n, err := cache.Len(ctx)
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("Len() = %d, want 3", n)
	}

	_, ok, err := cache.Get(ctx, "hash-1", "model-a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("least recently used entry survived eviction")
	}
	for _, hash := range []string{"hash-0", "hash-2", "hash-3"} {
		_, ok, err := cache.Get(ctx, hash, "model-a")
		if err != nil {
			t.Fatalf("Get(%s) error = %v", hash, err)
		}
		if !ok {
			t.Errorf("recently used entry %s was evicted", hash)
		}
	}
}

func TestCache_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/cache.db"
	ctx := context.Background()

	cache, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := cache.Put(ctx, "hash-1", "model-a", []float32{1, 2, 3}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path, 0)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer func() {
		_ = reopened.Close()
	}()

	_, ok, err := reopened.Get(ctx, "hash-1", "model-a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Error("entry did not survive reopen")
	}
}
