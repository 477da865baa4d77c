package gencache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSetRespectsCapacityCeilings(t *testing.T) {
	cache := New(Options{MaxEntries: 8, MaxBytes: 1000})
	defer cache.Dispose()

	rng := rand.New(rand.NewPCG(3, 9))
	for i := range 500 {
		key := fmt.Sprintf("fp-%d", rng.IntN(40))
		data := make([]byte, rng.IntN(400))
		if err := cache.Set(key, data); err != nil {
			t.Fatalf("Set #%d: %v", i, err)
		}
		if i%3 == 0 {
			cache.Get(fmt.Sprintf("fp-%d", rng.IntN(40)))
		}
		stats := cache.Stats()
		if stats.Entries > 8 {
			t.Fatalf("entry count %d exceeds ceiling", stats.Entries)
		}
		if stats.Bytes > 1000 {
			t.Fatalf("byte total %d exceeds ceiling", stats.Bytes)
		}
	}
}

func TestSetEvictsLeastRecentlyUsed(t *testing.T) {
	cache := New(Options{MaxEntries: 3, MaxBytes: 1 << 20})
	defer cache.Dispose()

	for _, key := range []string{"a", "b", "c"} {
		if err := cache.Set(key, []byte(key)); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("expected a to be cached")
	}
	if err := cache.Set("d", []byte("d")); err != nil {
		t.Fatalf("Set(d): %v", err)
	}

	if _, ok := cache.Get("a"); !ok {
		t.Fatal("recently used entry a was evicted")
	}
	if _, ok := cache.Get("b"); ok {
		t.Fatal("expected least recently used entry b to be evicted")
	}
	if got := cache.Stats().Evictions; got != 1 {
		t.Fatalf("evictions = %d, want 1", got)
	}
}

func TestSetEvictsForByteCeiling(t *testing.T) {
	cache := New(Options{MaxEntries: 10, MaxBytes: 10})
	defer cache.Dispose()

	_ = cache.Set("a", make([]byte, 4))
	_ = cache.Set("b", make([]byte, 4))
	_ = cache.Set("c", make([]byte, 4))

	stats := cache.Stats()
	if stats.Entries != 2 || stats.Bytes != 8 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if _, ok := cache.Get("a"); ok {
		t.Fatal("expected oldest entry to make room")
	}
}

func TestSetRejectsOversizedItem(t *testing.T) {
	cache := New(Options{MaxEntries: 2, MaxBytes: 4})
	defer cache.Dispose()

	if err := cache.Set("big", make([]byte, 5)); !errors.Is(err, ErrItemTooLarge) {
		t.Fatalf("expected ErrItemTooLarge, got %v", err)
	}
}

func TestGetHonoursTTL(t *testing.T) {
	clock := newFakeClock()
	cache := New(Options{MaxEntries: 4, MaxBytes: 1024, TTL: 10 * time.Second, Clock: clock.Now})
	defer cache.Dispose()

	if err := cache.Set("fp", []byte("audio")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	clock.Advance(10*time.Second - time.Millisecond)
	if _, ok := cache.Get("fp"); !ok {
		t.Fatal("entry should still be live just before TTL")
	}
	clock.Advance(2 * time.Millisecond)
	if _, ok := cache.Get("fp"); ok {
		t.Fatal("entry should expire just after TTL")
	}
	stats := cache.Stats()
	if stats.Entries != 0 || stats.Expirations != 1 {
		t.Fatalf("expected expired entry to be evicted, stats %+v", stats)
	}
}

func TestSweepRemovesColdEntries(t *testing.T) {
	clock := newFakeClock()
	cache := New(Options{MaxEntries: 4, MaxBytes: 1024, TTL: time.Minute, Clock: clock.Now})
	defer cache.Dispose()

	_ = cache.Set("old", []byte("1"))
	clock.Advance(45 * time.Second)
	_ = cache.Set("new", []byte("2"))
	clock.Advance(30 * time.Second)

	if n := cache.Sweep(); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if _, ok := cache.Get("new"); !ok {
		t.Fatal("fresh entry should survive sweep")
	}
}

func TestBackgroundSweepStopsOnDispose(t *testing.T) {
	clock := newFakeClock()
	cache := New(Options{
		MaxEntries:    4,
		MaxBytes:      1024,
		TTL:           time.Second,
		SweepInterval: 5 * time.Millisecond,
		Clock:         clock.Now,
	})

	_ = cache.Set("fp", []byte("x"))
	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for cache.Stats().Entries != 0 {
		if time.Now().After(deadline) {
			t.Fatal("background sweep never removed expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cache.Dispose()
	cache.Dispose()
}

func TestGetAndSetCopyBuffers(t *testing.T) {
	cache := New(Options{})
	defer cache.Dispose()

	input := []byte("original")
	_ = cache.Set("fp", input)
	input[0] = 'X'

	first, _ := cache.Get("fp")
	first[1] = 'Y'

	second, ok := cache.Get("fp")
	if !ok || string(second) != "original" {
		t.Fatalf("cached bytes were mutated: %q", second)
	}
}

func TestStatsHitRateAndClear(t *testing.T) {
	cache := New(Options{})
	defer cache.Dispose()

	_ = cache.Set("fp", []byte("a"))
	cache.Get("fp")
	cache.Get("fp")
	cache.Get("fp")
	cache.Get("missing")

	stats := cache.Stats()
	if stats.Hits != 3 || stats.Misses != 1 || stats.HitRate != 0.75 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	cache.Clear()
	stats = cache.Stats()
	if stats.Entries != 0 || stats.Bytes != 0 || stats.Hits != 0 || stats.HitRate != 0 {
		t.Fatalf("expected reset stats, got %+v", stats)
	}
}

func TestDoCoalescesConcurrentMisses(t *testing.T) {
	cache := New(Options{})
	defer cache.Dispose()

	var calls atomic.Int32
	release := make(chan struct{})
	generate := func(context.Context) (Clip, error) {
		calls.Add(1)
		<-release
		return Clip{Audio: []byte("speech"), Duration: 3 * time.Second}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Clip, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Go(func() {
			results[i], _, errs[i] = cache.Do(context.Background(), "fp", generate)
		})
	}

	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("generate called %d times, want 1", got)
	}
	for i := range callers {
		if errs[i] != nil || !bytes.Equal(results[i].Audio, []byte("speech")) || results[i].Duration != 3*time.Second {
			t.Fatalf("caller %d got %+v, %v", i, results[i], errs[i])
		}
	}

	clip, source, err := cache.Do(context.Background(), "fp", generate)
	if err != nil || source != SourceCache || string(clip.Audio) != "speech" {
		t.Fatalf("expected cache hit, got %q %v %v", clip.Audio, source, err)
	}
	if clip.Duration != 3*time.Second {
		t.Fatalf("cached duration = %v, want 3s", clip.Duration)
	}
}

func TestDoDoesNotCacheFailures(t *testing.T) {
	cache := New(Options{})
	defer cache.Dispose()

	boom := errors.New("provider down")
	_, _, err := cache.Do(context.Background(), "fp", func(context.Context) (Clip, error) {
		return Clip{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if cache.Stats().Entries != 0 {
		t.Fatal("failed generation must not be cached")
	}
}

func TestDoReturnsWhenCallerCancels(t *testing.T) {
	cache := New(Options{})
	defer cache.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := cache.Do(ctx, "fp", func(context.Context) (Clip, error) {
			close(started)
			<-release
			return Clip{Audio: []byte("late")}, nil
		})
		errCh <- err
	}()

	<-started
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSetStoresNoDuration(t *testing.T) {
	cache := New(Options{})
	defer cache.Dispose()

	if err := cache.Set("fp", []byte("plain")); err != nil {
		t.Fatalf("set: %v", err)
	}
	clip, source, err := cache.Do(context.Background(), "fp", func(context.Context) (Clip, error) {
		t.Fatal("generate must not run on a hit")
		return Clip{}, nil
	})
	if err != nil || source != SourceCache || string(clip.Audio) != "plain" || clip.Duration != 0 {
		t.Fatalf("got %+v %v %v", clip, source, err)
	}
}
