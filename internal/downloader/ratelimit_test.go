package downloader

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRateLimiterSpacesAcquisitions(t *testing.T) {
	const interval = 50 * time.Millisecond
	l := NewRateLimiter(interval)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(times) != 4 {
		t.Fatalf("got %d acquisitions, want 4", len(times))
	}
	first, last := times[0], times[0]
	for _, ts := range times {
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	// four launches need three full intervals; allow scheduler slack below
	if span := last.Sub(first); span < 3*interval-10*time.Millisecond {
		t.Fatalf("acquisitions spread over %v, want at least %v", span, 3*interval)
	}
}

func TestRateLimiterHonorsContext(t *testing.T) {
	l := NewRateLimiter(time.Hour)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("Acquire() should fail when the wait exceeds the context")
	}
}

func TestRateLimiterZeroInterval(t *testing.T) {
	l := NewRateLimiter(0)
	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("zero interval should not pace")
	}
	if l.Interval() != 0 {
		t.Errorf("Interval() = %v", l.Interval())
	}
}

func TestGovernor(t *testing.T) {
	g := NewGovernor(2)

	if !g.TryAdmit() || !g.TryAdmit() {
		t.Fatal("first two admissions should succeed")
	}
	if g.TryAdmit() {
		t.Fatal("third admission should be rejected")
	}
	if g.Active() != 2 || g.Max() != 2 {
		t.Fatalf("Active() = %d, Max() = %d", g.Active(), g.Max())
	}

	g.Release()
	if g.Active() != 1 {
		t.Fatalf("Active() after release = %d, want 1", g.Active())
	}
	g.Release()
	g.Release()
	if g.Active() != 0 {
		t.Fatalf("extra Release() must not underflow, Active() = %d", g.Active())
	}
}
