package provider

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSpacingFirstCallImmediate(t *testing.T) {
	limiter := NewSpacing(time.Minute)

	start := time.Now()
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Fatalf("first wait should return immediately")
	}
}

func TestSpacingSequentialLowerBound(t *testing.T) {
	const spacing = 100 * time.Millisecond
	limiter := NewSpacing(spacing)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 4*spacing {
		t.Fatalf("5 calls took %v, want at least %v", elapsed, 4*spacing)
	}
}

func TestSpacingConcurrentCallersAreSerialized(t *testing.T) {
	const spacing = 30 * time.Millisecond
	limiter := NewSpacing(spacing)

	var mu sync.Mutex
	var stamps []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Wait(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	first, last := stamps[0], stamps[0]
	for _, s := range stamps {
		if s.Before(first) {
			first = s
		}
		if s.After(last) {
			last = s
		}
	}
	if last.Sub(first) < 3*spacing-10*time.Millisecond {
		t.Fatalf("concurrent callers not spaced: span %v", last.Sub(first))
	}
}

func TestSpacingHonorsContext(t *testing.T) {
	limiter := NewSpacing(time.Second)
	ctx := context.Background()
	_ = limiter.Wait(ctx)

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := limiter.Wait(timeoutCtx); err == nil {
		t.Fatal("expected context deadline error")
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatalf("wait should stop after context cancellation")
	}
}

func TestSpacingPenalize(t *testing.T) {
	limiter := NewSpacing(time.Millisecond)
	limiter.Penalize(40 * time.Millisecond)

	start := time.Now()
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 35*time.Millisecond {
		t.Fatalf("penalty not applied, waited %v", time.Since(start))
	}
}

func TestSpacingTryReserve(t *testing.T) {
	limiter := NewSpacing(time.Hour)

	if !limiter.TryReserve() {
		t.Fatal("first reservation should succeed")
	}
	if limiter.TryReserve() {
		t.Fatal("second reservation inside the interval should fail")
	}

	queued := NewSpacing(time.Hour)
	if err := queued.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if queued.TryReserve() {
		t.Fatal("reservation must not jump ahead of a taken slot")
	}

	penalized := NewSpacing(time.Millisecond)
	penalized.Penalize(time.Hour)
	if penalized.TryReserve() {
		t.Fatal("reservation must respect a rate-limit penalty")
	}
}
