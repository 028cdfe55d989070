package fetch

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLimiterSpacesProviderRequests(t *testing.T) {
	limiter := NewLimiter(50*time.Millisecond, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.Wait(ctx, "https://ici.radio-canada.ca/ohdio/livres-audio"); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 100*time.Millisecond {
		t.Fatalf("three provider requests completed in %v, expected at least 100ms of spacing", elapsed)
	}
}

func TestLimiterDefaultClassUnthrottledWhenZero(t *testing.T) {
	limiter := NewLimiter(time.Hour, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := limiter.Wait(ctx, "https://example.com/page"); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("default-class requests should not block when interval is zero")
	}
}

func TestLimiterHostsIsolated(t *testing.T) {
	limiter := NewLimiter(0, 50*time.Millisecond)
	ctx := context.Background()

	// First request to each host should pass immediately.
	start := time.Now()
	if err := limiter.Wait(ctx, "https://a.example.com/x"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := limiter.Wait(ctx, "https://b.example.com/x"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > 40*time.Millisecond {
		t.Fatal("distinct hosts should not queue behind each other")
	}
}

func TestLimiterConcurrentCallersSerialized(t *testing.T) {
	limiter := NewLimiter(0, 20*time.Millisecond)
	ctx := context.Background()

	const callers = 4
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = limiter.Wait(ctx, "https://shared.example.com/x")
		}()
	}
	wg.Wait()

	// Four callers against a 20ms interval cannot all proceed immediately.
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("concurrent callers were not spaced out")
	}
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	limiter := NewLimiter(0, time.Hour)
	ctx := context.Background()
	_ = limiter.Wait(ctx, "https://slow.example.com/x")

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(cancelCtx, "https://slow.example.com/x"); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestLimiterIgnoresUnparseableURL(t *testing.T) {
	limiter := NewLimiter(time.Hour, time.Hour)
	if err := limiter.Wait(context.Background(), "::::"); err != nil {
		t.Fatalf("unparseable URL should pass through, got %v", err)
	}
}
