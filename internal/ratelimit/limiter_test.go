package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestUnlimitedDoesNotBlock(t *testing.T) {
	l := Unlimited()
	start := time.Now()
	if err := l.Acquire(context.Background(), 10<<20); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("expected near-instant acquire, took %v", elapsed)
	}
}

func TestAcquireThrottlesOnceBucketDrained(t *testing.T) {
	l := New(100) // 100 bytes/sec, burst 100
	ctx := context.Background()

	// First acquire drains the initial full bucket instantly.
	if err := l.Acquire(ctx, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Second acquire must wait for refill; ~1s for 100 bytes at 100 B/s.
	start := time.Now()
	if err := l.Acquire(ctx, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("expected a throttled wait, only took %v", elapsed)
	}
}

func TestSetLimitUpdatesReportedLimit(t *testing.T) {
	l := New(10) // small bucket, burst 10
	ctx := context.Background()

	// Drain half the bucket.
	if err := l.Acquire(ctx, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Raising the limit must not top the bucket back up to the new
	// capacity -- only natural refill does that.
	l.SetLimit(1000)

	start := time.Now()
	if err := l.Acquire(ctx, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// This acquire is served from the 5 tokens left in the bucket, so its
	// timing says nothing about the token level; the assertion checks only
	// that Limit() reflects the new rate immediately.
	_ = start
	if l.Limit() != 1000 {
		t.Errorf("expected Limit()==1000 after SetLimit, got %d", l.Limit())
	}
}

func TestZeroOrNegativeLimitIsUnlimited(t *testing.T) {
	l := New(0)
	if l.Limit() != 0 {
		t.Errorf("expected Limit()==0 for unlimited, got %d", l.Limit())
	}
	l2 := New(500)
	l2.SetLimit(-1)
	if l2.Limit() != 0 {
		t.Errorf("expected Limit()==0 after SetLimit(-1), got %d", l2.Limit())
	}
}
