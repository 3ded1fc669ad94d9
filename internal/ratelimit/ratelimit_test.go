package ratelimit

import (
	"testing"
	"time"
)

func TestSlidingWindowAdmitsUpToMax(t *testing.T) {
	sw := New(60, 3)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sw.now = func() time.Time { return fixed }

	for i := 0; i < 3; i++ {
		if !sw.IsAllowed() {
			t.Fatalf("expected admit %d to succeed", i)
		}
	}
	if sw.IsAllowed() {
		t.Fatal("expected 4th admit within window to be rejected")
	}
}

func TestSlidingWindowExpiresOldEntries(t *testing.T) {
	sw := New(60, 1)
	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sw.now = func() time.Time { return current }

	if !sw.IsAllowed() {
		t.Fatal("expected first admit to succeed")
	}
	if sw.IsAllowed() {
		t.Fatal("expected second admit within window to be rejected")
	}

	current = current.Add(61 * time.Second)
	if !sw.IsAllowed() {
		t.Fatal("expected admit after window expiry to succeed")
	}
}

func TestWaitTimeReflectsOldestEntry(t *testing.T) {
	sw := New(10, 1)
	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sw.now = func() time.Time { return current }
	sw.IsAllowed()

	current = current.Add(4 * time.Second)
	wait := sw.WaitTime()
	if wait != 6*time.Second {
		t.Fatalf("expected 6s wait, got %v", wait)
	}
}

func TestDefaultsOnNonPositiveConfig(t *testing.T) {
	sw := New(0, -1)
	if sw.window != defaultWindowSeconds*time.Second {
		t.Fatalf("expected default window, got %v", sw.window)
	}
	if sw.max != defaultMax {
		t.Fatalf("expected default max, got %d", sw.max)
	}
}
