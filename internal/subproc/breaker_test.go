package subproc

import (
	"testing"
	"time"
)

func TestBreakerBudgetExhaustion(t *testing.T) {
	b := NewRestartBreaker(3, time.Minute)

	for i := 1; i <= 3; i++ {
		if !b.Allow() {
			t.Fatalf("attempt %d denied within budget", i)
		}
	}
	// The fourth failure inside the window must not earn a restart.
	if b.Allow() {
		t.Fatal("fourth attempt allowed")
	}
	if !b.Tripped() {
		t.Error("breaker not tripped after spent budget")
	}
}

func TestBreakerWindowSlides(t *testing.T) {
	b := NewRestartBreaker(3, time.Minute)
	current := time.Unix(1000, 0)
	b.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("attempt %d denied", i+1)
		}
	}
	if b.Allow() {
		t.Fatal("allowed over budget")
	}

	// Once the early attempts age out, the budget comes back.
	current = current.Add(2 * time.Minute)
	if !b.Allow() {
		t.Error("denied after attempts aged out of the window")
	}
	if b.Tripped() {
		t.Error("still tripped after window slid")
	}
}

func TestBreakerReset(t *testing.T) {
	b := NewRestartBreaker(1, time.Minute)
	if !b.Allow() {
		t.Fatal("first attempt denied")
	}
	if b.Allow() {
		t.Fatal("second attempt allowed")
	}
	b.Reset()
	if !b.Allow() {
		t.Error("denied after reset")
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := NewRestartBreaker(0, 0)
	if b.maxRestarts != DefaultMaxRestarts || b.window != DefaultRestartWindow {
		t.Errorf("defaults = %d/%s", b.maxRestarts, b.window)
	}
}
