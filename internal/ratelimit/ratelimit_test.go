package ratelimit

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestBurstThenDeny(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(clock, 3, 3*time.Second)

	for i := 0; i < 3; i++ {
		if !l.Allow("conn:vote") {
			t.Fatalf("call %d within burst capacity was denied", i+1)
		}
	}
	if l.Allow("conn:vote") {
		t.Fatal("call over burst capacity was allowed")
	}
}

func TestRefillAfterWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(clock, 3, 3*time.Second)

	for i := 0; i < 3; i++ {
		l.Allow("key")
	}
	if l.Allow("key") {
		t.Fatal("bucket should be empty")
	}

	clock.Advance(3 * time.Second)
	if !l.Allow("key") {
		t.Fatal("a full window must refill at least one token")
	}
}

func TestPartialRefill(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(clock, 3, 3*time.Second)

	for i := 0; i < 3; i++ {
		l.Allow("key")
	}

	// One second refills exactly one token at 3 tokens per 3s.
	clock.Advance(time.Second)
	if !l.Allow("key") {
		t.Fatal("expected one token after partial refill")
	}
	if l.Allow("key") {
		t.Fatal("expected only one token after partial refill")
	}
}

func TestRefillCapsAtCapacity(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(clock, 2, time.Second)

	if !l.Allow("key") {
		t.Fatal("fresh bucket should allow")
	}
	clock.Advance(time.Hour)

	allowed := 0
	for i := 0; i < 5; i++ {
		if l.Allow("key") {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("expected refill capped at capacity 2, got %d", allowed)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(clock, 1, time.Second)

	if !l.Allow("conn-1:throw") {
		t.Fatal("first key should allow")
	}
	if l.Allow("conn-1:throw") {
		t.Fatal("first key should be exhausted")
	}
	if !l.Allow("conn-2:throw") {
		t.Fatal("second key must have its own bucket")
	}
}
