package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelayDoublesUpToCap(t *testing.T) {
	p := Policy{Min: 5 * time.Second, Max: 60 * time.Second, Multiplier: 2}

	expected := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, exp := range expected {
		if got := p.Delay(i); got != exp {
			t.Errorf("attempt %d: expected %v, got %v", i, exp, got)
		}
	}
}

func TestDelayNonDecreasing(t *testing.T) {
	p := Policy{Min: 250 * time.Millisecond, Max: 7 * time.Second, Multiplier: 1.7}

	prev := time.Duration(0)
	for i := 0; i < 100; i++ {
		d := p.Delay(i)
		if d < prev {
			t.Fatalf("attempt %d: delay %v decreased from %v", i, d, prev)
		}
		if d > p.Max {
			t.Fatalf("attempt %d: delay %v exceeds cap %v", i, d, p.Max)
		}
		prev = d
	}
	if prev != p.Max {
		t.Errorf("expected schedule to reach cap %v, got %v", p.Max, prev)
	}
}

func TestDelayHugeAttemptStaysAtCap(t *testing.T) {
	p := Policy{Min: time.Second, Max: time.Minute, Multiplier: 2}
	if got := p.Delay(5000); got != time.Minute {
		t.Errorf("expected cap, got %v", got)
	}
}

func TestDelayMultiplierBelowOneIsConstant(t *testing.T) {
	p := Policy{Min: time.Second, Max: time.Minute, Multiplier: 0}
	for i := 0; i < 5; i++ {
		if got := p.Delay(i); got != time.Second {
			t.Errorf("attempt %d: expected 1s, got %v", i, got)
		}
	}
}

func TestDelayJitterBounded(t *testing.T) {
	p := Policy{Min: time.Second, Max: 10 * time.Second, Multiplier: 2, Jitter: 0.5}
	for i := 0; i < 200; i++ {
		d := p.Delay(3)
		if d < 4*time.Second || d > 8*time.Second {
			t.Fatalf("jittered delay %v outside [4s, 8s]", d)
		}
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if Sleep(ctx, time.Hour) {
		t.Fatal("expected cancelled sleep to report false")
	}
}

func TestSleepElapses(t *testing.T) {
	if !Sleep(context.Background(), time.Millisecond) {
		t.Fatal("expected sleep to complete")
	}
}
