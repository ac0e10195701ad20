package gateway

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := &Backoff{Base: time.Second, Max: time.Hour}

	if d := b.Delay(0); d != 1*time.Second {
		t.Errorf("expected 1s delay, got %v", d)
	}
	if d := b.Delay(1); d != 2*time.Second {
		t.Errorf("expected 2s delay, got %v", d)
	}
	if d := b.Delay(3); d != 8*time.Second {
		t.Errorf("expected 8s delay, got %v", d)
	}
}

func TestBackoffDelayMonotonic(t *testing.T) {
	b := DefaultBackoff()
	prev := time.Duration(0)
	for n := 0; n < 80; n++ {
		d := b.Delay(n)
		if d < prev {
			t.Fatalf("delay for %d (%v) smaller than for %d (%v)", n, d, n-1, prev)
		}
		prev = d
	}
}

func TestBackoffDelayMaxCap(t *testing.T) {
	b := &Backoff{Base: time.Second, Max: 30 * time.Second}
	if d := b.Delay(10); d != b.Max {
		t.Errorf("expected delay capped at %v, got %v", b.Max, d)
	}
}

func TestBackoffJitterWindow(t *testing.T) {
	b := DefaultBackoff()
	for i := 0; i < 200; i++ {
		d := b.Jitter()
		if d < b.JitterMin || d >= b.JitterMax {
			t.Fatalf("jitter %v outside [%v, %v)", d, b.JitterMin, b.JitterMax)
		}
	}
}

func TestBackoffJitterEmptyWindow(t *testing.T) {
	b := &Backoff{JitterMin: 5 * time.Millisecond, JitterMax: 5 * time.Millisecond}
	if d := b.Jitter(); d != 5*time.Millisecond {
		t.Errorf("expected fixed jitter, got %v", d)
	}
}
