package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// DefaultCooldown is the pause after a failed cycle.
const DefaultCooldown = 30 * time.Second

// Loop runs Cycle, waits, and repeats. A slow cycle delays the next one
// rather than overlapping it. Cancelling the context passed to Run stops the
// loop before its next cycle; a cycle already running is not interrupted.
type Loop struct {
	Name string
	// Cycle is called with a context that is never cancelled.
	Cycle func(ctx context.Context) error
	// Interval is consulted after every successful cycle.
	Interval func() time.Duration
	// Cooldown replaces Interval after a failed cycle.
	Cooldown time.Duration
	// Immediate runs the first cycle at start instead of after one interval.
	Immediate bool

	sleep func(ctx context.Context, d time.Duration) error
}

// Every returns an interval function with a fixed period.
func Every(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

// Between returns an interval function that draws a fresh random duration
// in [min, max] on every call.
func Between(min, max time.Duration) func() time.Duration {
	return func() time.Duration { return RandomInterval(min, max) }
}

// RandomInterval returns a uniformly random duration in [min, max].
func RandomInterval(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	sleep := l.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	cooldown := l.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	interval := l.Interval
	if interval == nil {
		interval = Every(cooldown)
	}

	if !l.Immediate {
		if err := sleep(ctx, interval()); err != nil {
			return nil
		}
	}

	slog.Info("loop started", "loop", l.Name)
	for {
		if ctx.Err() != nil {
			slog.Info("loop stopped", "loop", l.Name)
			return nil
		}

		wait := cooldown
		if err := l.Cycle(context.WithoutCancel(ctx)); err != nil {
			slog.Error("cycle failed", "loop", l.Name, "cooldown", cooldown, "error", err)
		} else {
			wait = interval()
			slog.Debug("cycle complete", "loop", l.Name, "next_in", wait)
		}

		if err := sleep(ctx, wait); err != nil {
			slog.Info("loop stopped", "loop", l.Name)
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
