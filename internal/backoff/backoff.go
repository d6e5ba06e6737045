package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy is an exponential backoff schedule bounded by Max.
//
// Delay(0) is Min, each further attempt multiplies by Multiplier until Max
// is reached. With Jitter == 0 the schedule is non-decreasing.
type Policy struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction (0..1) of each delay that is randomized
	// downwards. The result never exceeds Max.
	Jitter float64
}

// Default is the reconnect schedule used by the event connector.
var Default = Policy{
	Min:        5 * time.Second,
	Max:        60 * time.Second,
	Multiplier: 2,
}

// Delay returns the wait before retry number attempt (zero-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.Min) * math.Pow(mult, float64(attempt))
	if p.Max > 0 && (d > float64(p.Max) || math.IsInf(d, 1)) {
		d = float64(p.Max)
	}

	if p.Jitter > 0 {
		j := math.Min(p.Jitter, 1)
		d -= d * j * rand.Float64()
	}
	return time.Duration(d)
}

// Sleeper waits for d or until ctx is done, reporting whether the full
// duration elapsed.
type Sleeper func(ctx context.Context, d time.Duration) bool

// Sleep is the real-time Sleeper.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
