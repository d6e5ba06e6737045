package correlator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultOrphanMaxAge  = 30 * time.Minute
	DefaultSweepInterval = 60 * time.Second
)

// Reaper periodically discards tracked calls that never finalized.
type Reaper struct {
	options
	tracker  *Tracker
	maxAge   time.Duration
	interval time.Duration
}

// NewReaper creates a Reaper removing calls older than maxAge every
// interval. Zero values select the defaults.
func NewReaper(tracker *Tracker, maxAge, interval time.Duration, opts ...Option) *Reaper {
	if maxAge <= 0 {
		maxAge = DefaultOrphanMaxAge
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Reaper{
		options:  buildOptions(opts),
		tracker:  tracker,
		maxAge:   maxAge,
		interval: interval,
	}
}

// Sweep removes every call that started more than maxAge before now and
// returns how many were removed. No records are produced.
func (r *Reaper) Sweep(now time.Time) int {
	reaped := r.tracker.Reap(now.Add(-r.maxAge))
	for _, c := range reaped {
		r.log.Warn("orphaned call discarded",
			zap.String("channel", c.ChannelID),
			zap.String("state", string(c.State)),
			zap.String("from", c.OriginatingEndpoint),
			zap.String("to", c.TerminatingEndpoint),
			zap.Time("start_time", c.StartTime),
			zap.Duration("age", now.Sub(c.StartTime)))
	}
	if len(reaped) > 0 {
		r.stats.Reaped(len(reaped))
	}
	tracked := r.tracker.Len()
	r.stats.SetTracked(tracked)
	r.log.Debug("orphan sweep complete",
		zap.Int("reaped", len(reaped)),
		zap.Int("tracked", tracked),
		zap.Int("legs", r.tracker.Legs()))
	return len(reaped)
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.clock())
		}
	}
}
