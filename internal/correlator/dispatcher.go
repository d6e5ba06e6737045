// Package correlator turns the ordered event feed into finalized call
// records. The Dispatcher routes each event to a handler that mutates the
// Tracker; terminal events hand completed records to a Finalizer. The Reaper
// discards calls whose terminal events never arrive.
package correlator

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/ari-calllog/internal/ari"
	"github.com/sweeney/ari-calllog/internal/calllog"
	"github.com/sweeney/ari-calllog/internal/metrics"
	"github.com/sweeney/ari-calllog/internal/resolver"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Finalizer accepts completed records. Enqueue must not block.
type Finalizer interface {
	Enqueue(calllog.Record) error
}

type handler func(ari.Event) error

type options struct {
	clock    Clock
	log      *zap.Logger
	stats    *metrics.Metrics
	resolver *resolver.Resolver
}

// Option configures a Dispatcher or Reaper.
type Option func(*options)

// WithClock sets the time source used when an event carries no timestamp.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.stats = m }
}

// WithResolver sets the endpoint resolver. The default resolves without a
// directory.
func WithResolver(r *resolver.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

func buildOptions(opts []Option) options {
	o := options{
		clock:    time.Now,
		log:      zap.NewNop(),
		resolver: resolver.New(nil),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// errIgnored marks events that are well formed but carry nothing the state
// machine acts on, such as intermediate dial results.
var errIgnored = errors.New("ignored")

// Dispatcher routes events to handlers by type.
type Dispatcher struct {
	options
	tracker   *Tracker
	finalizer Finalizer
	handlers  map[ari.EventType]handler
}

// New creates a Dispatcher. It fails if any routed event type lacks a
// handler.
func New(tracker *Tracker, fin Finalizer, opts ...Option) (*Dispatcher, error) {
	if tracker == nil {
		return nil, errors.New("correlator: nil tracker")
	}
	if fin == nil {
		return nil, errors.New("correlator: nil finalizer")
	}
	d := &Dispatcher{
		options:   buildOptions(opts),
		tracker:   tracker,
		finalizer: fin,
	}
	d.handlers = map[ari.EventType]handler{
		ari.ChannelEntered:      d.channelEntered,
		ari.ChannelStateChanged: d.channelStateChanged,
		ari.DialStarted:         d.dialStarted,
		ari.DialEnded:           d.dialEnded,
		ari.ChannelDestroyed:    d.channelDestroyed,
		ari.ChannelLeft:         d.channelLeft,
	}
	if err := validateHandlers(d.handlers); err != nil {
		return nil, err
	}
	return d, nil
}

func validateHandlers(handlers map[ari.EventType]handler) error {
	for _, t := range ari.KnownTypes {
		if handlers[t] == nil {
			return fmt.Errorf("correlator: no handler for %s", t)
		}
	}
	if len(handlers) != len(ari.KnownTypes) {
		return fmt.Errorf("correlator: %d handlers for %d event types", len(handlers), len(ari.KnownTypes))
	}
	return nil
}

// Dispatch applies one event. It never fails: events that cannot be applied
// are logged, counted and dropped.
func (d *Dispatcher) Dispatch(evt ari.Event) {
	if !evt.Known() {
		d.log.Debug("dropping event of unknown type", zap.String("type", evt.RawType))
		d.stats.Dropped(metrics.ReasonUnknownType)
		return
	}
	if err := evt.Validate(); err != nil {
		d.log.Warn("dropping invalid event", zap.Error(err))
		d.stats.Dropped(metrics.ReasonMissingField)
		return
	}
	d.stats.Received(string(evt.Type))

	err := d.handlers[evt.Type](evt)
	d.stats.SetTracked(d.tracker.Len())
	if err == nil {
		return
	}

	fields := []zap.Field{
		zap.String("type", string(evt.Type)),
		zap.String("channel", evt.ChannelID()),
	}
	switch {
	case errors.Is(err, ErrUnknownChannel):
		d.log.Debug("event for untracked channel", fields...)
		d.stats.Dropped(metrics.ReasonUnknownChan)
	case errors.Is(err, ErrAlreadyFinalized), errors.Is(err, ErrAlreadyTracked):
		d.log.Debug("duplicate event", append(fields, zap.Error(err))...)
		d.stats.Dropped(metrics.ReasonDuplicate)
	case errors.Is(err, ErrEnded):
		d.log.Error("event for ended call dropped", fields...)
		d.stats.Dropped(metrics.ReasonInvariant)
	case errors.Is(err, errIgnored):
		d.log.Debug("event ignored", append(fields, zap.Error(err))...)
		d.stats.Dropped(metrics.ReasonIgnoredStatus)
	case errors.Is(err, ErrUnresolved):
		d.log.Info("call ended with unresolved endpoints, retained until reaped", fields...)
	case errors.Is(err, ErrLegReleased):
		d.log.Debug("peer leg released", fields...)
	default:
		d.log.Error("event handler failed", append(fields, zap.Error(err))...)
	}
}

// at returns the event's own timestamp, or the clock when it has none.
func (d *Dispatcher) at(evt ari.Event) time.Time {
	if !evt.Timestamp.IsZero() {
		return evt.Timestamp
	}
	return d.clock()
}

func (d *Dispatcher) resolve(ch *ari.Channel) string {
	ep, ok := d.resolver.Resolve(resolver.FromChannel(ch))
	if !ok {
		return ""
	}
	return ep
}

func (d *Dispatcher) channelEntered(evt ari.Event) error {
	orig := d.resolve(evt.Channel)
	if orig == "" {
		d.log.Debug("originating endpoint unresolved",
			zap.String("channel", evt.Channel.ID),
			zap.String("name", evt.Channel.Name))
	}
	return d.tracker.Create(evt.Channel.ID, orig, d.at(evt))
}

func (d *Dispatcher) channelStateChanged(evt ari.Event) error {
	at := d.at(evt)
	return d.tracker.Update(evt.Channel.ID, func(c *TrackedCall) error {
		if c.State == StateEnded {
			return ErrEnded
		}
		switch evt.Channel.State {
		case "Up":
			c.State = StateAnswered
			if c.AnswerTime.IsZero() {
				c.AnswerTime = c.clamp(at)
			}
		case "Busy":
			c.State = StateBusy
		case "Ring", "Ringing":
			if c.State != StateAnswered {
				c.State = StateRinging
			}
		default:
			return fmt.Errorf("%w: channel state %s", errIgnored, evt.Channel.State)
		}
		return nil
	})
}

func (d *Dispatcher) channelDestroyed(evt ari.Event) error {
	at := d.at(evt)
	return d.finalize(evt.Channel.ID, func(c *TrackedCall) error {
		if c.State == StateEnded {
			return ErrEnded
		}
		c.EndTime = c.clamp(at)
		c.HangupCauseCode = evt.Cause
		c.HangupCauseText = causeText(evt.Cause, evt.CauseText)
		c.State = StateEnded
		return nil
	})
}

func (d *Dispatcher) channelLeft(evt ari.Event) error {
	at := d.at(evt)
	return d.finalize(evt.Channel.ID, func(c *TrackedCall) error {
		if c.LegOf != "" {
			return nil
		}
		if c.TerminatingEndpoint == "" {
			return ErrUnresolved
		}
		if c.State != StateEnded {
			if c.FinalStatus == "" {
				c.FinalStatus = statusFromState(c.State)
			}
			c.EndTime = c.clamp(at)
			c.State = StateEnded
		}
		return nil
	})
}

// finalize runs fn and the finalization step under one tracker lock and
// hands a produced record to the Finalizer.
func (d *Dispatcher) finalize(id string, fn func(*TrackedCall) error) error {
	rec, err := d.tracker.Finalize(id, fn)
	if err != nil {
		return err
	}
	d.stats.Finalized()
	d.log.Info("call finalized",
		zap.String("channel", rec.ExternalCorrelationID),
		zap.String("from", rec.OriginatingEndpoint),
		zap.String("to", rec.TerminatingEndpoint),
		zap.String("status", string(rec.Status)),
		zap.Int64("duration", rec.DurationSeconds))

	if err := d.finalizer.Enqueue(rec); err != nil {
		d.log.Error("call record rejected",
			zap.String("channel", rec.ExternalCorrelationID),
			zap.Error(err))
	}
	return nil
}
