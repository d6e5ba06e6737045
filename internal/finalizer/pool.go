// Package finalizer delivers finalized call records to the call log from a
// bounded pool of workers, so a slow call log never stalls event handling.
package finalizer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/ari-calllog/internal/backoff"
	"github.com/sweeney/ari-calllog/internal/calllog"
	"github.com/sweeney/ari-calllog/internal/metrics"
)

var (
	// ErrQueueFull is returned by Enqueue when every queue slot is taken.
	ErrQueueFull = errors.New("finalizer queue full")
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("finalizer closed")
)

// Record drop reasons.
const (
	ReasonQueueFull    = "queue_full"
	ReasonClosed       = "closed"
	ReasonSubmitFailed = "submit_failed"
)

// Config sizes the pool and its retry schedule.
type Config struct {
	Workers     int
	QueueDepth  int
	MaxAttempts int
	Retry       backoff.Policy
}

// DefaultConfig returns the defaults used when fields are zero.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		QueueDepth:  1024,
		MaxAttempts: 5,
		Retry: backoff.Policy{
			Min:        500 * time.Millisecond,
			Max:        10 * time.Second,
			Multiplier: 2,
		},
	}
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.stats = m }
}

// WithSleeper replaces the wait between retries.
func WithSleeper(s backoff.Sleeper) Option {
	return func(p *Pool) { p.sleep = s }
}

// Pool submits records to a Sink with bounded retries.
type Pool struct {
	sink  calllog.Sink
	cfg   Config
	log   *zap.Logger
	stats *metrics.Metrics
	sleep backoff.Sleeper

	queue chan calllog.Record
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	// ctx is cancelled when Close gives up waiting, aborting in-flight
	// submissions and retry waits.
	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a pool of workers submitting to sink.
func New(sink calllog.Sink, cfg Config, opts ...Option) *Pool {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Retry.Min <= 0 {
		cfg.Retry = def.Retry
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		sink:   sink,
		cfg:    cfg,
		log:    zap.NewNop(),
		sleep:  backoff.Sleep,
		queue:  make(chan calllog.Record, cfg.QueueDepth),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Enqueue hands rec to the workers without blocking. A full queue rejects
// the record.
func (p *Pool) Enqueue(rec calllog.Record) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.stats.RecordDropped(ReasonClosed)
		return ErrClosed
	}
	select {
	case p.queue <- rec:
		return nil
	default:
		p.stats.RecordDropped(ReasonQueueFull)
		return ErrQueueFull
	}
}

// Len returns the number of queued records.
func (p *Pool) Len() int {
	return len(p.queue)
}

// Close stops accepting records and waits for queued and in-flight
// submissions. If ctx ends first, outstanding submissions are aborted and
// ctx's error is returned.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		p.log.Warn("finalizer shutdown grace expired",
			zap.Int("queued", len(p.queue)))
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for rec := range p.queue {
		p.submit(rec)
	}
}

func (p *Pool) submit(rec calllog.Record) {
	var err error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			p.stats.Retried()
			if !p.sleep(p.ctx, p.cfg.Retry.Delay(attempt-1)) {
				break
			}
		}

		err = p.sink.Submit(p.ctx, rec)
		if err == nil {
			p.stats.Submitted()
			p.log.Debug("call record submitted",
				zap.String("channel", rec.ExternalCorrelationID),
				zap.Int("attempt", attempt+1))
			return
		}
		p.log.Warn("call record submission failed",
			zap.String("channel", rec.ExternalCorrelationID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	p.stats.RecordDropped(ReasonSubmitFailed)
	p.log.Error("call record dropped",
		zap.String("channel", rec.ExternalCorrelationID),
		zap.String("from", rec.OriginatingEndpoint),
		zap.String("to", rec.TerminatingEndpoint),
		zap.Time("start_time", rec.StartTime),
		zap.Error(err))
}
