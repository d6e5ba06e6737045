package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/ari-calllog/internal/ari"
	"github.com/sweeney/ari-calllog/internal/calllog"
	"github.com/sweeney/ari-calllog/internal/config"
	"github.com/sweeney/ari-calllog/internal/correlator"
	"github.com/sweeney/ari-calllog/internal/directory"
	"github.com/sweeney/ari-calllog/internal/finalizer"
	"github.com/sweeney/ari-calllog/internal/logging"
	"github.com/sweeney/ari-calllog/internal/metrics"
	"github.com/sweeney/ari-calllog/internal/resolver"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Consume the event feed and write call records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return runEngine(cmd.Context(), cfg)
		},
	}
}

func runEngine(ctx context.Context, cfg *config.Config) error {
	log, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := metrics.New()

	sink, err := openSinks(cfg, log)
	if err != nil {
		return err
	}
	defer sink.Close()

	dir, closeDir := openDirectory(ctx, cfg, log)
	defer closeDir()

	eng, err := newEngine(cfg, sink, dir, log, stats)
	if err != nil {
		return err
	}

	srv := serveMetrics(cfg.Metrics.Listen, stats, log)

	err = eng.run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}

	log.Info("shutdown complete")
	return err
}

// engine is the wired event pipeline: connector, dispatcher, reaper and
// finalizer pool.
type engine struct {
	log        *zap.Logger
	connector  *ari.Connector
	dispatcher *correlator.Dispatcher
	reaper     *correlator.Reaper
	pool       *finalizer.Pool
	grace      time.Duration
}

func newEngine(cfg *config.Config, sink calllog.Sink, dir directory.Checker, log *zap.Logger, stats *metrics.Metrics, connOpts ...ari.ConnectorOption) (*engine, error) {
	url, err := ari.SubscriptionURL(cfg.ARI.EventsURL, cfg.ARI.App)
	if err != nil {
		return nil, err
	}

	pool := finalizer.New(sink, finalizer.Config{
		Workers:     cfg.Finalizer.Workers,
		QueueDepth:  cfg.Finalizer.QueueDepth,
		MaxAttempts: cfg.Finalizer.MaxAttempts,
		Retry:       cfg.Finalizer.RetryPolicy(),
	}, finalizer.WithLogger(log.Named("finalizer")), finalizer.WithMetrics(stats))

	res := resolver.New(dir)

	tracker := correlator.NewTracker(cfg.Tracker.FinalizedCacheSize)
	disp, err := correlator.New(tracker, pool,
		correlator.WithLogger(log.Named("correlator")),
		correlator.WithMetrics(stats),
		correlator.WithResolver(res))
	if err != nil {
		pool.Close(context.Background())
		return nil, err
	}

	reaper := correlator.NewReaper(tracker, cfg.Tracker.OrphanMaxAge, cfg.Tracker.SweepInterval,
		correlator.WithLogger(log.Named("reaper")),
		correlator.WithMetrics(stats))

	opts := append([]ari.ConnectorOption{
		ari.WithBackoff(cfg.Backoff.Policy()),
		ari.WithLogger(log.Named("connector")),
		ari.WithMetrics(stats),
	}, connOpts...)
	conn := ari.NewConnector(url, ari.BasicAuth(cfg.ARI.Username, cfg.ARI.Password), opts...)

	return &engine{
		log:        log,
		connector:  conn,
		dispatcher: disp,
		reaper:     reaper,
		pool:       pool,
		grace:      cfg.Finalizer.ShutdownGrace,
	}, nil
}

// run consumes the feed until ctx is cancelled, then drains the finalizer
// pool within the shutdown grace period.
func (e *engine) run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.reaper.Run(ctx)
	}()

	err := e.connector.Run(ctx, e.dispatcher.Dispatch)
	wg.Wait()

	e.log.Info("draining call records", zap.Int("queued", e.pool.Len()), zap.Duration("grace", e.grace))
	graceCtx, cancel := context.WithTimeout(context.Background(), e.grace)
	defer cancel()
	if cerr := e.pool.Close(graceCtx); cerr != nil {
		e.log.Error("call records lost at shutdown", zap.Error(cerr))
	}
	return err
}

// openSinks connects every configured call log destination.
func openSinks(cfg *config.Config, log *zap.Logger) (calllog.Sink, error) {
	var sinks calllog.Multi

	if cfg.CallLog.DSN != "" {
		store, err := calllog.Open(cfg.CallLog.Driver, cfg.CallLog.DSN)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, store)
		log.Info("call log database ready", zap.String("driver", cfg.CallLog.Driver))
	}

	if cfg.MQTT.Enabled {
		pub, err := calllog.NewMQTTSink(calllog.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		})
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, pub)
		log.Info("connected to MQTT broker", zap.String("broker", cfg.MQTT.Broker))
	}

	if len(sinks) == 0 {
		return nil, errors.New("no call log sink configured")
	}
	return sinks, nil
}

// openDirectory builds the endpoint directory from the static list and the
// Redis set. It returns nil when neither is configured.
func openDirectory(ctx context.Context, cfg *config.Config, log *zap.Logger) (directory.Checker, func()) {
	var dirs directory.Any
	closers := []func(){}

	if len(cfg.Directory.Endpoints) > 0 {
		static := directory.NewStatic(cfg.Directory.Endpoints)
		dirs = append(dirs, static)
		log.Info("static endpoint directory", zap.Int("endpoints", static.Len()))
	}

	if rc := cfg.Directory.Redis; rc.Addr != "" {
		r := directory.NewRedis(directory.RedisOptions{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			Key:       rc.Key,
			CacheTTL:  rc.CacheTTL,
			CacheSize: rc.CacheSize,
		}, log.Named("directory"))

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := r.Ping(pingCtx); err != nil {
			log.Warn("endpoint directory unreachable, lookups will fail open",
				zap.String("addr", rc.Addr), zap.Error(err))
		}
		cancel()

		dirs = append(dirs, r)
		closers = append(closers, func() { r.Close() })
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(dirs) == 0 {
		return nil, closeAll
	}
	return dirs, closeAll
}

func serveMetrics(addr string, stats *metrics.Metrics, log *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", stats.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}
