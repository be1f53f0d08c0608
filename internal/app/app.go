// Package app assembles the log, sinks, processors, live book, scheduler and monitor from
// configuration and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tickvault/internal/batch"
	"github.com/sawpanic/tickvault/internal/config"
	"github.com/sawpanic/tickvault/internal/httpapi"
	"github.com/sawpanic/tickvault/internal/liquidity"
	"github.com/sawpanic/tickvault/internal/scheduler"
	"github.com/sawpanic/tickvault/internal/sink"
	"github.com/sawpanic/tickvault/internal/streamlog"
	"github.com/sawpanic/tickvault/internal/streams"
)

// App is a fully wired tickvault instance.
type App struct {
	Config     *config.Config
	Log        streamlog.Log
	Sink       sink.Sink
	Processors []*batch.Processor
	Book       *liquidity.LiveBook
	Scheduler  *scheduler.Scheduler
	Server     *httpapi.Server
	Registry   *prometheus.Registry

	guard *sink.Guarded
}

// New opens the configured log and sink and wires everything on top of them.
func New(cfg *config.Config) (*App, error) {
	l, err := OpenLog(cfg.Log)
	if err != nil {
		return nil, err
	}
	s, err := OpenSink(cfg.Sink)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	a, err := Build(cfg, l, s)
	if err != nil {
		_ = s.Close()
		_ = l.Close()
		return nil, err
	}
	return a, nil
}

// OpenLog opens the configured log backend.
func OpenLog(cfg config.LogConfig) (streamlog.Log, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return streamlog.NewRedisLog(cfg.Redis), nil
	case config.BackendPebble:
		return streamlog.OpenPebbleLog(cfg.Pebble)
	}
	return nil, fmt.Errorf("%w: unknown log backend %q", config.ErrInvalidConfig, cfg.Backend)
}

// OpenSink opens the configured sink and, if requested, its Kafka mirror.
func OpenSink(cfg config.SinkConfig) (sink.Sink, error) {
	var primary sink.Sink
	var err error
	switch cfg.Type {
	case config.SinkParquet:
		primary, err = sink.NewParquetSink(cfg.Parquet)
	case config.SinkPostgres:
		primary, err = sink.NewPostgresSink(cfg.Postgres)
	case config.SinkKafka:
		primary, err = sink.NewKafkaSink(cfg.Kafka)
	default:
		err = fmt.Errorf("%w: unknown sink type %q", config.ErrInvalidConfig, cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	if !cfg.MirrorToKafka {
		return primary, nil
	}
	mirror, err := sink.NewKafkaSink(cfg.Kafka)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	return sink.NewMirror(primary, mirror), nil
}

// Build wires an App over an already opened log and sink. The App takes ownership of both.
func Build(cfg *config.Config, l streamlog.Log, s sink.Sink) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	guard := sink.NewGuarded(cfg.Sink.Type, s, cfg.Sink.Breaker)
	a := &App{
		Config:    cfg,
		Log:       l,
		Sink:      guard,
		Scheduler: scheduler.NewScheduler(),
		Registry:  reg,
		guard:     guard,
	}

	metrics := batch.NewMetrics(reg)
	for _, sc := range cfg.Streams {
		mapper, err := streams.MapperFor(sc.Kind, sc.Levels)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", sc.Name, err)
		}
		p, err := batch.New(batch.Config{
			Stream:           sc.Name,
			Destination:      sc.Destination,
			BatchSize:        sc.BatchSize,
			ThrottleInterval: sc.ThrottleInterval,
			LiveBufferSize:   sc.LiveBufferSize,
		}, l, guard, batch.Mapper(mapper), batch.WithMetrics(metrics))
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", sc.Name, err)
		}
		if err := a.Scheduler.Add(p, sc.TickInterval); err != nil {
			return nil, err
		}
		a.Processors = append(a.Processors, p)
	}

	if cfg.Book.Enabled {
		book, err := liquidity.New(liquidity.Config{
			Stream:       cfg.Book.Stream,
			DepthPercent: cfg.Book.DepthPercent,
			VWSizesUSD:   cfg.Book.VWSizesUSD,
		}, l, liquidity.NewGauges(reg))
		if err != nil {
			return nil, err
		}
		if err := a.Scheduler.Add(book, cfg.Book.RefreshInterval); err != nil {
			return nil, err
		}
		a.Book = book
	}

	deps := httpapi.Deps{
		Scheduler: a.Scheduler,
		Gatherer:  reg,
		Checks:    a.checks(),
	}
	for _, p := range a.Processors {
		deps.Streams = append(deps.Streams, p)
	}
	if a.Book != nil {
		deps.Book = a.Book
	}
	a.Server = httpapi.NewServer(httpapi.ServerConfig{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}, deps)
	return a, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (a *App) checks() map[string]httpapi.Check {
	checks := map[string]httpapi.Check{
		"sink": func(context.Context) error {
			if st := a.guard.State(); st == "open" {
				return fmt.Errorf("sink breaker is %s", st)
			}
			return nil
		},
	}
	if p, ok := a.Log.(pinger); ok {
		checks["log"] = p.Ping
	} else {
		checks["log"] = func(ctx context.Context) error {
			if len(a.Config.Streams) == 0 {
				return nil
			}
			_, err := a.Log.Len(ctx, a.Config.Streams[0].Name)
			return err
		}
	}
	return checks
}

// Processor returns the processor draining stream.
func (a *App) Processor(stream string) (*batch.Processor, bool) {
	for _, p := range a.Processors {
		if p.Config().Stream == stream {
			return p, true
		}
	}
	return nil, false
}

// Run starts the scheduler and the monitor and blocks until ctx is cancelled or the
// monitor fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.Server.ListenAndServe()
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = a.Scheduler.Start(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http monitor: %w", err)
		}
		cancel()
	}

	timeout := a.Config.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP monitor shutdown")
	}
	<-schedDone
	return runErr
}

// Close releases the sink and the log, in that order.
func (a *App) Close() error {
	return errors.Join(a.Sink.Close(), a.Log.Close())
}
