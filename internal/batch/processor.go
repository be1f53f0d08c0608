// Package batch drains an append-only stream log into a durable sink in bounded, throttled
// batches while keeping a short tail of the newest records in the log for live readers.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tickvault/internal/sink"
	"github.com/sawpanic/tickvault/internal/streamlog"
	"github.com/sawpanic/tickvault/internal/streams"
)

// ErrInvalidConfig is returned by New for parameters that break the batching contract.
var ErrInvalidConfig = errors.New("invalid batch config")

const (
	// IngestDateColumn is attached to every row and used as the sink partition column.
	IngestDateColumn = "ingest_date"

	// pressureFactor scales the drain size while the log is longer than one batch.
	pressureFactor = 5
)

// State is the phase a processor is in.
type State int

const (
	Idle State = iota
	Draining
	Flushing
	Purging
)

func (s State) String() string {
	switch s {
	case Draining:
		return "DRAINING"
	case Flushing:
		return "FLUSHING"
	case Purging:
		return "PURGING"
	default:
		return "IDLE"
	}
}

// Mapper converts one log record into one sink row. It must be pure; fields it does not
// emit are dropped.
type Mapper func(streamlog.Entry) sink.Row

// Config describes one stream drain.
type Config struct {
	Stream           string
	Destination      string
	BatchSize        int
	ThrottleInterval time.Duration
	LiveBufferSize   int
}

func (c Config) validate() error {
	switch {
	case c.Stream == "":
		return fmt.Errorf("%w: stream name is required", ErrInvalidConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be > 0, got %d", ErrInvalidConfig, c.BatchSize)
	case c.LiveBufferSize < 0:
		return fmt.Errorf("%w: live buffer size must be >= 0, got %d", ErrInvalidConfig, c.LiveBufferSize)
	case c.LiveBufferSize >= c.BatchSize:
		return fmt.Errorf("%w: live buffer size %d must be smaller than batch size %d",
			ErrInvalidConfig, c.LiveBufferSize, c.BatchSize)
	case c.ThrottleInterval < 0:
		return fmt.Errorf("%w: throttle interval must be >= 0, got %s", ErrInvalidConfig, c.ThrottleInterval)
	}
	return nil
}

// Result reports what one tick did.
type Result struct {
	Stream    string        `json:"stream"`
	Skipped   bool          `json:"skipped"`
	Length    int64         `json:"length"`
	BatchSize int           `json:"batch_size"`
	Drained   int           `json:"drained"`
	Written   int           `json:"written"`
	Purged    int64         `json:"purged"`
	Missing   int           `json:"missing_fields"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// Stats is a point-in-time summary of a processor.
type Stats struct {
	Stream      string    `json:"stream"`
	Destination string    `json:"destination"`
	State       string    `json:"state"`
	LastFlush   time.Time `json:"last_flush"`
	Cycles      int64     `json:"cycles"`
	RowsWritten int64     `json:"rows_written"`
	KeysPurged  int64     `json:"keys_purged"`
	Failures    int64     `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
}

// Option customizes a Processor.
type Option func(*Processor)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithMetrics reports into m.
func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// Processor drains one stream. Ticks on the same Processor are serialized, so at most one
// cycle is in flight; different processors are independent.
type Processor struct {
	cfg     Config
	log     streamlog.Log
	sink    sink.Sink
	mapper  Mapper
	now     func() time.Time
	metrics *Metrics

	cycle sync.Mutex

	mu        sync.Mutex
	state     State
	lastFlush time.Time
	stats     Stats
}

// New validates cfg and returns a Processor whose throttle window starts now.
func New(cfg Config, l streamlog.Log, s sink.Sink, m Mapper, opts ...Option) (*Processor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if l == nil || s == nil || m == nil {
		return nil, fmt.Errorf("%w: log, sink and mapper are required", ErrInvalidConfig)
	}
	p := &Processor{
		cfg:    cfg,
		log:    l,
		sink:   s,
		mapper: m,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.lastFlush = p.now()
	p.stats = Stats{Stream: cfg.Stream, Destination: cfg.Destination}
	return p, nil
}

// Name identifies the processor in schedules and logs.
func (p *Processor) Name() string { return "batch:" + p.cfg.Stream }

func (p *Processor) Config() Config { return p.cfg }

// Tick runs one cycle if the throttle allows it. Errors are logged and reported in the
// result; they never escape as panics and leave the log untouched for the next cycle.
func (p *Processor) Tick(ctx context.Context) Result {
	return p.run(ctx, false)
}

// Flush runs one cycle ignoring the throttle window.
func (p *Processor) Flush(ctx context.Context) Result {
	return p.run(ctx, true)
}

func (p *Processor) run(ctx context.Context, force bool) Result {
	p.cycle.Lock()
	defer p.cycle.Unlock()

	start := p.now()
	res := p.cycleOnce(ctx, start, force)
	res.Duration = p.now().Sub(start)
	p.setState(Idle)
	p.record(res)
	return res
}

func (p *Processor) cycleOnce(ctx context.Context, now time.Time, force bool) Result {
	res := Result{Stream: p.cfg.Stream}
	logger := log.With().Str("stream", p.cfg.Stream).Logger()

	length, err := p.log.Len(ctx, p.cfg.Stream)
	if err != nil {
		res.Err = fmt.Errorf("stream length: %w", err)
		logger.Error().Err(res.Err).Msg("batch cycle aborted")
		return res
	}
	res.Length = length

	p.mu.Lock()
	due := now.Sub(p.lastFlush) >= p.cfg.ThrottleInterval ||
		length > int64(p.cfg.BatchSize+p.cfg.LiveBufferSize)
	if !due && !force {
		p.mu.Unlock()
		res.Skipped = true
		return res
	}
	p.lastFlush = now
	p.mu.Unlock()

	p.setState(Draining)
	res.BatchSize = p.cfg.BatchSize
	if length > int64(p.cfg.BatchSize) {
		res.BatchSize = p.cfg.BatchSize * pressureFactor
	}
	if p.metrics != nil {
		p.metrics.StreamLength.WithLabelValues(p.cfg.Stream).Set(float64(length))
	}

	entries, err := streamlog.Oldest(ctx, p.log, p.cfg.Stream, int64(res.BatchSize))
	if err != nil {
		res.Err = fmt.Errorf("read batch: %w", err)
		logger.Error().Err(res.Err).Int("batch_size", res.BatchSize).Msg("batch cycle aborted")
		return res
	}
	res.Drained = len(entries)
	if len(entries) == 0 {
		return res
	}

	p.setState(Flushing)
	ingestDate := now.UTC().Format("2006-01-02")
	rows := make([]sink.Row, 0, len(entries))
	for _, e := range entries {
		row := p.mapper(e)
		if row == nil {
			row = sink.Row{}
		}
		res.Missing += streams.MissingFields(row)
		row[IngestDateColumn] = ingestDate
		rows = append(rows, row)
	}
	if res.Missing > 0 {
		logger.Debug().Int("missing_fields", res.Missing).Int("rows", len(rows)).Msg("mapped batch with missing fields")
	}

	flushStart := time.Now()
	err = p.sink.Write(ctx, p.cfg.Destination, rows, IngestDateColumn)
	if p.metrics != nil {
		p.metrics.FlushDuration.WithLabelValues(p.cfg.Stream).Observe(time.Since(flushStart).Seconds())
	}
	if err != nil {
		res.Err = fmt.Errorf("write %s: %w", p.cfg.Destination, err)
		logger.Error().Err(res.Err).Int("batch_size", res.BatchSize).Int("rows", len(rows)).Msg("flush failed, batch kept in log")
		return res
	}
	res.Written = len(rows)

	p.setState(Purging)
	keep := p.cfg.LiveBufferSize
	if len(entries) <= keep {
		logger.Debug().Int("rows", res.Written).Msg("flushed batch within live buffer, nothing purged")
		return res
	}
	keys := streamlog.Keys(entries[:len(entries)-keep])
	purged, err := p.log.Delete(ctx, p.cfg.Stream, keys...)
	res.Purged = purged
	if err != nil {
		res.Err = fmt.Errorf("purge: %w", err)
		logger.Error().Err(res.Err).Int("batch_size", res.BatchSize).Int("keys", len(keys)).Msg("purge failed, rows will be rewritten")
		return res
	}
	logger.Info().
		Int("batch_size", res.BatchSize).
		Int("rows", res.Written).
		Int64("purged", purged).
		Int64("length", length).
		Msg("batch flushed")
	return res
}

func (p *Processor) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State returns the current phase.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastFlush returns when the last non-skipped cycle started.
func (p *Processor) LastFlush() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFlush
}

func (p *Processor) record(res Result) {
	p.mu.Lock()
	if !res.Skipped {
		p.stats.Cycles++
	}
	p.stats.RowsWritten += int64(res.Written)
	p.stats.KeysPurged += res.Purged
	if res.Err != nil {
		p.stats.Failures++
		p.stats.LastError = res.Err.Error()
	}
	p.mu.Unlock()

	if p.metrics == nil {
		return
	}
	outcome := "flushed"
	switch {
	case res.Err != nil:
		outcome = "error"
	case res.Skipped:
		outcome = "throttled"
	case res.Drained == 0:
		outcome = "empty"
	}
	stream := p.cfg.Stream
	p.metrics.Ticks.WithLabelValues(stream, outcome).Inc()
	p.metrics.Drained.WithLabelValues(stream).Add(float64(res.Drained))
	p.metrics.RowsWritten.WithLabelValues(stream).Add(float64(res.Written))
	p.metrics.KeysPurged.WithLabelValues(stream).Add(float64(res.Purged))
	p.metrics.MissingFields.WithLabelValues(stream).Add(float64(res.Missing))
	if res.Err != nil && res.Drained > 0 && res.Written == 0 {
		p.metrics.FlushFailures.WithLabelValues(stream).Inc()
	}
}

// Stats returns a copy of the running totals.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.State = p.state.String()
	s.LastFlush = p.lastFlush
	return s
}

// RunOnce adapts Tick to the scheduler's job contract.
func (p *Processor) RunOnce(ctx context.Context) error {
	return p.Tick(ctx).Err
}
