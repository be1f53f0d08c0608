// Package config loads the tickvault YAML configuration, applies defaults and environment
// overrides, and validates it before anything is built from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/tickvault/internal/sink"
	"github.com/sawpanic/tickvault/internal/streamlog"
	"github.com/sawpanic/tickvault/internal/streams"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

const (
	BackendRedis  = "redis"
	BackendPebble = "pebble"

	SinkParquet  = "parquet"
	SinkPostgres = "postgres"
	SinkKafka    = "kafka"
)

// Environment overrides, applied after the file is read.
const (
	EnvRedisAddr    = "TICKVAULT_REDIS_ADDR"
	EnvPostgresDSN  = "TICKVAULT_PG_DSN"
	EnvKafkaBrokers = "TICKVAULT_KAFKA_BROKERS"
	EnvHTTPAddr     = "TICKVAULT_HTTP_ADDR"
)

// Config is the complete application configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Log      LogConfig      `yaml:"log"`
	Sink     SinkConfig     `yaml:"sink"`
	Streams  []StreamConfig `yaml:"streams"`
	Book     BookConfig     `yaml:"book"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// LogConfig selects the append log backend.
type LogConfig struct {
	Backend string                 `yaml:"backend"`
	Redis   streamlog.RedisConfig  `yaml:"redis"`
	Pebble  streamlog.PebbleConfig `yaml:"pebble"`
}

// SinkConfig selects the durable sink and its optional Kafka mirror.
type SinkConfig struct {
	Type     string              `yaml:"type"`
	Parquet  sink.ParquetConfig  `yaml:"parquet"`
	Postgres sink.PostgresConfig `yaml:"postgres"`
	Kafka    sink.KafkaConfig    `yaml:"kafka"`
	// MirrorToKafka copies every durable batch to Kafka topics named after the destination.
	MirrorToKafka bool               `yaml:"mirror_to_kafka"`
	Breaker       sink.BreakerConfig `yaml:"breaker"`
}

// StreamConfig describes one drained stream.
type StreamConfig struct {
	Name             string        `yaml:"name"`
	Kind             string        `yaml:"kind"`
	Levels           int           `yaml:"levels"`
	Destination      string        `yaml:"destination"`
	BatchSize        int           `yaml:"batch_size"`
	ThrottleInterval time.Duration `yaml:"throttle_interval"`
	LiveBufferSize   int           `yaml:"live_buffer_size"`
	TickInterval     time.Duration `yaml:"tick_interval"`
}

// BookConfig configures the live order book.
type BookConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Stream          string        `yaml:"stream"`
	DepthPercent    float64       `yaml:"depth_percent"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	VWSizesUSD      []float64     `yaml:"vw_sizes_usd"`
}

// HTTPConfig configures the monitor server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Log: LogConfig{
			Backend: BackendRedis,
			Redis:   streamlog.RedisConfig{Addr: "localhost:6379"},
			Pebble:  streamlog.PebbleConfig{Dir: "data/log"},
		},
		Sink: SinkConfig{
			Type:     SinkParquet,
			Parquet:  sink.ParquetConfig{Root: "data/lake"},
			Postgres: sink.PostgresConfig{MaxOpenConns: 4, QueryTimeout: 30 * time.Second, CreateTables: true},
			Kafka:    sink.KafkaConfig{BatchTimeout: 10 * time.Millisecond},
		},
		Book: BookConfig{
			DepthPercent:    1,
			RefreshInterval: time.Second,
			VWSizesUSD:      []float64{1000, 10000, 100000},
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Load reads path, applies defaults and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	cfg.applyStreamDefaults()
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyStreamDefaults() {
	for i := range c.Streams {
		s := &c.Streams[i]
		if s.Destination == "" {
			s.Destination = s.Name
		}
		if s.Kind == "" {
			s.Kind = streams.KindRaw
		}
		if s.TickInterval == 0 {
			s.TickInterval = time.Second
		}
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		c.Log.Redis.Addr = v
	}
	if v, ok := lookup(EnvPostgresDSN); ok && v != "" {
		c.Sink.Postgres.DSN = v
	}
	if v, ok := lookup(EnvKafkaBrokers); ok && v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Sink.Kafka.Brokers = brokers
	}
	if v, ok := lookup(EnvHTTPAddr); ok && v != "" {
		c.HTTP.Addr = v
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Log.Backend {
	case BackendRedis:
		if c.Log.Redis.Addr == "" {
			add("log.redis.addr is required")
		}
	case BackendPebble:
		if c.Log.Pebble.Dir == "" {
			add("log.pebble.dir is required")
		}
	default:
		add("log.backend %q is not one of redis, pebble", c.Log.Backend)
	}

	switch c.Sink.Type {
	case SinkParquet:
		if c.Sink.Parquet.Root == "" {
			add("sink.parquet.root is required")
		}
	case SinkPostgres:
		if c.Sink.Postgres.DSN == "" {
			add("sink.postgres.dsn is required")
		}
	case SinkKafka:
	default:
		add("sink.type %q is not one of parquet, postgres, kafka", c.Sink.Type)
	}
	if (c.Sink.Type == SinkKafka || c.Sink.MirrorToKafka) && len(c.Sink.Kafka.Brokers) == 0 {
		add("sink.kafka.brokers is required")
	}
	if c.Sink.Type == SinkKafka && c.Sink.MirrorToKafka {
		add("sink.mirror_to_kafka cannot be used with a kafka sink")
	}

	if len(c.Streams) == 0 {
		add("at least one stream is required")
	}
	seen := make(map[string]bool)
	for i, s := range c.Streams {
		name := s.Name
		if name == "" {
			add("streams[%d].name is required", i)
			name = fmt.Sprintf("streams[%d]", i)
		}
		if seen[s.Name] {
			add("stream %s is listed twice", name)
		}
		seen[s.Name] = true
		if _, err := streams.MapperFor(s.Kind, s.Levels); err != nil {
			add("stream %s: %v", name, err)
		}
		if s.BatchSize <= 0 {
			add("stream %s: batch_size must be > 0", name)
		}
		if s.LiveBufferSize < 0 {
			add("stream %s: live_buffer_size must be >= 0", name)
		}
		if s.LiveBufferSize >= s.BatchSize && s.BatchSize > 0 {
			add("stream %s: live_buffer_size must be smaller than batch_size", name)
		}
		if s.ThrottleInterval < 0 {
			add("stream %s: throttle_interval must be >= 0", name)
		}
		if s.TickInterval <= 0 {
			add("stream %s: tick_interval must be > 0", name)
		}
	}

	if c.Book.Enabled {
		if c.Book.Stream == "" {
			add("book.stream is required")
		}
		if !(c.Book.DepthPercent > 0) {
			add("book.depth_percent must be > 0")
		}
		if c.Book.RefreshInterval <= 0 {
			add("book.refresh_interval must be > 0")
		}
		for _, s := range c.Book.VWSizesUSD {
			if !(s > 0) {
				add("book.vw_sizes_usd entries must be > 0")
				break
			}
		}
	}

	if c.HTTP.Addr == "" {
		add("http.addr is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Stream returns the named stream configuration.
func (c *Config) Stream(name string) (StreamConfig, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return StreamConfig{}, false
}
