package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
log_level: debug
log:
  backend: pebble
  pebble:
    dir: /tmp/tickvault
sink:
  type: parquet
  parquet:
    root: /tmp/lake
  breaker:
    consecutive_failures: 5
    open_timeout: 30s
streams:
  - name: trades
    kind: trades
    batch_size: 100
    throttle_interval: 5m
    live_buffer_size: 10
  - name: l2
    kind: order_book
    levels: 10
    destination: l2_orderbook
    batch_size: 50
    tick_interval: 250ms
book:
  enabled: true
  stream: l2
  depth_percent: 2.5
  vw_sizes_usd: [500, 5000]
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendPebble, cfg.Log.Backend)
	assert.Equal(t, uint32(5), cfg.Sink.Breaker.ConsecutiveFailures)
	assert.Equal(t, 30*time.Second, cfg.Sink.Breaker.OpenTimeout)

	trades, ok := cfg.Stream("trades")
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, trades.ThrottleInterval)
	assert.Equal(t, "trades", trades.Destination, "destination defaults to the stream name")
	assert.Equal(t, time.Second, trades.TickInterval)

	l2, ok := cfg.Stream("l2")
	require.True(t, ok)
	assert.Equal(t, "l2_orderbook", l2.Destination)
	assert.Equal(t, 250*time.Millisecond, l2.TickInterval)

	assert.Equal(t, []float64{500, 5000}, cfg.Book.VWSizesUSD)
	assert.Equal(t, time.Second, cfg.Book.RefreshInterval)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	t.Setenv(EnvRedisAddr, "redis:6380")
	t.Setenv(EnvPostgresDSN, "postgres://u@db/ticks")
	t.Setenv(EnvKafkaBrokers, "k1:9092, k2:9092,")
	t.Setenv(EnvHTTPAddr, "127.0.0.1:9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", cfg.Log.Redis.Addr)
	assert.Equal(t, "postgres://u@db/ticks", cfg.Sink.Postgres.DSN)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Sink.Kafka.Brokers)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"no streams": `streams: []`,
		"live buffer not smaller than batch": `
streams:
  - {name: trades, kind: trades, batch_size: 10, live_buffer_size: 10}`,
		"unknown kind": `
streams:
  - {name: trades, kind: candles, batch_size: 10}`,
		"order book without levels": `
streams:
  - {name: l2, kind: order_book, batch_size: 10}`,
		"duplicate stream": `
streams:
  - {name: trades, kind: trades, batch_size: 10}
  - {name: trades, kind: trades, batch_size: 10}`,
		"bad backend": `
log: {backend: sqlite}
streams:
  - {name: trades, kind: trades, batch_size: 10}`,
		"mirror without brokers": `
sink: {mirror_to_kafka: true}
streams:
  - {name: trades, kind: trades, batch_size: 10}`,
		"book without depth": `
book: {enabled: true, stream: l2, depth_percent: 0}
streams:
  - {name: trades, kind: trades, batch_size: 10}`,
		"postgres without dsn": `
sink: {type: postgres}
streams:
  - {name: trades, kind: trades, batch_size: 10}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	_, err := Parse([]byte(`
http: {addr: ""}
streams:
  - {name: trades, kind: trades, batch_size: 0, throttle_interval: -1s}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size must be > 0")
	assert.Contains(t, err.Error(), "throttle_interval must be >= 0")
	assert.Contains(t, err.Error(), "http.addr is required")
}

func TestParse_ExampleConfig(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "configs", "tickvault.yaml"))
	require.NoError(t, err)
	_, err = Parse(data)
	assert.NoError(t, err)
}
