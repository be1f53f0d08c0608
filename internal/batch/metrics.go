package batch

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the per-stream collectors of every processor sharing a registry.
type Metrics struct {
	Ticks         *prometheus.CounterVec
	Drained       *prometheus.CounterVec
	RowsWritten   *prometheus.CounterVec
	KeysPurged    *prometheus.CounterVec
	FlushFailures *prometheus.CounterVec
	MissingFields *prometheus.CounterVec
	StreamLength  *prometheus.GaugeVec
	FlushDuration *prometheus.HistogramVec
}

// NewMetrics creates the batch collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickvault_batch_ticks_total",
				Help: "Processor ticks by stream and outcome",
			},
			[]string{"stream", "outcome"},
		),
		Drained: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickvault_batch_records_drained_total",
				Help: "Records read from the log",
			},
			[]string{"stream"},
		),
		RowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickvault_batch_rows_written_total",
				Help: "Rows durably written to the sink",
			},
			[]string{"stream"},
		),
		KeysPurged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickvault_batch_keys_purged_total",
				Help: "Log keys deleted after a successful write",
			},
			[]string{"stream"},
		),
		FlushFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickvault_batch_flush_failures_total",
				Help: "Sink writes that failed",
			},
			[]string{"stream"},
		),
		MissingFields: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickvault_batch_missing_fields_total",
				Help: "Mapped fields that were absent or malformed",
			},
			[]string{"stream"},
		),
		StreamLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickvault_stream_length",
				Help: "Log length observed at the start of the last drain",
			},
			[]string{"stream"},
		),
		FlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tickvault_batch_flush_duration_seconds",
				Help:    "Duration of sink writes",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"stream"},
		),
	}
	reg.MustRegister(m.Ticks, m.Drained, m.RowsWritten, m.KeysPurged,
		m.FlushFailures, m.MissingFields, m.StreamLength, m.FlushDuration)
	return m
}
