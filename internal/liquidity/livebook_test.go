package liquidity

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tickvault/internal/orderbook"
	"github.com/sawpanic/tickvault/internal/streamlog"
	"github.com/sawpanic/tickvault/internal/streams"
)

const bookStream = "book:BTC-USDT"

func openLog(t *testing.T) *streamlog.PebbleLog {
	t.Helper()
	l, err := streamlog.OpenPebbleLog(streamlog.PebbleConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func snapshot(bid, ask float64) orderbook.Snapshot {
	return orderbook.Snapshot{
		Asks: []orderbook.Level{{Price: ask, Size: 1}, {Price: ask + 1, Size: 2}},
		Bids: []orderbook.Level{{Price: bid, Size: 3}, {Price: bid - 1, Size: 1}},
	}
}

func TestRefresh(t *testing.T) {
	l := openLog(t)
	reg := prometheus.NewRegistry()
	b, err := New(Config{Stream: bookStream, DepthPercent: 5, VWSizesUSD: []float64{100}}, l, NewGauges(reg))
	require.NoError(t, err)
	ctx := context.Background()

	changed, err := b.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "empty stream leaves the book as is")
	assert.False(t, b.View().Mid.Valid())

	_, err = l.Append(ctx, bookStream, streams.EncodeSnapshot(snapshot(90, 110), nil))
	require.NoError(t, err)
	key, err := l.Append(ctx, bookStream, streams.EncodeSnapshot(snapshot(99, 101), nil))
	require.NoError(t, err)

	changed, err = b.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	v := b.View()
	assert.Equal(t, key, v.Key)
	assert.Equal(t, 100.0, v.Mid.Or(0))
	assert.Equal(t, 2.0, v.SpreadAbs.Or(0))
	assert.Equal(t, 7.0, v.TotalVolume.Or(0))
	require.Len(t, v.Sizes, 1)
	assert.True(t, v.Sizes[0].Mid.Valid())

	changed, err = b.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "same record is not applied twice")

	var m dto.Metric
	require.NoError(t, b.gauges.book.WithLabelValues(bookStream, "mid").Write(&m))
	assert.Equal(t, 100.0, m.GetGauge().GetValue())
}

func TestApply_UndefinedMetricsAreRemovedFromGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	b, err := New(Config{Stream: bookStream, DepthPercent: 5}, nil, NewGauges(reg))
	require.NoError(t, err)

	b.Apply("1", snapshot(99, 101))
	b.Apply("2", orderbook.Snapshot{Asks: []orderbook.Level{{Price: 101, Size: 1}}})

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "metric" {
					assert.NotEqual(t, "mid", lp.GetValue())
					assert.NotEqual(t, "best_bid", lp.GetValue())
				}
			}
		}
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Stream: bookStream, DepthPercent: 0}, nil, nil)
	assert.ErrorIs(t, err, orderbook.ErrInvalidConfig)
	_, err = New(Config{DepthPercent: 1}, nil, nil)
	assert.ErrorIs(t, err, orderbook.ErrInvalidConfig)
	_, err = New(Config{Stream: bookStream, DepthPercent: 1, VWSizesUSD: []float64{-5}}, nil, nil)
	assert.ErrorIs(t, err, orderbook.ErrInvalidConfig)
}

func TestVWAPAndDepth(t *testing.T) {
	b, err := New(Config{Stream: bookStream, DepthPercent: 50}, nil, nil)
	require.NoError(t, err)
	b.Apply("1", snapshot(99, 101))

	assert.Equal(t, 101.0, b.VWAP(orderbook.Ask, 1, true).Or(0))
	assert.False(t, b.VWAP(orderbook.Ask, 10, true).Valid())

	ch, cancel := b.Subscribe()
	defer cancel()

	require.NoError(t, b.SetDepth(0.5))
	v := b.View()
	assert.Equal(t, 0.5, v.DepthPercent)
	// both tops lie outside 99.5..100.5, so each side keeps only its top level
	assert.Len(t, v.Asks, 1)
	assert.Len(t, v.Bids, 1)
	select {
	case pushed := <-ch:
		assert.Equal(t, 0.5, pushed.DepthPercent)
	default:
		t.Fatal("depth change was not published")
	}

	assert.Error(t, b.SetDepth(-1))
	assert.Equal(t, 0.5, b.View().DepthPercent)
}

func TestSetDepth_UpdatesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	b, err := New(Config{Stream: bookStream, DepthPercent: 50}, nil, NewGauges(reg))
	require.NoError(t, err)
	b.Apply("1", snapshot(99, 101))

	var m dto.Metric
	require.NoError(t, b.gauges.book.WithLabelValues(bookStream, "total_ask_size").Write(&m))
	assert.Equal(t, 3.0, m.GetGauge().GetValue())

	require.NoError(t, b.SetDepth(0.5))
	require.NoError(t, b.gauges.book.WithLabelValues(bookStream, "total_ask_size").Write(&m))
	assert.Equal(t, 1.0, m.GetGauge().GetValue())
}

func TestSubscribe(t *testing.T) {
	b, err := New(Config{Stream: bookStream, DepthPercent: 5}, nil, nil)
	require.NoError(t, err)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Apply("1", snapshot(99, 101))
	b.Apply("2", snapshot(98, 102))

	select {
	case v := <-ch:
		assert.Equal(t, "2", v.Key, "slow subscribers get the latest view")
	case <-time.After(time.Second):
		t.Fatal("no view published")
	}

	cancel()
	b.Apply("3", snapshot(99, 101))
	select {
	case <-ch:
		t.Fatal("cancelled subscription received a view")
	default:
	}
}
