package streams

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tickvault/internal/orderbook"
	"github.com/sawpanic/tickvault/internal/streamlog"
)

func TestDecodeSnapshot(t *testing.T) {
	snap := DecodeSnapshot(streamlog.Entry{Fields: map[string]string{
		"ask_price_0":  "101",
		"ask_amount_0": `"1.5"`,
		"ask_price_1":  "102",
		"ask_amount_1": "2",
		"ask_price_3":  "104", // gap: ignored
		"bid_price_0":  "99",
		"bid_amount_0": "4",
	}})
	require.Len(t, snap.Asks, 2)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, orderbook.Level{Price: 101, Size: 1.5}, snap.Asks[0])
	assert.Equal(t, orderbook.Level{Price: 99, Size: 4}, snap.Bids[0])
}

func TestDecodeSnapshot_BadValuesAreNaN(t *testing.T) {
	snap := DecodeSnapshot(streamlog.Entry{Fields: map[string]string{
		"ask_price_0": "oops",
	}})
	require.Len(t, snap.Asks, 1)
	assert.True(t, math.IsNaN(snap.Asks[0].Price))
	assert.True(t, math.IsNaN(snap.Asks[0].Size))

	r, err := orderbook.New(1)
	require.NoError(t, err)
	r.Update(snap)
	assert.False(t, r.BestAsk().Valid())
}

func TestEncodeSnapshot_RoundTrip(t *testing.T) {
	in := orderbook.Snapshot{
		Asks: []orderbook.Level{{Price: 101.25, Size: 1}, {Price: 102, Size: 0.3}},
		Bids: []orderbook.Level{{Price: 99.75, Size: 2}},
	}
	fields := EncodeSnapshot(in, map[string]string{"symbol": `"BTC-USDT"`})
	assert.Equal(t, `"BTC-USDT"`, fields["symbol"])
	assert.Equal(t, in, DecodeSnapshot(streamlog.Entry{Fields: fields}))
}
