package orderbook

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func levels(pairs ...float64) []Level {
	out := make([]Level, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Level{Price: pairs[i], Size: pairs[i+1]})
	}
	return out
}

func prices(ls []Level) []float64 {
	out := make([]float64, len(ls))
	for i, l := range ls {
		out[i] = l.Price
	}
	return out
}

func mustNew(t *testing.T, depth float64) *Reconstructor {
	t.Helper()
	r, err := New(depth)
	require.NoError(t, err)
	return r
}

func TestNew_RejectsNonPositiveDepth(t *testing.T) {
	for _, d := range []float64{0, -1, math.NaN()} {
		_, err := New(d)
		assert.ErrorIs(t, err, ErrInvalidConfig, "depth %v", d)
	}
}

func TestUpdate_DepthFilterIncludesBreachingLevel(t *testing.T) {
	r := mustNew(t, 4)
	// raw mid = (100 + 100) / 2 = 100, bid threshold 96
	r.Update(Snapshot{
		Asks: levels(100, 1, 101, 1, 105, 1, 110, 1),
		Bids: levels(100, 1, 99, 1, 95, 1, 90, 1),
	})
	book := r.Book()
	assert.Equal(t, []float64{100, 99, 95}, prices(book.Bids))
	// ask threshold 104: 105 breaches and is the last one kept
	assert.Equal(t, []float64{100, 101, 105}, prices(book.Asks))
}

func TestUpdate_TopOfBookAlwaysRetained(t *testing.T) {
	r := mustNew(t, 0.01)
	r.Update(Snapshot{
		Asks: levels(200, 2, 201, 3),
		Bids: levels(100, 4, 99, 5),
	})
	book := r.Book()
	assert.Equal(t, []float64{200}, prices(book.Asks))
	assert.Equal(t, []float64{100}, prices(book.Bids))
	assert.Equal(t, 4.0, book.TotalBidSize.Or(0))
	assert.Equal(t, 2.0, book.TotalAskSize.Or(0))
}

func TestUpdate_DerivedFields(t *testing.T) {
	r := mustNew(t, 10)
	r.Update(Snapshot{
		Asks: levels(101, 2, 102, 3),
		Bids: levels(99, 1, 98, 4),
	})

	mid, ok := r.Mid().Get()
	require.True(t, ok)
	assert.Equal(t, 100.0, mid)
	assert.Equal(t, 2.0, r.SpreadAbs().Or(0))
	assert.InDelta(t, 200.0, r.SpreadBps().Or(0), 1e-9)
	assert.Equal(t, 5.0, r.TotalSize(Bid).Or(0))
	assert.Equal(t, 5.0, r.TotalSize(Ask).Or(0))
	assert.Equal(t, 10.0, r.TotalVolume().Or(0))
	assert.Equal(t, 99.0, r.BestBid().Or(0))
	assert.Equal(t, 101.0, r.BestAsk().Or(0))
}

func TestUpdate_ZeroQuoteGuard(t *testing.T) {
	r := mustNew(t, 5)
	r.Update(Snapshot{
		Asks: levels(101, 1),
		Bids: levels(0, 1),
	})
	assert.False(t, r.SpreadAbs().Valid())
	assert.False(t, r.SpreadBps().Valid())
	assert.True(t, r.BestBid().Valid())
}

func TestUpdate_EmptySide(t *testing.T) {
	r := mustNew(t, 1)
	r.Update(Snapshot{Asks: levels(101, 1, 150, 1, 200, 1)})

	assert.False(t, r.BestBid().Valid())
	assert.False(t, r.TotalSize(Bid).Valid())
	assert.False(t, r.Mid().Valid())
	assert.False(t, r.SpreadAbs().Valid())
	assert.False(t, r.SpreadBps().Valid())
	assert.False(t, r.BidDispersion().Valid())
	assert.False(t, r.SideVWAP(Bid, 1, false).Valid())
	assert.False(t, r.VWMid(1000).Valid())

	// no mid to anchor the band, so the ask side stays whole
	assert.Len(t, r.Book().Asks, 3)
	assert.True(t, r.AskDispersion().Valid())
}

func TestUpdate_NaNPricesAreUndefined(t *testing.T) {
	r := mustNew(t, 1)
	r.Update(Snapshot{
		Asks: levels(math.NaN(), 1),
		Bids: levels(99, 1),
	})
	assert.False(t, r.BestAsk().Valid())
	assert.False(t, r.Mid().Valid())
	assert.False(t, r.SpreadBps().Valid())
}

func TestUpdate_ReplacesWholesale(t *testing.T) {
	r := mustNew(t, 5)
	r.Update(Snapshot{Asks: levels(101, 1), Bids: levels(99, 1)})
	require.True(t, r.Mid().Valid())

	r.Update(Snapshot{})
	assert.False(t, r.Mid().Valid())
	assert.Empty(t, r.Book().Asks)
}

func TestUpdateDepth(t *testing.T) {
	r := mustNew(t, 5)
	snap := Snapshot{Asks: levels(101, 1, 103, 1, 110, 1), Bids: levels(99, 1)}
	require.NoError(t, r.UpdateDepth(snap, 1))
	assert.Equal(t, 1.0, r.DepthPercent())
	assert.Equal(t, []float64{101, 103}, prices(r.Book().Asks))

	assert.ErrorIs(t, r.UpdateDepth(snap, 0), ErrInvalidConfig)
	assert.Equal(t, 1.0, r.DepthPercent())
}

func TestBook_IsACopy(t *testing.T) {
	r := mustNew(t, 5)
	r.Update(Snapshot{Asks: levels(101, 1), Bids: levels(99, 1)})
	b := r.Book()
	b.Asks[0].Price = 1
	assert.Equal(t, 101.0, r.Book().Asks[0].Price)
}

func TestMetric_JSON(t *testing.T) {
	out, err := json.Marshal(struct {
		A Metric `json:"a"`
		B Metric `json:"b"`
	}{A: Defined(1.5), B: Undefined()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1.5,"b":null}`, string(out))

	var m Metric
	require.NoError(t, json.Unmarshal([]byte("null"), &m))
	assert.False(t, m.Valid())
	require.NoError(t, json.Unmarshal([]byte("2"), &m))
	assert.Equal(t, 2.0, m.Or(0))
	assert.Equal(t, "2", m.String())
	assert.Equal(t, "undefined", Undefined().String())
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide("buy")
	require.NoError(t, err)
	assert.Equal(t, Ask, s)
	s, err = ParseSide("bid")
	require.NoError(t, err)
	assert.Equal(t, Bid, s)
	_, err = ParseSide("mid")
	assert.Error(t, err)
}
