// Package liquidity keeps a live, depth-bounded order book built from the newest snapshot of
// an order book stream and exposes its liquidity metrics to readers.
package liquidity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tickvault/internal/orderbook"
	"github.com/sawpanic/tickvault/internal/streamlog"
	"github.com/sawpanic/tickvault/internal/streams"
)

// Config selects the stream and the metrics computed for each refresh.
type Config struct {
	Stream       string
	DepthPercent float64
	VWSizesUSD   []float64
}

// SizeView holds the volume weighted metrics for one notional size.
type SizeView struct {
	SizeUSD   float64          `json:"size_usd"`
	Mid       orderbook.Metric `json:"vw_mid"`
	SpreadAbs orderbook.Metric `json:"vw_spread_abs"`
	SpreadBps orderbook.Metric `json:"vw_spread_bps"`
}

// View is an immutable rendering of the live book.
type View struct {
	Stream        string            `json:"stream"`
	Key           string            `json:"key,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
	DepthPercent  float64           `json:"depth_percent"`
	BestBid       orderbook.Metric  `json:"best_bid"`
	BestAsk       orderbook.Metric  `json:"best_ask"`
	Mid           orderbook.Metric  `json:"mid"`
	SpreadAbs     orderbook.Metric  `json:"spread_abs"`
	SpreadBps     orderbook.Metric  `json:"spread_bps"`
	TotalBidSize  orderbook.Metric  `json:"total_bid_size"`
	TotalAskSize  orderbook.Metric  `json:"total_ask_size"`
	TotalVolume   orderbook.Metric  `json:"total_volume"`
	BidDispersion orderbook.Metric  `json:"bid_dispersion"`
	AskDispersion orderbook.Metric  `json:"ask_dispersion"`
	Sizes         []SizeView        `json:"sizes"`
	Bids          []orderbook.Level `json:"bids"`
	Asks          []orderbook.Level `json:"asks"`
}

// LiveBook wraps a Reconstructor with a single writer and any number of readers.
type LiveBook struct {
	cfg    Config
	log    streamlog.Log
	gauges *Gauges
	now    func() time.Time

	mu        sync.RWMutex
	rec       *orderbook.Reconstructor
	snap      orderbook.Snapshot
	key       string
	updatedAt time.Time

	subMu sync.Mutex
	subs  map[chan View]struct{}
}

// New returns a LiveBook over stream l. gauges may be nil.
func New(cfg Config, l streamlog.Log, gauges *Gauges) (*LiveBook, error) {
	rec, err := orderbook.New(cfg.DepthPercent)
	if err != nil {
		return nil, err
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("%w: book stream is required", orderbook.ErrInvalidConfig)
	}
	for _, s := range cfg.VWSizesUSD {
		if !(s > 0) {
			return nil, fmt.Errorf("%w: volume weighted size must be > 0, got %v", orderbook.ErrInvalidConfig, s)
		}
	}
	return &LiveBook{
		cfg:    cfg,
		log:    l,
		gauges: gauges,
		now:    time.Now,
		rec:    rec,
		subs:   make(map[chan View]struct{}),
	}, nil
}

func (b *LiveBook) Name() string { return "book:" + b.cfg.Stream }

// RunOnce refreshes the book; it satisfies the scheduler's job contract.
func (b *LiveBook) RunOnce(ctx context.Context) error {
	_, err := b.Refresh(ctx)
	if err != nil {
		log.Error().Err(err).Str("stream", b.cfg.Stream).Msg("book refresh failed")
	}
	return err
}

// Refresh rebuilds the book from the newest record. It reports false when the stream is
// empty or the newest record was already applied; the previous view stays in place.
func (b *LiveBook) Refresh(ctx context.Context) (bool, error) {
	e, ok, err := streamlog.Newest(ctx, b.log, b.cfg.Stream)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	b.mu.RLock()
	seen := e.Key == b.key
	b.mu.RUnlock()
	if seen {
		return false, nil
	}
	b.Apply(e.Key, streams.DecodeSnapshot(e))
	return true, nil
}

// Apply replaces the book with s.
func (b *LiveBook) Apply(key string, s orderbook.Snapshot) {
	b.mu.Lock()
	b.rec.Update(s)
	b.snap = s
	b.key = key
	b.updatedAt = b.now()
	v := b.viewLocked()
	b.mu.Unlock()

	b.emit(v)
}

// SetDepth changes the depth band and rebuilds the book from the last applied snapshot.
func (b *LiveBook) SetDepth(depthPercent float64) error {
	b.mu.Lock()
	if err := b.rec.UpdateDepth(b.snap, depthPercent); err != nil {
		b.mu.Unlock()
		return err
	}
	b.cfg.DepthPercent = depthPercent
	b.updatedAt = b.now()
	v := b.viewLocked()
	b.mu.Unlock()

	b.emit(v)
	return nil
}

func (b *LiveBook) emit(v View) {
	if b.gauges != nil {
		b.gauges.observe(v)
	}
	b.publish(v)
}

// View renders the current state.
func (b *LiveBook) View() View {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.viewLocked()
}

func (b *LiveBook) viewLocked() View {
	book := b.rec.Book()
	v := View{
		Stream:        b.cfg.Stream,
		Key:           b.key,
		UpdatedAt:     b.updatedAt,
		DepthPercent:  b.rec.DepthPercent(),
		BestBid:       book.BestBid,
		BestAsk:       book.BestAsk,
		Mid:           book.Mid,
		SpreadAbs:     book.SpreadAbs,
		SpreadBps:     book.SpreadBps,
		TotalBidSize:  book.TotalBidSize,
		TotalAskSize:  book.TotalAskSize,
		TotalVolume:   b.rec.TotalVolume(),
		BidDispersion: b.rec.BidDispersion(),
		AskDispersion: b.rec.AskDispersion(),
		Bids:          book.Bids,
		Asks:          book.Asks,
	}
	for _, size := range b.cfg.VWSizesUSD {
		v.Sizes = append(v.Sizes, SizeView{
			SizeUSD:   size,
			Mid:       b.rec.VWMid(size),
			SpreadAbs: b.rec.VWSpreadAbs(size),
			SpreadBps: b.rec.VWSpreadBps(size),
		})
	}
	return v
}

// VWAP prices a base-unit size against one side of the live book.
func (b *LiveBook) VWAP(side orderbook.Side, size float64, requireFullFill bool) orderbook.Metric {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rec.SideVWAP(side, size, requireFullFill)
}

// Subscribe returns a channel receiving every new view. Slow subscribers only see the
// latest one. cancel must be called to release the subscription.
func (b *LiveBook) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	b.subMu.Lock()
	b.subs[ch] = struct{}{}
	b.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, ch)
			b.subMu.Unlock()
		})
	}
}

func (b *LiveBook) publish(v View) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Gauges exports the live book metrics.
type Gauges struct {
	book *prometheus.GaugeVec
	vw   *prometheus.GaugeVec
}

// NewGauges registers the book gauges on reg.
func NewGauges(reg prometheus.Registerer) *Gauges {
	g := &Gauges{
		book: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickvault_book_metric",
				Help: "Live order book metrics; absent while undefined",
			},
			[]string{"stream", "metric"},
		),
		vw: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickvault_book_vw_metric",
				Help: "Volume weighted order book metrics by notional size",
			},
			[]string{"stream", "metric", "size_usd"},
		),
	}
	reg.MustRegister(g.book, g.vw)
	return g
}

func (g *Gauges) observe(v View) {
	set := func(name string, m orderbook.Metric) {
		if x, ok := m.Get(); ok {
			g.book.WithLabelValues(v.Stream, name).Set(x)
			return
		}
		g.book.DeleteLabelValues(v.Stream, name)
	}
	set("best_bid", v.BestBid)
	set("best_ask", v.BestAsk)
	set("mid", v.Mid)
	set("spread_abs", v.SpreadAbs)
	set("spread_bps", v.SpreadBps)
	set("total_bid_size", v.TotalBidSize)
	set("total_ask_size", v.TotalAskSize)
	set("bid_dispersion", v.BidDispersion)
	set("ask_dispersion", v.AskDispersion)

	for _, s := range v.Sizes {
		size := fmt.Sprint(s.SizeUSD)
		for name, m := range map[string]orderbook.Metric{
			"vw_mid":        s.Mid,
			"vw_spread_abs": s.SpreadAbs,
			"vw_spread_bps": s.SpreadBps,
		} {
			if x, ok := m.Get(); ok {
				g.vw.WithLabelValues(v.Stream, name, size).Set(x)
			} else {
				g.vw.DeleteLabelValues(v.Stream, name, size)
			}
		}
	}
}
