// Package orderbook reconstructs a depth-bounded view of a two-sided L2 order book from
// snapshots and answers liquidity queries against it: mid, spread, size-weighted
// execution prices and level dispersion.
package orderbook

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned for a non-positive depth band.
var ErrInvalidConfig = errors.New("orderbook: invalid configuration")

// Side selects one half of the book.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// ParseSide accepts "bid" and "ask", and also "sell" and "buy" naming the side a market
// order of that direction executes against.
func ParseSide(s string) (Side, error) {
	switch s {
	case "bid", "bids", "sell":
		return Bid, nil
	case "ask", "asks", "buy":
		return Ask, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

// Level is one price level.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Snapshot is a full L2 book: asks ascending by price, bids descending.
type Snapshot struct {
	Asks []Level `json:"asks"`
	Bids []Level `json:"bids"`
}

// Book is the reconstructed state derived from the latest snapshot.
type Book struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`

	BestBid      Metric `json:"best_bid"`
	BestAsk      Metric `json:"best_ask"`
	Mid          Metric `json:"mid"`
	SpreadAbs    Metric `json:"spread_abs"`
	SpreadBps    Metric `json:"spread_bps"`
	TotalBidSize Metric `json:"total_bid_size"`
	TotalAskSize Metric `json:"total_ask_size"`
}

// Reconstructor holds one Book and replaces it wholesale on every Update. It is not safe
// for concurrent use: Update must be serialized and must not overlap with queries.
type Reconstructor struct {
	depthPercent float64
	book         Book
}

// New returns a Reconstructor keeping levels within depthPercent of the mid.
func New(depthPercent float64) (*Reconstructor, error) {
	if err := validDepth(depthPercent); err != nil {
		return nil, err
	}
	return &Reconstructor{depthPercent: depthPercent}, nil
}

func validDepth(d float64) error {
	if !(d > 0) || math.IsInf(d, 0) {
		return fmt.Errorf("%w: depth percent must be > 0, got %v", ErrInvalidConfig, d)
	}
	return nil
}

func (r *Reconstructor) DepthPercent() float64 { return r.depthPercent }

// UpdateDepth changes the depth band and rebuilds from s.
func (r *Reconstructor) UpdateDepth(s Snapshot, depthPercent float64) error {
	if err := validDepth(depthPercent); err != nil {
		return err
	}
	r.depthPercent = depthPercent
	r.Update(s)
	return nil
}

// Update rebuilds the book from s.
//
// The band is anchored on the raw mid of the unfiltered tops. Each side is walked from the
// top and the first level beyond the band is still kept before the walk stops, so the top
// of book is always retained. When one side is empty there is no mid to anchor on and the
// other side is kept whole.
func (r *Reconstructor) Update(s Snapshot) {
	rawMid := Undefined()
	if len(s.Asks) > 0 && len(s.Bids) > 0 {
		rawMid = Defined((s.Asks[0].Price + s.Bids[0].Price) / 2)
	}

	var b Book
	mid, haveMid := rawMid.Get()
	askBound := mid * (1 + r.depthPercent/100)
	bidBound := mid * (1 - r.depthPercent/100)

	for _, l := range s.Asks {
		b.Asks = append(b.Asks, l)
		if haveMid && l.Price > askBound {
			break
		}
	}
	for _, l := range s.Bids {
		b.Bids = append(b.Bids, l)
		if haveMid && l.Price < bidBound {
			break
		}
	}

	b.TotalBidSize = totalSize(b.Bids)
	b.TotalAskSize = totalSize(b.Asks)
	if len(b.Bids) > 0 {
		b.BestBid = Defined(b.Bids[0].Price)
	}
	if len(b.Asks) > 0 {
		b.BestAsk = Defined(b.Asks[0].Price)
	}

	bid, bidOK := b.BestBid.Get()
	ask, askOK := b.BestAsk.Get()
	if bidOK && askOK {
		b.Mid = Defined(0.5 * (bid + ask))
		// zero is the "no quote" placeholder some feeds emit
		if bid != 0 && ask != 0 {
			b.SpreadAbs = Defined(ask - bid)
		}
	}
	b.SpreadBps = bps(b.SpreadAbs, b.Mid)

	r.book = b
}

func totalSize(levels []Level) Metric {
	if len(levels) == 0 {
		return Undefined()
	}
	var sum float64
	for _, l := range levels {
		sum += l.Size
	}
	return Defined(sum)
}

func bps(abs, mid Metric) Metric {
	a, aOK := abs.Get()
	m, mOK := mid.Get()
	if !aOK || !mOK || m == 0 {
		return Undefined()
	}
	return Defined(a / m * 10000)
}

// Book returns a copy of the current reconstructed state.
func (r *Reconstructor) Book() Book {
	b := r.book
	b.Bids = append([]Level(nil), r.book.Bids...)
	b.Asks = append([]Level(nil), r.book.Asks...)
	return b
}

func (r *Reconstructor) Mid() Metric       { return r.book.Mid }
func (r *Reconstructor) BestBid() Metric   { return r.book.BestBid }
func (r *Reconstructor) BestAsk() Metric   { return r.book.BestAsk }
func (r *Reconstructor) SpreadAbs() Metric { return r.book.SpreadAbs }
func (r *Reconstructor) SpreadBps() Metric { return r.book.SpreadBps }

func (r *Reconstructor) TotalSize(side Side) Metric {
	if side == Bid {
		return r.book.TotalBidSize
	}
	return r.book.TotalAskSize
}

// TotalVolume is the retained size of both sides.
func (r *Reconstructor) TotalVolume() Metric {
	b, bOK := r.book.TotalBidSize.Get()
	a, aOK := r.book.TotalAskSize.Get()
	if !bOK || !aOK {
		return Undefined()
	}
	return Defined(a + b)
}

func (r *Reconstructor) levels(side Side) []Level {
	if side == Bid {
		return r.book.Bids
	}
	return r.book.Asks
}
