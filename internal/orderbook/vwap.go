package orderbook

import "math"

// SideVWAP walks side from the best level and returns the average price paid for
// targetSize, weighting each level by the size actually taken from it. If the retained
// depth cannot fill targetSize the result is undefined when requireFullFill is set,
// otherwise it is the average over what could be filled.
func (r *Reconstructor) SideVWAP(side Side, targetSize float64, requireFullFill bool) Metric {
	levels := r.levels(side)
	if len(levels) == 0 || !(targetSize > 0) || math.IsInf(targetSize, 0) {
		return Undefined()
	}

	var filled, notional float64
	for _, l := range levels {
		remaining := targetSize - filled
		if l.Size >= remaining {
			notional += remaining * l.Price
			filled = targetSize
			break
		}
		if l.Size > 0 {
			notional += l.Size * l.Price
			filled += l.Size
		}
	}

	if filled < targetSize && requireFullFill {
		return Undefined()
	}
	if filled == 0 {
		return Undefined()
	}
	return Defined(notional / filled)
}

// baseSize converts a quote-currency size into base units at the current mid.
func (r *Reconstructor) baseSize(sizeUSD float64) (float64, bool) {
	mid, ok := r.book.Mid.Get()
	if !ok || mid == 0 {
		return 0, false
	}
	return sizeUSD / mid, true
}

// VWSpreadAbs is the gap between the executable ask and bid VWAPs for sizeUSD of notional.
func (r *Reconstructor) VWSpreadAbs(sizeUSD float64) Metric {
	size, ok := r.baseSize(sizeUSD)
	if !ok {
		return Undefined()
	}
	bid, bidOK := r.SideVWAP(Bid, size, true).Get()
	ask, askOK := r.SideVWAP(Ask, size, true).Get()
	if !bidOK || !askOK {
		return Undefined()
	}
	return Defined(ask - bid)
}

func (r *Reconstructor) VWSpreadBps(sizeUSD float64) Metric {
	return bps(r.VWSpreadAbs(sizeUSD), r.book.Mid)
}

// VWMid averages the bid and ask VWAPs for sizeUSD, each allowed to fill partially. Both
// legs carry the same weight, so this is an approximation rather than a flow-weighted mid.
func (r *Reconstructor) VWMid(sizeUSD float64) Metric {
	size, ok := r.baseSize(sizeUSD)
	if !ok {
		return Undefined()
	}
	bid, bidOK := r.SideVWAP(Bid, size, false).Get()
	ask, askOK := r.SideVWAP(Ask, size, false).Get()
	if !bidOK || !askOK {
		return Undefined()
	}
	return Defined((bid*sizeUSD + ask*sizeUSD) / (2 * sizeUSD))
}

func (r *Reconstructor) BidDispersion() Metric { return dispersion(r.book.Bids) }
func (r *Reconstructor) AskDispersion() Metric { return dispersion(r.book.Asks) }

// dispersion is the population standard deviation of each level's share of the side's
// total size. High values mean liquidity is concentrated in a few levels.
func dispersion(levels []Level) Metric {
	total, ok := totalSize(levels).Get()
	if !ok || total == 0 {
		return Undefined()
	}
	n := float64(len(levels))
	mean := 1 / n
	var ss float64
	for _, l := range levels {
		d := l.Size/total - mean
		ss += d * d
	}
	return Defined(math.Sqrt(ss / n))
}
