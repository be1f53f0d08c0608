package streams

import (
	"fmt"

	"github.com/sawpanic/tickvault/internal/orderbook"
	"github.com/sawpanic/tickvault/internal/streamlog"
)

// DecodeSnapshot reads the flattened level fields of an order book record
// (ask_price_0, ask_amount_0, ...). Each side ends at the first missing price; values that
// do not parse become NaN so the reconstructor reports the affected metrics as undefined.
func DecodeSnapshot(e streamlog.Entry) orderbook.Snapshot {
	return orderbook.Snapshot{
		Asks: decodeSide(e.Fields, "ask"),
		Bids: decodeSide(e.Fields, "bid"),
	}
}

func decodeSide(fields map[string]string, prefix string) []orderbook.Level {
	var out []orderbook.Level
	for i := 0; ; i++ {
		priceKey := fmt.Sprintf("%s_price_%d", prefix, i)
		if _, ok := fields[priceKey]; !ok {
			return out
		}
		out = append(out, orderbook.Level{
			Price: Float(fields, priceKey),
			Size:  Float(fields, fmt.Sprintf("%s_amount_%d", prefix, i)),
		})
	}
}

// EncodeSnapshot flattens a snapshot into order book record fields, JSON encoding each
// value the way feed producers do. It is the inverse of DecodeSnapshot.
func EncodeSnapshot(s orderbook.Snapshot, header map[string]string) map[string]string {
	fields := make(map[string]string, len(header)+2*(len(s.Asks)+len(s.Bids)))
	for k, v := range header {
		fields[k] = v
	}
	for i, l := range s.Asks {
		fields[fmt.Sprintf("ask_price_%d", i)] = formatFloat(l.Price)
		fields[fmt.Sprintf("ask_amount_%d", i)] = formatFloat(l.Size)
	}
	for i, l := range s.Bids {
		fields[fmt.Sprintf("bid_price_%d", i)] = formatFloat(l.Price)
		fields[fmt.Sprintf("bid_amount_%d", i)] = formatFloat(l.Size)
	}
	return fields
}
