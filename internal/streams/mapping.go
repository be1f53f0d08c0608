package streams

import (
	"fmt"
	"sort"

	"github.com/sawpanic/tickvault/internal/sink"
	"github.com/sawpanic/tickvault/internal/streamlog"
)

const (
	KindTrades    = "trades"
	KindOrderBook = "order_book"
	KindRaw       = "raw"

	// LogKeyColumn carries the source log key so rows rewritten after a retried flush
	// can be de-duplicated downstream.
	LogKeyColumn = "log_key"
)

// Mapper turns one raw log record into a sink row.
type Mapper func(streamlog.Entry) sink.Row

var tradeFields = []Field{
	{"exchange", String},
	{"symbol", String},
	{"side", String},
	{"amount", Decimal},
	{"price", Decimal},
	{"id", String},
	{"type", String},
	{"timestamp", Decimal},
	{"receipt_timestamp", Decimal},
}

var bookHeaderFields = []Field{
	{"exchange", String},
	{"symbol", String},
	{"timestamp", Decimal},
	{"receipt_timestamp", Decimal},
}

// BookFields returns the order book layout for the given number of levels per side.
func BookFields(levels int) []Field {
	fields := append([]Field(nil), bookHeaderFields...)
	for i := 0; i < levels; i++ {
		fields = append(fields,
			Field{fmt.Sprintf("bid_price_%d", i), Decimal},
			Field{fmt.Sprintf("bid_amount_%d", i), Decimal},
			Field{fmt.Sprintf("ask_price_%d", i), Decimal},
			Field{fmt.Sprintf("ask_amount_%d", i), Decimal},
		)
	}
	return fields
}

// NewMapper maps exactly the listed fields; anything else in the record is dropped and
// anything missing or malformed becomes an explicit nil.
func NewMapper(fields []Field) Mapper {
	return func(e streamlog.Entry) sink.Row {
		row := make(sink.Row, len(fields)+1)
		for _, f := range fields {
			raw, ok := e.Fields[f.Name]
			row[f.Name] = convert(raw, ok, f.Kind)
		}
		row[LogKeyColumn] = e.Key
		return row
	}
}

// TradeMapper maps trade records and adds notional = price * amount, computed exactly.
func TradeMapper() Mapper {
	base := NewMapper(tradeFields)
	return func(e streamlog.Entry) sink.Row {
		row := base(e)
		row["notional"] = nil
		price, pOK := parseDecimal(e.Fields["price"])
		amount, aOK := parseDecimal(e.Fields["amount"])
		if pOK && aOK {
			row["notional"] = finite(price.Mul(amount).InexactFloat64())
		}
		return row
	}
}

// RawMapper keeps every field as a string.
func RawMapper() Mapper {
	return func(e streamlog.Entry) sink.Row {
		row := make(sink.Row, len(e.Fields)+1)
		names := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			row[k] = convert(e.Fields[k], true, String)
		}
		row[LogKeyColumn] = e.Key
		return row
	}
}

// MapperFor returns the mapper registered for a stream kind.
func MapperFor(kind string, levels int) (Mapper, error) {
	switch kind {
	case KindTrades:
		return TradeMapper(), nil
	case KindOrderBook:
		if levels <= 0 {
			return nil, fmt.Errorf("order book mapping needs levels > 0, got %d", levels)
		}
		return NewMapper(BookFields(levels)), nil
	case KindRaw:
		return RawMapper(), nil
	}
	return nil, fmt.Errorf("unknown stream kind %q", kind)
}

// MissingFields counts nil values in row.
func MissingFields(row sink.Row) int {
	n := 0
	for _, v := range row {
		if v == nil {
			n++
		}
	}
	return n
}
