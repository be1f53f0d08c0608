// Package streams knows the record layouts of the market data streams: how each stream's
// raw log fields map onto sink rows, and how order-book records decode into snapshots.
package streams

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind is the type a raw field is converted to.
type Kind int

const (
	String Kind = iota
	Decimal
	Integer
)

// Field describes one mapped column.
type Field struct {
	Name string
	Kind Kind
}

// unquote strips the JSON encoding producers apply to each value. Values that are not
// valid JSON are returned unchanged.
func unquote(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return s
		}
	}
	return raw
}

func parseDecimal(raw string) (decimal.Decimal, bool) {
	s := unquote(raw)
	if s == "" || s == "null" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

var (
	minInt64 = decimal.NewFromInt(math.MinInt64)
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
)

// convert returns nil when the field is absent or cannot be parsed as kind.
func convert(raw string, present bool, kind Kind) any {
	if !present {
		return nil
	}
	switch kind {
	case Decimal:
		d, ok := parseDecimal(raw)
		if !ok {
			return nil
		}
		return finite(d.InexactFloat64())
	case Integer:
		d, ok := parseDecimal(raw)
		if !ok || !d.IsInteger() || d.Cmp(minInt64) < 0 || d.Cmp(maxInt64) > 0 {
			return nil
		}
		return d.IntPart()
	default:
		s := unquote(raw)
		if s == "null" {
			return nil
		}
		return s
	}
}

// finite maps values outside the float64 range to nil; JSON sinks cannot encode them.
func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// Float parses a raw field as a number; absent or malformed values are NaN.
func Float(fields map[string]string, name string) float64 {
	raw, ok := fields[name]
	if !ok {
		return math.NaN()
	}
	d, ok := parseDecimal(raw)
	if !ok {
		return math.NaN()
	}
	return d.InexactFloat64()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "null"
	}
	return decimal.NewFromFloat(v).String()
}
