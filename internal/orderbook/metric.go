package orderbook

import (
	"encoding/json"
	"math"
	"strconv"
)

// Metric is a derived liquidity quantity that may be undefined (no quote, empty side,
// insufficient depth). Callers must check Valid or use Get before using the value.
type Metric struct {
	value float64
	ok    bool
}

// Defined wraps v; NaN and infinities become undefined.
func Defined(v float64) Metric {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Metric{}
	}
	return Metric{value: v, ok: true}
}

// Undefined returns the empty Metric.
func Undefined() Metric { return Metric{} }

func (m Metric) Get() (float64, bool) { return m.value, m.ok }

func (m Metric) Valid() bool { return m.ok }

// Or returns the value, or def when undefined.
func (m Metric) Or(def float64) float64 {
	if !m.ok {
		return def
	}
	return m.value
}

func (m Metric) String() string {
	if !m.ok {
		return "undefined"
	}
	return strconv.FormatFloat(m.value, 'f', -1, 64)
}

// MarshalJSON encodes an undefined metric as null.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.ok {
		return []byte("null"), nil
	}
	return json.Marshal(m.value)
}

func (m *Metric) UnmarshalJSON(b []byte) error {
	var v *float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		*m = Metric{}
		return nil
	}
	*m = Defined(*v)
	return nil
}
