// Package report aggregates a backtest's trades and equity curve into
// summary statistics and renders them for people.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// State distinguishes a numeric metric from one that has no finite value.
type State int

const (
	Undefined State = iota
	Finite
	Infinite
)

// Metric is a statistic that may be undefined or infinite. The zero value
// is undefined.
type Metric struct {
	Value float64
	State State
}

// Of returns a finite metric. NaN and negative infinity are undefined and
// positive infinity is infinite.
func Of(v float64) Metric {
	switch {
	case math.IsNaN(v), math.IsInf(v, -1):
		return Metric{}
	case math.IsInf(v, 1):
		return Metric{State: Infinite}
	}
	return Metric{Value: v, State: Finite}
}

// Inf is positive infinity.
func Inf() Metric { return Metric{State: Infinite} }

// Defined reports whether m is finite or infinite.
func (m Metric) Defined() bool { return m.State != Undefined }

// Float returns the metric as a float: NaN when undefined, +Inf when
// infinite.
func (m Metric) Float() float64 {
	switch m.State {
	case Finite:
		return m.Value
	case Infinite:
		return math.Inf(1)
	}
	return math.NaN()
}

// Format renders m with the given decimal places.
func (m Metric) Format(places int32) string {
	switch m.State {
	case Finite:
		return decimal.NewFromFloat(m.Value).StringFixed(places)
	case Infinite:
		return "Inf"
	}
	return "n/a"
}

func (m Metric) String() string { return m.Format(4) }

var infinity = []byte(`"Infinity"`)

// MarshalJSON encodes undefined as null and infinity as "Infinity".
func (m Metric) MarshalJSON() ([]byte, error) {
	switch m.State {
	case Finite:
		return json.Marshal(m.Value)
	case Infinite:
		return infinity, nil
	}
	return []byte("null"), nil
}

func (m *Metric) UnmarshalJSON(b []byte) error {
	switch {
	case bytes.Equal(b, []byte("null")):
		*m = Metric{}
		return nil
	case bytes.Equal(b, infinity):
		*m = Inf()
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("metric: %w", err)
	}
	*m = Metric{Value: v, State: Finite}
	return nil
}
