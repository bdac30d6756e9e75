// Package indicator implements the built-in technical indicators. Every
// function returns a Series aligned index-for-index with its input; indices
// without enough lookback hold an undefined Value, never a numeric
// placeholder. Insufficient history is not an error.
package indicator

import (
	"encoding/json"
	"math"

	"github.com/montanaflynn/stats"
)

// Value is one point of an indicator series.
type Value struct {
	Float float64
	Valid bool
}

// Undefined is the value held where an indicator has no result.
var Undefined = Value{}

// Def returns a defined value.
func Def(f float64) Value { return Value{Float: f, Valid: true} }

// Bool returns a defined 1 or 0.
func Bool(b bool) Value {
	if b {
		return Def(1)
	}
	return Def(0)
}

// Truthy reports whether v is defined and non-zero.
func (v Value) Truthy() bool { return v.Valid && v.Float != 0 }

// MarshalJSON encodes undefined values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Float)
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Undefined
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Def(f)
	return nil
}

// Series is an indicator output aligned with a price series.
type Series []Value

// NewSeries returns an all-undefined series of length n.
func NewSeries(n int) Series { return make(Series, n) }

// FromFloats wraps raw numbers as a fully defined series.
func FromFloats(xs []float64) Series {
	s := make(Series, len(xs))
	for i, x := range xs {
		s[i] = Def(x)
	}
	return s
}

// At returns the value at i, or Undefined when i is out of range.
func (s Series) At(i int) Value {
	if i < 0 || i >= len(s) {
		return Undefined
	}
	return s[i]
}

// Floats returns the raw numbers with undefined entries as NaN, for
// plotting collaborators that want a flat slice.
func (s Series) Floats() []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		if v.Valid {
			out[i] = v.Float
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// CountUndefined returns how many entries are undefined.
func (s Series) CountUndefined() int {
	n := 0
	for _, v := range s {
		if !v.Valid {
			n++
		}
	}
	return n
}

// firstValid returns the index of the first defined value or -1.
func (s Series) firstValid() int {
	for i, v := range s {
		if v.Valid {
			return i
		}
	}
	return -1
}

// window applies fn to every full window of length p ending at i. A window
// containing an undefined value produces an undefined result.
func window(s Series, p int, fn func(w []float64) float64) Series {
	out := NewSeries(len(s))
	if p <= 0 {
		return out
	}
	buf := make([]float64, p)
	for i := p - 1; i < len(s); i++ {
		ok := true
		for j := 0; j < p; j++ {
			v := s[i-p+1+j]
			if !v.Valid {
				ok = false
				break
			}
			buf[j] = v.Float
		}
		if ok {
			out[i] = Def(fn(buf))
		}
	}
	return out
}

func mean(w []float64) float64 {
	var sum float64
	for _, x := range w {
		sum += x
	}
	return sum / float64(len(w))
}

// popStdDev is the population standard deviation (divides by len(w)).
// Windows are never empty, so the stats error is unreachable.
func popStdDev(w []float64) float64 {
	sd, _ := stats.StandardDeviationPopulation(w)
	return sd
}
