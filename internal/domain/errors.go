package domain

import (
	"fmt"
	"math"
	"time"
)

// ValidationError reports a malformed price bar or an invalid strategy
// configuration. It is returned before any simulation starts.
type ValidationError struct {
	Field  string // offending field, e.g. "bars[3].high" or "max_open_positions"
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConfigurationError reports an invalid risk or engine parameter such as a
// negative percentage.
type ConfigurationError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s=%g: %s", e.Param, e.Value, e.Reason)
}

// ValidateBars checks the OHLC invariants of every bar and that timestamps
// are strictly increasing. Gaps between bars are allowed.
func ValidateBars(bars []Bar) error {
	for i, b := range bars {
		field := func(name string) string { return fmt.Sprintf("bars[%d].%s", i, name) }

		for _, f := range Fields {
			v, _ := b.Pick(f)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &ValidationError{Field: field(string(f)), Reason: "not a finite number"}
			}
		}
		if b.Time.IsZero() {
			return &ValidationError{Field: field("time"), Reason: "missing timestamp"}
		}
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return &ValidationError{Field: field("price"), Reason: "prices must be positive"}
		}
		if b.Volume < 0 {
			return &ValidationError{Field: field("volume"), Reason: "negative volume"}
		}
		if b.High < math.Max(b.Open, math.Max(b.Close, b.Low)) {
			return &ValidationError{Field: field("high"), Reason: fmt.Sprintf("high %g below open/close/low", b.High)}
		}
		if b.Low > math.Min(b.Open, math.Min(b.Close, b.High)) {
			return &ValidationError{Field: field("low"), Reason: fmt.Sprintf("low %g above open/close/high", b.Low)}
		}
		if i > 0 {
			prev := bars[i-1].Time
			switch {
			case b.Time.Equal(prev):
				return &ValidationError{Field: field("time"), Reason: "duplicate timestamp " + b.Time.Format(time.RFC3339)}
			case b.Time.Before(prev):
				return &ValidationError{Field: field("time"), Reason: "timestamps out of order"}
			}
		}
	}
	return nil
}
