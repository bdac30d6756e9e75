package indicator

import (
	"math"

	"strategylab/internal/domain"
)

// SMA is the mean of the trailing period closes; undefined for
// index < period-1.
func SMA(bars []domain.Bar, period int) Series {
	return SMAOf(FromFloats(domain.Closes(bars)), period)
}

// SMAOf is SMA over an arbitrary series.
func SMAOf(s Series, period int) Series {
	return window(s, period, mean)
}

// EMA seeds with the SMA of the first period closes and then applies
// ema[i] = (close[i]-ema[i-1])*k + ema[i-1] with k = 2/(period+1).
func EMA(bars []domain.Bar, period int) Series {
	return EMAOf(FromFloats(domain.Closes(bars)), period)
}

// EMAOf is EMA over an arbitrary series. The recurrence starts at the first
// defined value; an undefined input after the seed ends the series there.
func EMAOf(s Series, period int) Series {
	out := NewSeries(len(s))
	start := s.firstValid()
	if period <= 0 || start < 0 || len(s)-start < period {
		return out
	}

	var seed float64
	for i := start; i < start+period; i++ {
		if !s[i].Valid {
			return out
		}
		seed += s[i].Float
	}
	seed /= float64(period)
	out[start+period-1] = Def(seed)

	k := 2 / float64(period+1)
	prev := seed
	for i := start + period; i < len(s); i++ {
		if !s[i].Valid {
			break
		}
		prev = (s[i].Float-prev)*k + prev
		out[i] = Def(prev)
	}
	return out
}

// emaFilled feeds undefined entries into the recurrence as 0.
func emaFilled(s Series, period int) Series {
	filled := make(Series, len(s))
	for i, v := range s {
		if v.Valid {
			filled[i] = v
		} else {
			filled[i] = Def(0)
		}
	}
	return EMAOf(filled, period)
}

// MaxOf is the rolling maximum over period values.
func MaxOf(s Series, period int) Series {
	return window(s, period, func(w []float64) float64 {
		m := math.Inf(-1)
		for _, x := range w {
			m = math.Max(m, x)
		}
		return m
	})
}

// MinOf is the rolling minimum over period values.
func MinOf(s Series, period int) Series {
	return window(s, period, func(w []float64) float64 {
		m := math.Inf(1)
		for _, x := range w {
			m = math.Min(m, x)
		}
		return m
	})
}

// SumOf is the rolling sum over period values.
func SumOf(s Series, period int) Series {
	return window(s, period, func(w []float64) float64 {
		var sum float64
		for _, x := range w {
			sum += x
		}
		return sum
	})
}

// StdOf is the rolling population standard deviation.
func StdOf(s Series, period int) Series {
	return window(s, period, popStdDev)
}
