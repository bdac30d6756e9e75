package indicator

import (
	"strategylab/internal/domain"
)

// RSI recomputes the average gain and loss over the trailing period price
// changes at every index >= period. This is a plain moving average of the
// changes, not Wilder's exponential smoothing. RSI is 100 when the average
// loss is zero.
func RSI(bars []domain.Bar, period int) Series {
	return RSIOf(FromFloats(domain.Closes(bars)), period)
}

// RSIOf is RSI over an arbitrary series.
func RSIOf(s Series, period int) Series {
	out := NewSeries(len(s))
	if period <= 0 {
		return out
	}
	for i := period; i < len(s); i++ {
		var gain, loss float64
		ok := true
		for j := i - period + 1; j <= i; j++ {
			if !s[j].Valid || !s[j-1].Valid {
				ok = false
				break
			}
			ch := s[j].Float - s[j-1].Float
			if ch > 0 {
				gain += ch
			} else {
				loss -= ch
			}
		}
		if !ok {
			continue
		}
		avgGain := gain / float64(period)
		avgLoss := loss / float64(period)
		if avgLoss == 0 {
			out[i] = Def(100)
			continue
		}
		out[i] = Def(100 - 100/(1+avgGain/avgLoss))
	}
	return out
}

// MACDResult holds the three MACD lines.
type MACDResult struct {
	MACD      Series
	Signal    Series
	Histogram Series
}

// MACD is EMA(fast) - EMA(slow). The signal line is an EMA of the MACD line
// with undefined entries fed into the recurrence as 0; it stays undefined
// wherever the MACD line is.
func MACD(bars []domain.Bar, fast, slow, signal int) MACDResult {
	fastEMA := EMA(bars, fast)
	slowEMA := EMA(bars, slow)

	n := len(bars)
	res := MACDResult{
		MACD:      NewSeries(n),
		Histogram: NewSeries(n),
	}
	for i := 0; i < n; i++ {
		if fastEMA[i].Valid && slowEMA[i].Valid {
			res.MACD[i] = Def(fastEMA[i].Float - slowEMA[i].Float)
		}
	}
	res.Signal = emaFilled(res.MACD, signal)
	for i := 0; i < n; i++ {
		if !res.MACD[i].Valid {
			res.Signal[i] = Undefined
		}
	}
	for i := 0; i < n; i++ {
		if res.MACD[i].Valid && res.Signal[i].Valid {
			res.Histogram[i] = Def(res.MACD[i].Float - res.Signal[i].Float)
		}
	}
	return res
}

// StochasticResult holds %K and %D.
type StochasticResult struct {
	K Series
	D Series
}

// flatRangeK is reported when the window high equals the window low.
const flatRangeK = 50

// Stochastic computes %K over kPeriod bars and %D as SMA(dPeriod) of %K.
func Stochastic(bars []domain.Bar, kPeriod, dPeriod int) StochasticResult {
	n := len(bars)
	k := NewSeries(n)
	if kPeriod > 0 {
		hh := MaxOf(FromFloats(domain.Column(bars, domain.FieldHigh)), kPeriod)
		ll := MinOf(FromFloats(domain.Column(bars, domain.FieldLow)), kPeriod)
		for i := kPeriod - 1; i < n; i++ {
			rng := hh[i].Float - ll[i].Float
			if rng == 0 {
				k[i] = Def(flatRangeK)
				continue
			}
			k[i] = Def((bars[i].Close - ll[i].Float) / rng * 100)
		}
	}
	return StochasticResult{K: k, D: SMAOf(k, dPeriod)}
}
