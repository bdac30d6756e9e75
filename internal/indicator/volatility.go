package indicator

import (
	"math"

	"strategylab/internal/domain"
)

// BollingerResult holds the three Bollinger bands.
type BollingerResult struct {
	Upper  Series
	Middle Series
	Lower  Series
}

// Bollinger bands use SMA(period) as the middle band and k population
// standard deviations of the trailing window as the band width.
func Bollinger(bars []domain.Bar, period int, k float64) BollingerResult {
	closes := FromFloats(domain.Closes(bars))
	mid := SMAOf(closes, period)
	std := StdOf(closes, period)

	n := len(bars)
	res := BollingerResult{Upper: NewSeries(n), Middle: mid, Lower: NewSeries(n)}
	for i := range mid {
		if !mid[i].Valid {
			continue
		}
		w := k * std[i].Float
		res.Upper[i] = Def(mid[i].Float + w)
		res.Lower[i] = Def(mid[i].Float - w)
	}
	return res
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|). The first
// element has no previous close and is 0.
func TrueRange(bars []domain.Bar) Series {
	out := NewSeries(len(bars))
	for i := range bars {
		if i == 0 {
			out[i] = Def(0)
			continue
		}
		b, pc := bars[i], bars[i-1].Close
		tr := math.Max(b.High-b.Low, math.Max(math.Abs(b.High-pc), math.Abs(b.Low-pc)))
		out[i] = Def(tr)
	}
	return out
}

// ATR is EMA(period) of the true range series.
func ATR(bars []domain.Bar, period int) Series {
	return EMAOf(TrueRange(bars), period)
}

// ADXResult holds the directional indicators and ADX.
type ADXResult struct {
	PlusDI  Series
	MinusDI Series
	DX      Series
	ADX     Series
}

// ADX derives +DM/-DM from consecutive highs and lows (only the larger,
// positive move counts), divides each by ATR(period), and smooths DX with
// EMA(period). DI is 0 where ATR is 0 and DX is 0 where +DI + -DI is 0.
func ADX(bars []domain.Bar, period int) ADXResult {
	n := len(bars)
	atr := ATR(bars, period)
	res := ADXResult{
		PlusDI:  NewSeries(n),
		MinusDI: NewSeries(n),
		DX:      NewSeries(n),
	}
	for i := 0; i < n; i++ {
		if !atr[i].Valid {
			continue
		}
		var plusDM, minusDM float64
		if i > 0 {
			up := bars[i].High - bars[i-1].High
			down := bars[i-1].Low - bars[i].Low
			if up > down && up > 0 {
				plusDM = up
			}
			if down > up && down > 0 {
				minusDM = down
			}
		}

		var pdi, mdi float64
		if a := atr[i].Float; a != 0 {
			pdi = plusDM / a * 100
			mdi = minusDM / a * 100
		}
		res.PlusDI[i] = Def(pdi)
		res.MinusDI[i] = Def(mdi)

		var dx float64
		if sum := pdi + mdi; sum != 0 {
			dx = math.Abs(pdi-mdi) / sum * 100
		}
		res.DX[i] = Def(dx)
	}
	res.ADX = EMAOf(res.DX, period)
	return res
}

// OBV is the on-balance volume, starting at volume[0].
func OBV(bars []domain.Bar) Series {
	out := NewSeries(len(bars))
	var acc float64
	for i, b := range bars {
		switch {
		case i == 0:
			acc = b.Volume
		case b.Close > bars[i-1].Close:
			acc += b.Volume
		case b.Close < bars[i-1].Close:
			acc -= b.Volume
		}
		out[i] = Def(acc)
	}
	return out
}
