package indicator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"strategylab/internal/domain"
)

// Kind identifies a built-in indicator.
type Kind string

const (
	KindSMA        Kind = "sma"
	KindEMA        Kind = "ema"
	KindRSI        Kind = "rsi"
	KindMACD       Kind = "macd"
	KindBollinger  Kind = "bollinger"
	KindATR        Kind = "atr"
	KindStochastic Kind = "stochastic"
	KindADX        Kind = "adx"
	KindOBV        Kind = "obv"
)

// Params are named numeric indicator parameters.
type Params map[string]float64

// Line is one named output of an indicator.
type Line struct {
	Name   string `json:"name"`
	Values Series `json:"values"`
}

// defaults holds the default parameters of each built-in.
var defaults = map[Kind]Params{
	KindSMA:        {"period": 20},
	KindEMA:        {"period": 20},
	KindRSI:        {"period": 14},
	KindMACD:       {"fast": 12, "slow": 26, "signal": 9},
	KindBollinger:  {"period": 20, "k": 2},
	KindATR:        {"period": 14},
	KindStochastic: {"k_period": 14, "d_period": 3},
	KindADX:        {"period": 14},
	KindOBV:        {},
}

// Kinds returns every built-in kind in sorted order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(defaults))
	for k := range defaults {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseKind resolves a case-insensitive built-in name.
func ParseKind(name string) (Kind, bool) {
	k := Kind(strings.ToLower(name))
	_, ok := defaults[k]
	return k, ok
}

// Defaults returns a copy of the default parameters for k.
func Defaults(k Kind) Params {
	out := Params{}
	for name, v := range defaults[k] {
		out[name] = v
	}
	return out
}

// resolve merges p over the defaults of k and rejects unknown names and
// invalid values.
func resolve(k Kind, p Params) (Params, error) {
	out := Defaults(k)
	for name, v := range p {
		if _, ok := out[name]; !ok {
			return nil, &domain.ConfigurationError{Param: name, Value: v, Reason: fmt.Sprintf("unknown parameter for %s", k)}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, &domain.ConfigurationError{Param: name, Value: v, Reason: "must be a non-negative number"}
		}
		if name != "k" && v != math.Trunc(v) {
			return nil, &domain.ConfigurationError{Param: name, Value: v, Reason: "must be an integer"}
		}
		out[name] = v
	}
	return out, nil
}

// Compute evaluates the built-in k with parameters p (merged over the
// defaults) and returns its named output lines in a fixed order.
func Compute(k Kind, p Params, bars []domain.Bar) ([]Line, error) {
	if _, ok := defaults[k]; !ok {
		return nil, fmt.Errorf("unknown indicator %q", k)
	}
	p, err := resolve(k, p)
	if err != nil {
		return nil, err
	}
	period := int(p["period"])

	switch k {
	case KindSMA:
		return []Line{{Name: "sma", Values: SMA(bars, period)}}, nil
	case KindEMA:
		return []Line{{Name: "ema", Values: EMA(bars, period)}}, nil
	case KindRSI:
		return []Line{{Name: "rsi", Values: RSI(bars, period)}}, nil
	case KindATR:
		return []Line{{Name: "atr", Values: ATR(bars, period)}}, nil
	case KindOBV:
		return []Line{{Name: "obv", Values: OBV(bars)}}, nil
	case KindMACD:
		r := MACD(bars, int(p["fast"]), int(p["slow"]), int(p["signal"]))
		return []Line{
			{Name: "macd", Values: r.MACD},
			{Name: "signal", Values: r.Signal},
			{Name: "histogram", Values: r.Histogram},
		}, nil
	case KindBollinger:
		r := Bollinger(bars, period, p["k"])
		return []Line{
			{Name: "upper", Values: r.Upper},
			{Name: "middle", Values: r.Middle},
			{Name: "lower", Values: r.Lower},
		}, nil
	case KindStochastic:
		r := Stochastic(bars, int(p["k_period"]), int(p["d_period"]))
		return []Line{
			{Name: "k", Values: r.K},
			{Name: "d", Values: r.D},
		}, nil
	case KindADX:
		r := ADX(bars, period)
		return []Line{
			{Name: "adx", Values: r.ADX},
			{Name: "plus_di", Values: r.PlusDI},
			{Name: "minus_di", Values: r.MinusDI},
		}, nil
	}
	return nil, fmt.Errorf("unknown indicator %q", k)
}
