// Package builtins provides ready-made strategy configurations that ship
// with strategylab.
package builtins

import (
	"fmt"

	"strategylab/internal/domain"
	"strategylab/internal/strategy"
)

// SMACross is a simple moving average crossover strategy. It enters long
// when the short-period SMA crosses above the long-period SMA and exits
// when it crosses back below.
func SMACross(short, long int) (strategy.Config, error) {
	if short <= 0 || long <= short {
		return strategy.Config{}, &domain.ConfigurationError{
			Param:  "short",
			Value:  float64(short),
			Reason: fmt.Sprintf("need 0 < short < long, got long=%d", long),
		}
	}
	params := map[string]float64{"short": float64(short), "long": float64(long)}
	entry, err := strategy.NewFormula("crossOver(SMA(close, short), SMA(close, long))", nil, params)
	if err != nil {
		return strategy.Config{}, err
	}
	exit, err := strategy.NewFormula("crossUnder(SMA(close, short), SMA(close, long))", nil, params)
	if err != nil {
		return strategy.Config{}, err
	}
	return strategy.Config{
		Name:             "sma-cross",
		Entry:            entry,
		Exit:             exit,
		PositionSizePct:  100,
		MaxOpenPositions: 1,
		Direction:        domain.DirectionLong,
	}, nil
}

// RSIReversion buys when RSI drops below oversold and sells when it rises
// above overbought.
func RSIReversion(period int, oversold, overbought float64) (strategy.Config, error) {
	if oversold >= overbought {
		return strategy.Config{}, &domain.ConfigurationError{
			Param:  "oversold",
			Value:  oversold,
			Reason: fmt.Sprintf("must be below overbought %g", overbought),
		}
	}
	params := map[string]float64{"n": float64(period), "lo": oversold, "hi": overbought}
	entry, err := strategy.NewFormula("crossUnder(RSI(close, n), lo)", nil, params)
	if err != nil {
		return strategy.Config{}, err
	}
	exit, err := strategy.NewFormula("RSI(close, n) > hi", nil, params)
	if err != nil {
		return strategy.Config{}, err
	}
	return strategy.Config{
		Name:             "rsi-reversion",
		Entry:            entry,
		Exit:             exit,
		StopLossPct:      10,
		PositionSizePct:  50,
		MaxOpenPositions: 2,
		Direction:        domain.DirectionLong,
	}, nil
}

// All returns the built-in strategies with their default parameters.
func All() []strategy.Config {
	var out []strategy.Config
	if c, err := SMACross(10, 30); err == nil {
		out = append(out, c)
	}
	if c, err := RSIReversion(14, 30, 70); err == nil {
		out = append(out, c)
	}
	return out
}
