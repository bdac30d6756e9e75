package backtest

import (
	"math"

	"strategylab/internal/domain"
)

// RiskManager enforces the price-based exit rules of a strategy: stop-loss,
// take-profit and trailing stop, checked in that order.
type RiskManager struct {
	stopLossPct     float64
	takeProfitPct   float64
	trailingStopPct float64
}

// NewRiskManager creates a RiskManager with the specified thresholds in
// percent. A zero threshold disables its rule.
func NewRiskManager(stopLossPct, takeProfitPct, trailingStopPct float64) *RiskManager {
	return &RiskManager{
		stopLossPct:     stopLossPct,
		takeProfitPct:   takeProfitPct,
		trailingStopPct: trailingStopPct,
	}
}

// Levels are the trigger prices of the active rules for a position. Zero
// means the rule is disabled.
type Levels struct {
	StopLoss     float64
	TakeProfit   float64
	TrailingStop float64
}

// LevelsFor computes the trigger prices for p from its entry price and
// trailing anchors.
func (rm *RiskManager) LevelsFor(p *domain.Position) Levels {
	var lv Levels
	if p.Direction == domain.DirectionShort {
		if rm.stopLossPct > 0 {
			lv.StopLoss = p.EntryPrice * (1 + rm.stopLossPct/100)
		}
		if rm.takeProfitPct > 0 {
			lv.TakeProfit = p.EntryPrice * (1 - rm.takeProfitPct/100)
		}
		if rm.trailingStopPct > 0 {
			lv.TrailingStop = p.LowestPriceSinceEntry * (1 + rm.trailingStopPct/100)
		}
		return lv
	}
	if rm.stopLossPct > 0 {
		lv.StopLoss = p.EntryPrice * (1 - rm.stopLossPct/100)
	}
	if rm.takeProfitPct > 0 {
		lv.TakeProfit = p.EntryPrice * (1 + rm.takeProfitPct/100)
	}
	if rm.trailingStopPct > 0 {
		lv.TrailingStop = p.HighestPriceSinceEntry * (1 - rm.trailingStopPct/100)
	}
	return lv
}

// CheckExit returns the first rule that bar b triggers for p and the fill
// price. A bar that opens beyond the trigger fills at its open.
func (rm *RiskManager) CheckExit(p *domain.Position, b domain.Bar) (domain.ExitReason, float64, bool) {
	lv := rm.LevelsFor(p)
	short := p.Direction == domain.DirectionShort

	// adverse reports whether the bar reached a level against the position;
	// favourable whether it reached one in its favour.
	adverse := func(level float64) (float64, bool) {
		if short {
			if b.High >= level {
				return math.Max(level, b.Open), true
			}
			return 0, false
		}
		if b.Low <= level {
			return math.Min(level, b.Open), true
		}
		return 0, false
	}
	favourable := func(level float64) (float64, bool) {
		if short {
			if b.Low <= level {
				return math.Min(level, b.Open), true
			}
			return 0, false
		}
		if b.High >= level {
			return math.Max(level, b.Open), true
		}
		return 0, false
	}

	if lv.StopLoss > 0 {
		if px, ok := adverse(lv.StopLoss); ok {
			return domain.ExitStopLoss, px, true
		}
	}
	if lv.TakeProfit > 0 {
		if px, ok := favourable(lv.TakeProfit); ok {
			return domain.ExitTakeProfit, px, true
		}
	}
	if lv.TrailingStop > 0 {
		if px, ok := adverse(lv.TrailingStop); ok {
			return domain.ExitTrailingStop, px, true
		}
	}
	return "", 0, false
}
