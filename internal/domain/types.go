// Package domain defines the core value types shared by the indicator,
// strategy, and backtest packages: price bars, positions, and closed trades.
package domain

import (
	"time"
)

// Bar is a single OHLCV price bar.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Field selects one OHLCV accessor of a bar.
type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

// Fields lists the OHLCV accessors in canonical order.
var Fields = []Field{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume}

// Pick returns the value of field f for bar b. Unknown fields return false.
func (b Bar) Pick(f Field) (float64, bool) {
	switch f {
	case FieldOpen:
		return b.Open, true
	case FieldHigh:
		return b.High, true
	case FieldLow:
		return b.Low, true
	case FieldClose:
		return b.Close, true
	case FieldVolume:
		return b.Volume, true
	}
	return 0, false
}

// Column extracts one field of every bar into a new slice.
func Column(bars []Bar, f Field) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.Pick(f)
	}
	return out
}

// Closes is shorthand for Column(bars, FieldClose).
func Closes(bars []Bar) []float64 { return Column(bars, FieldClose) }

// Direction is the side of a position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionBoth  Direction = "both"
)

// Multiplier returns +1 for long and -1 for short.
func (d Direction) Multiplier() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// ExitReason names the rule that closed a position.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop-loss"
	ExitTakeProfit   ExitReason = "take-profit"
	ExitTrailingStop ExitReason = "trailing-stop"
	ExitSignal       ExitReason = "exit-signal"
	ExitEndOfData    ExitReason = "end-of-data"
)

// Position is an open position inside a backtest run.
type Position struct {
	EntryIndex             int       `json:"entry_index"`
	EntryTime              time.Time `json:"entry_time"`
	EntryPrice             float64   `json:"entry_price"`
	Quantity               float64   `json:"quantity"`
	Direction              Direction `json:"direction"`
	Commission             float64   `json:"commission"`
	HighestPriceSinceEntry float64   `json:"highest_price_since_entry"`
	LowestPriceSinceEntry  float64   `json:"lowest_price_since_entry"`
}

// Mark is the valuation of a position at a given price.
type Mark struct {
	Gross   float64 // signed profit in quote currency
	Percent float64 // underlying move from entry in percent, not side-adjusted
	Total   float64 // entry value plus gross profit
}

// MarkAt values the position at price.
func (p *Position) MarkAt(price float64) Mark {
	m := p.Direction.Multiplier()
	diff := (price - p.EntryPrice) * m
	return Mark{
		Gross:   diff * p.Quantity,
		Percent: diff / p.EntryPrice * 100 * m,
		Total:   p.EntryPrice*p.Quantity + diff*p.Quantity,
	}
}

// Track updates the trailing anchors with the range of a bar.
func (p *Position) Track(b Bar) {
	if b.High > p.HighestPriceSinceEntry {
		p.HighestPriceSinceEntry = b.High
	}
	if b.Low < p.LowestPriceSinceEntry {
		p.LowestPriceSinceEntry = b.Low
	}
}

// Trade is a closed position.
type Trade struct {
	EntryIndex int        `json:"entry_index"`
	ExitIndex  int        `json:"exit_index"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Quantity   float64    `json:"quantity"`
	Direction  Direction  `json:"direction"`
	PnL        float64    `json:"pnl"`
	PnLPercent float64    `json:"pnl_percent"`
	Commission float64    `json:"commission"`
	ExitReason ExitReason `json:"exit_reason"`
}

// BarsHeld is the number of bars between entry and exit.
func (t Trade) BarsHeld() int { return t.ExitIndex - t.EntryIndex }

// Close converts the position into a trade exiting at price on bar i.
func (p *Position) Close(i int, at time.Time, price float64, reason ExitReason) Trade {
	mk := p.MarkAt(price)
	return Trade{
		EntryIndex: p.EntryIndex,
		ExitIndex:  i,
		EntryTime:  p.EntryTime,
		ExitTime:   at,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		Quantity:   p.Quantity,
		Direction:  p.Direction,
		PnL:        mk.Gross,
		PnLPercent: mk.Percent,
		Commission: p.Commission,
		ExitReason: reason,
	}
}
