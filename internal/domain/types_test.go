package domain

import (
	"errors"
	"math"
	"testing"
	"time"
)

func bar(day int, o, h, l, c float64) Bar {
	return Bar{
		Time:   time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Open:   o,
		High:   h,
		Low:    l,
		Close:  c,
		Volume: 1000,
	}
}

func TestValidateBars(t *testing.T) {
	good := []Bar{
		bar(1, 100, 102, 99, 101),
		bar(2, 101, 103, 100, 102),
		bar(5, 102, 104, 101, 103), // gaps are fine
	}
	if err := ValidateBars(good); err != nil {
		t.Fatalf("ValidateBars(good) returned error: %v", err)
	}
	if err := ValidateBars(nil); err != nil {
		t.Fatalf("ValidateBars(nil) returned error: %v", err)
	}
}

func TestValidateBarsRejects(t *testing.T) {
	cases := []struct {
		name  string
		bars  []Bar
		field string
	}{
		{"high below close", []Bar{bar(1, 100, 100.5, 99, 101)}, "bars[0].high"},
		{"low above open", []Bar{bar(1, 100, 102, 100.5, 101)}, "bars[0].low"},
		{"duplicate timestamp", []Bar{bar(1, 100, 102, 99, 101), bar(1, 100, 102, 99, 101)}, "bars[1].time"},
		{"out of order", []Bar{bar(2, 100, 102, 99, 101), bar(1, 100, 102, 99, 101)}, "bars[1].time"},
		{"nan close", []Bar{bar(1, 100, 102, 99, math.NaN())}, "bars[0].close"},
		{"non-positive price", []Bar{bar(1, 0, 102, 0, 101)}, "bars[0].price"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateBars(tc.bars)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("ValidateBars error = %v, want *ValidationError", err)
			}
			if verr.Field != tc.field {
				t.Errorf("ValidationError.Field = %q, want %q", verr.Field, tc.field)
			}
		})
	}
}

func TestPositionMarkAt(t *testing.T) {
	long := Position{EntryPrice: 100, Quantity: 2, Direction: DirectionLong}
	mk := long.MarkAt(110)
	if mk.Gross != 20 {
		t.Errorf("long Gross = %v, want 20", mk.Gross)
	}
	if mk.Percent != 10 {
		t.Errorf("long Percent = %v, want 10", mk.Percent)
	}
	if mk.Total != 220 {
		t.Errorf("long Total = %v, want 220", mk.Total)
	}

	short := Position{EntryPrice: 100, Quantity: 2, Direction: DirectionShort}
	mk = short.MarkAt(90)
	if mk.Gross != 20 {
		t.Errorf("short Gross = %v, want 20", mk.Gross)
	}
	if mk.Total != 220 {
		t.Errorf("short Total = %v, want 220", mk.Total)
	}
	// Percent tracks the underlying move, not the side.
	if mk.Percent != -10 {
		t.Errorf("short Percent = %v, want -10", mk.Percent)
	}
}

func TestPositionTrackAndClose(t *testing.T) {
	p := Position{
		EntryIndex:             0,
		EntryPrice:             100,
		Quantity:               1,
		Direction:              DirectionLong,
		HighestPriceSinceEntry: 100,
		LowestPriceSinceEntry:  100,
	}
	p.Track(bar(2, 100, 105, 97, 104))
	if p.HighestPriceSinceEntry != 105 || p.LowestPriceSinceEntry != 97 {
		t.Errorf("anchors = (%v, %v), want (105, 97)", p.HighestPriceSinceEntry, p.LowestPriceSinceEntry)
	}

	tr := p.Close(3, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), 95, ExitStopLoss)
	if tr.PnL != -5 || tr.ExitReason != ExitStopLoss {
		t.Errorf("Close = %+v, want PnL -5 and reason stop-loss", tr)
	}
	if tr.BarsHeld() != 3 {
		t.Errorf("BarsHeld = %d, want 3", tr.BarsHeld())
	}
}

func TestColumn(t *testing.T) {
	bars := []Bar{bar(1, 1, 4, 1, 2), bar(2, 2, 5, 1, 3)}
	got := Column(bars, FieldHigh)
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Errorf("Column(high) = %v, want [4 5]", got)
	}
	if _, ok := bars[0].Pick("vwap"); ok {
		t.Error("Pick accepted unknown field")
	}
}
