package backtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"strategylab/internal/catalog"
	"strategylab/internal/domain"
	"strategylab/internal/report"
	"strategylab/internal/strategy"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// flatBars builds bars whose open, low and close are the close and whose
// high is one above it.
func flatBars(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Time: t0.AddDate(0, 0, i), Open: c, High: c + 1, Low: c, Close: c, Volume: 1000}
	}
	return bars
}

func config(entry strategy.Predicate) strategy.Config {
	return strategy.Config{
		Name:             "test",
		Entry:            entry,
		PositionSizePct:  100,
		MaxOpenPositions: 1,
		Direction:        domain.DirectionLong,
	}
}

func runSim(t *testing.T, cfg strategy.Config, bars []domain.Bar) *Result {
	t.Helper()
	sim, err := New(cfg, DefaultOptions())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	res, err := sim.Run(context.Background(), bars)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	return res
}

func TestStopLossScenario(t *testing.T) {
	cfg := config(strategy.At(0))
	cfg.StopLossPct = 5
	res := runSim(t, cfg, flatBars(100, 101, 99, 98, 97, 96, 95, 94, 93, 92))

	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1: %+v", len(res.Trades), res.Trades)
	}
	tr := res.Trades[0]
	if tr.EntryPrice != 100 {
		t.Errorf("EntryPrice = %v, want 100", tr.EntryPrice)
	}
	if tr.ExitIndex != 6 {
		t.Errorf("ExitIndex = %d, want 6", tr.ExitIndex)
	}
	if tr.ExitReason != domain.ExitStopLoss {
		t.Errorf("ExitReason = %q, want stop-loss", tr.ExitReason)
	}
	if math.Abs(tr.PnLPercent-(-5)) > 1e-9 {
		t.Errorf("PnLPercent = %v, want -5", tr.PnLPercent)
	}
	if math.Abs(res.FinalCapital-9500) > 1e-9 {
		t.Errorf("FinalCapital = %v, want 9500", res.FinalCapital)
	}
	if res.ProfitFactor.Defined() && res.ProfitFactor.Value != 0 {
		t.Errorf("ProfitFactor = %v, want 0", res.ProfitFactor)
	}
}

func TestNoEntriesKeepsCapital(t *testing.T) {
	res := runSim(t, config(strategy.Never()), flatBars(10, 11, 12, 11, 10))
	if len(res.Trades) != 0 {
		t.Errorf("got %d trades, want 0", len(res.Trades))
	}
	if res.FinalCapital != res.InitialCapital {
		t.Errorf("FinalCapital = %v, want %v", res.FinalCapital, res.InitialCapital)
	}
	if res.WinRatePct.Defined() || res.ProfitFactor.Defined() {
		t.Errorf("WinRatePct/ProfitFactor = %v/%v, want undefined", res.WinRatePct, res.ProfitFactor)
	}
	if len(res.EquityCurve) != 5 || res.MaxDrawdownPct != 0 {
		t.Errorf("equity curve = %v, max drawdown = %v", res.EquityCurve, res.MaxDrawdownPct)
	}
}

func TestTakeProfitGapFillsAtOpen(t *testing.T) {
	cfg := config(strategy.At(0))
	cfg.StopLossPct = 5
	cfg.TakeProfitPct = 10
	bars := flatBars(100, 104, 120, 125)
	// Bar 2 gaps up through the take-profit level of 110.
	bars[2].Open = 115
	bars[2].Low = 115
	res := runSim(t, cfg, bars)

	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.ExitReason != domain.ExitTakeProfit || tr.ExitIndex != 2 {
		t.Errorf("exit = %s at %d, want take-profit at 2", tr.ExitReason, tr.ExitIndex)
	}
	if tr.ExitPrice != 115 {
		t.Errorf("ExitPrice = %v, want 115 (gap open)", tr.ExitPrice)
	}
	if res.ProfitFactor.State != report.Infinite {
		t.Errorf("ProfitFactor = %v, want infinite", res.ProfitFactor)
	}
}

func TestStopLossTakesPrecedence(t *testing.T) {
	cfg := config(strategy.At(0))
	cfg.StopLossPct = 5
	cfg.TakeProfitPct = 5
	bars := flatBars(100, 100)
	// One wide bar touches both levels.
	bars[1].High = 106
	bars[1].Low = 94
	res := runSim(t, cfg, bars)
	if got := res.Trades[0].ExitReason; got != domain.ExitStopLoss {
		t.Errorf("ExitReason = %q, want stop-loss", got)
	}
}

func TestTrailingStop(t *testing.T) {
	cfg := config(strategy.At(0))
	cfg.TrailingStopPct = 10
	// Highest high reaches 121 on bar 2 (close 120 + 1); the stop sits at 108.9.
	res := runSim(t, cfg, flatBars(100, 110, 120, 112, 108, 105))
	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.ExitReason != domain.ExitTrailingStop || tr.ExitIndex != 4 {
		t.Errorf("exit = %s at %d, want trailing-stop at 4", tr.ExitReason, tr.ExitIndex)
	}
	if math.Abs(tr.ExitPrice-108) > 1e-9 {
		t.Errorf("ExitPrice = %v, want 108 (gap open below 108.9)", tr.ExitPrice)
	}
}

func TestExitPredicateAndEndOfData(t *testing.T) {
	cfg := config(strategy.At(0, 3))
	cfg.Exit = strategy.At(2)
	res := runSim(t, cfg, flatBars(10, 11, 12, 13, 14))
	if len(res.Trades) != 2 {
		t.Fatalf("got %d trades, want 2: %+v", len(res.Trades), res.Trades)
	}
	if got := res.Trades[0]; got.ExitReason != domain.ExitSignal || got.ExitIndex != 2 || got.ExitPrice != 12 {
		t.Errorf("first trade = %+v, want exit-signal at bar 2 for 12", got)
	}
	if got := res.Trades[1]; got.ExitReason != domain.ExitEndOfData || got.ExitIndex != 4 || got.ExitPrice != 14 {
		t.Errorf("second trade = %+v, want end-of-data at bar 4 for 14", got)
	}
	if last := res.EquityCurve[len(res.EquityCurve)-1]; math.Abs(last-res.FinalCapital) > 1e-9 {
		t.Errorf("final equity %v != final capital %v", last, res.FinalCapital)
	}
}

func TestShortPosition(t *testing.T) {
	cfg := config(strategy.At(0))
	cfg.Direction = domain.DirectionShort
	cfg.StopLossPct = 5
	bars := flatBars(100, 98, 103, 106)
	res := runSim(t, cfg, bars)
	tr := res.Trades[0]
	// Short stop at 105; bar 2 high is 104, bar 3 high is 107 with open 106.
	if tr.ExitReason != domain.ExitStopLoss || tr.ExitIndex != 3 || tr.ExitPrice != 106 {
		t.Errorf("trade = %+v, want stop-loss at bar 3 for 106", tr)
	}
	if math.Abs(tr.PnL-(-600)) > 1e-9 {
		t.Errorf("PnL = %v, want -600", tr.PnL)
	}
}

func TestBothDirections(t *testing.T) {
	cfg := config(strategy.At(0))
	cfg.Direction = domain.DirectionBoth
	cfg.ShortEntry = strategy.At(1)
	cfg.PositionSizePct = 50
	cfg.MaxOpenPositions = 2
	res := runSim(t, cfg, flatBars(100, 100, 90))
	if len(res.Trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(res.Trades))
	}
	dirs := map[domain.Direction]float64{}
	for _, tr := range res.Trades {
		dirs[tr.Direction] = tr.PnL
	}
	if dirs[domain.DirectionLong] >= 0 || dirs[domain.DirectionShort] <= 0 {
		t.Errorf("long/short pnl = %v/%v, want loss/gain", dirs[domain.DirectionLong], dirs[domain.DirectionShort])
	}
}

func TestMaxOpenPositions(t *testing.T) {
	cfg := config(strategy.Always())
	cfg.PositionSizePct = 10
	cfg.MaxOpenPositions = 3
	res := runSim(t, cfg, flatBars(10, 10, 10, 10, 10, 10))
	if len(res.Trades) != 3 {
		t.Errorf("got %d trades, want 3", len(res.Trades))
	}
	for _, tr := range res.Trades {
		if tr.ExitReason != domain.ExitEndOfData {
			t.Errorf("ExitReason = %q, want end-of-data", tr.ExitReason)
		}
	}
}

func TestCommissionAtEntryOnly(t *testing.T) {
	cfg := config(strategy.At(0))
	opts := DefaultOptions()
	opts.CommissionRate = 0.01
	sim, err := New(cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	res, err := sim.Run(context.Background(), flatBars(100, 100, 100))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.FinalCapital-9900) > 1e-9 {
		t.Errorf("FinalCapital = %v, want 9900", res.FinalCapital)
	}
	if res.Trades[0].Commission != 100 {
		t.Errorf("Commission = %v, want 100", res.Trades[0].Commission)
	}
}

func TestPredicateFailuresBecomeWarnings(t *testing.T) {
	entry := strategy.Func{Label: "flaky", Fn: func(i int, bars []domain.Bar) (bool, error) {
		switch i {
		case 1:
			var m map[string]int
			m["boom"]++ // panics
		case 2:
			return false, errors.New("bad input")
		}
		return false, nil
	}}
	res := runSim(t, config(entry), flatBars(1, 2, 3, 4))
	if len(res.Warnings) != 2 {
		t.Fatalf("got %d warnings, want 2: %+v", len(res.Warnings), res.Warnings)
	}
	if res.Warnings[0].Bar != 1 || res.Warnings[0].Predicate != "entry" {
		t.Errorf("first warning = %+v, want bar 1 entry", res.Warnings[0])
	}
	if !strings.Contains(res.Warnings[1].Message, "bad input") {
		t.Errorf("second warning = %+v, want bad input", res.Warnings[1])
	}
	if len(res.Trades) != 0 {
		t.Errorf("got %d trades, want 0", len(res.Trades))
	}
}

func TestUnbindablePredicateBecomesWarning(t *testing.T) {
	reg := catalog.NewRegistry()
	if err := reg.Register(catalog.Spec{Name: "spread", Formula: "high - low"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	entry, err := strategy.NewFormula("spread > 0", reg, nil)
	if err != nil {
		t.Fatalf("NewFormula: %v", err)
	}
	// The strategy still refers to spread after it leaves the registry.
	if err := reg.Unregister("spread"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	cfg := config(entry)
	cfg.Exit = strategy.Never()
	bars := flatBars(10, 11, 12)
	res := runSim(t, cfg, bars)

	if len(res.Trades) != 0 {
		t.Errorf("got %d trades, want 0", len(res.Trades))
	}
	if res.FinalCapital != res.InitialCapital {
		t.Errorf("FinalCapital = %v, want %v", res.FinalCapital, res.InitialCapital)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %+v", len(res.Warnings), res.Warnings)
	}
	w := res.Warnings[0]
	if w.Predicate != "entry" || w.Bar != 0 || !w.Time.Equal(bars[0].Time) {
		t.Errorf("warning = %+v, want entry on bar 0", w)
	}
	if !strings.Contains(w.Message, "spread") {
		t.Errorf("warning message %q does not name the missing indicator", w.Message)
	}
}

func TestBindHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sim, err := New(config(strategy.MustFormula("close > open")), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sim.Run(ctx, flatBars(1, 2, 3)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run with cancelled context returned %v, want context.Canceled", err)
	}
}

func TestFormulaStrategy(t *testing.T) {
	entry := strategy.MustFormula("crossOver(close, SMA(close, 3))")
	exit := strategy.MustFormula("close < SMA(close, 3)")
	cfg := config(entry)
	cfg.Exit = exit
	res := runSim(t, cfg, flatBars(10, 9, 8, 9, 11, 12, 10, 9))
	if len(res.Trades) == 0 {
		t.Fatal("formula strategy produced no trades")
	}
	if got := res.Trades[0]; got.EntryIndex != 3 {
		t.Errorf("first entry at %d, want 3", got.EntryIndex)
	}
}

func TestDeterministicJSON(t *testing.T) {
	cfg := config(strategy.MustFormula("crossOver(close, SMA(close, 2))"))
	cfg.Exit = strategy.MustFormula("crossUnder(close, SMA(close, 2))")
	cfg.TrailingStopPct = 3
	var closes []float64
	for i := 0; i < 300; i++ {
		closes = append(closes, 100+10*math.Sin(float64(i)/7))
	}
	bars := flatBars(closes...)

	var outs [2][]byte
	for k := range outs {
		b, err := json.Marshal(runSim(t, cfg, bars))
		if err != nil {
			t.Fatal(err)
		}
		outs[k] = b
	}
	if !bytes.Equal(outs[0], outs[1]) {
		t.Error("two identical runs produced different JSON")
	}
}

func TestRunRejectsInvalidInput(t *testing.T) {
	sim, err := New(config(strategy.Always()), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	bars := flatBars(1, 2, 3)
	bars[2].Time = bars[1].Time
	var verr *domain.ValidationError
	if _, err := sim.Run(context.Background(), bars); !errors.As(err, &verr) {
		t.Errorf("Run with duplicate timestamps = %v, want *ValidationError", err)
	}

	bad := config(strategy.Always())
	bad.MaxOpenPositions = 0
	if _, err := New(bad, DefaultOptions()); !errors.As(err, &verr) {
		t.Errorf("New with zero capacity = %v, want *ValidationError", err)
	}

	var cerr *domain.ConfigurationError
	opts := DefaultOptions()
	opts.InitialCapital = -1
	if _, err := New(config(strategy.Always()), opts); !errors.As(err, &cerr) {
		t.Errorf("New with negative capital = %v, want *ConfigurationError", err)
	}
	opts = DefaultOptions()
	opts.CommissionRate = -0.1
	if _, err := New(config(strategy.Always()), opts); !errors.As(err, &cerr) {
		t.Errorf("New with negative commission = %v, want *ConfigurationError", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	sim, err := New(config(strategy.Never()), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sim.Run(ctx, flatBars(1, 2, 3)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestSweep(t *testing.T) {
	var configs []strategy.Config
	for sl := 1; sl <= 6; sl++ {
		cfg := config(strategy.At(0))
		cfg.Name = fmt.Sprintf("sl-%d", sl)
		cfg.StopLossPct = float64(sl)
		configs = append(configs, cfg)
	}
	bars := flatBars(100, 99, 98, 97, 96, 95, 94)
	for i := range bars {
		bars[i].Low -= 0.5
	}
	results, err := Sweep(context.Background(), bars, configs, DefaultOptions(), 3)
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	for i, res := range results {
		if res.Strategy != configs[i].Name {
			t.Errorf("results[%d].Strategy = %q, want %q", i, res.Strategy, configs[i].Name)
		}
		// A stop at sl% below 100 triggers on bar sl.
		if got := res.Trades[0].ExitIndex; got != i+1 {
			t.Errorf("%s exited at bar %d, want %d", res.Strategy, got, i+1)
		}
	}
}

func TestRiskManagerLevels(t *testing.T) {
	rm := NewRiskManager(5, 10, 0)
	long := &domain.Position{EntryPrice: 100, Direction: domain.DirectionLong, HighestPriceSinceEntry: 100, LowestPriceSinceEntry: 100}
	lv := rm.LevelsFor(long)
	if lv.StopLoss != 95 || math.Abs(lv.TakeProfit-110) > 1e-9 || lv.TrailingStop != 0 {
		t.Errorf("long levels = %+v", lv)
	}
	short := &domain.Position{EntryPrice: 100, Direction: domain.DirectionShort, HighestPriceSinceEntry: 100, LowestPriceSinceEntry: 100}
	lv = rm.LevelsFor(short)
	if lv.StopLoss != 105 || lv.TakeProfit != 90 {
		t.Errorf("short levels = %+v", lv)
	}
}
