// Package backtest replays a bar series through a strategy configuration,
// managing positions bar by bar and tracking equity and drawdown.
package backtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/report"
	"strategylab/internal/strategy"
)

// cancelEvery is how many bars pass between context checks.
const cancelEvery = 256

// Options are the engine parameters of a run.
type Options struct {
	InitialCapital float64
	// CommissionRate is charged on position value at entry only.
	CommissionRate float64
	// RiskFreeRate is the annual rate subtracted in the Sharpe ratio.
	RiskFreeRate float64
	Logger       *slog.Logger
}

// DefaultOptions returns 10,000 of capital, no commission and the default
// risk-free rate.
func DefaultOptions() Options {
	return Options{
		InitialCapital: 10000,
		RiskFreeRate:   report.DefaultRiskFreeRate,
	}
}

// Validate checks the engine parameters.
func (o Options) Validate() error {
	if math.IsNaN(o.InitialCapital) || math.IsInf(o.InitialCapital, 0) || o.InitialCapital <= 0 {
		return &domain.ConfigurationError{Param: "initial_capital", Value: o.InitialCapital, Reason: "must be positive"}
	}
	if math.IsNaN(o.CommissionRate) || o.CommissionRate < 0 || o.CommissionRate >= 1 {
		return &domain.ConfigurationError{Param: "commission_rate", Value: o.CommissionRate, Reason: "must be in [0, 1)"}
	}
	if math.IsNaN(o.RiskFreeRate) || math.IsInf(o.RiskFreeRate, 0) {
		return &domain.ConfigurationError{Param: "risk_free_rate", Value: o.RiskFreeRate, Reason: "must be finite"}
	}
	return nil
}

// Warning records a predicate failure during a run. The bar is treated as
// having no signal.
type Warning struct {
	Bar       int       `json:"bar"`
	Time      time.Time `json:"time"`
	Predicate string    `json:"predicate"`
	Message   string    `json:"message"`
}

// Result is the outcome of one run.
type Result struct {
	Strategy       string         `json:"strategy"`
	Bars           int            `json:"bars"`
	InitialCapital float64        `json:"initial_capital"`
	FinalCapital   float64        `json:"final_capital"`
	Trades         []domain.Trade `json:"trades"`
	EquityCurve    []float64      `json:"equity_curve"`
	DrawdownCurve  []float64      `json:"drawdown_curve"`
	MaxDrawdownPct float64        `json:"max_drawdown_pct"`
	ExposurePct    float64        `json:"exposure_pct"`
	report.Summary
	Warnings []Warning `json:"warnings"`
}

// WriteText renders the result as an aligned text report.
func (r *Result) WriteText(w io.Writer) error {
	return report.WriteText(w, report.Header{
		Title:          r.Strategy,
		Bars:           r.Bars,
		InitialCapital: r.InitialCapital,
		FinalCapital:   r.FinalCapital,
		MaxDrawdownPct: r.MaxDrawdownPct,
		Warnings:       len(r.Warnings),
	}, r.Summary, r.Trades)
}

// Simulator runs one strategy. It holds no state between runs, so a single
// Simulator may be reused, but each concurrent run needs its own.
type Simulator struct {
	cfg  strategy.Config
	opts Options
	risk *RiskManager
	log  *slog.Logger
}

// New validates cfg and opts and returns a Simulator.
func New(cfg strategy.Config, opts Options) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Simulator{
		cfg:  cfg,
		opts: opts,
		risk: NewRiskManager(cfg.StopLossPct, cfg.TakeProfitPct, cfg.TrailingStopPct),
		log:  log.With("strategy", cfg.Name),
	}, nil
}

// run is the mutable state of a single simulation.
type run struct {
	capital  float64
	open     []*domain.Position
	trades   []domain.Trade
	warnings []Warning
	inMarket int
}

// signal evaluates a bound predicate, converting failures into warnings.
func (s *Simulator) signal(st *run, name string, sig strategy.Signal, i int, b domain.Bar) bool {
	if sig == nil {
		return false
	}
	ok, err := sig(i)
	if err != nil {
		st.warnings = append(st.warnings, Warning{Bar: i, Time: b.Time, Predicate: name, Message: err.Error()})
		s.log.Warn("predicate failed", "predicate", name, "bar", i, "error", err)
		return false
	}
	return ok
}

// bind binds p over bars. A predicate that fails to bind never fires during
// the run and the failure is recorded as a warning on the first bar. Only
// cancellation is returned as an error.
func (s *Simulator) bind(ctx context.Context, st *run, name string, p strategy.Predicate, bars []domain.Bar) (strategy.Signal, error) {
	if p == nil {
		return nil, nil
	}
	sig, err := p.Bind(ctx, bars)
	if err == nil {
		return sig, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	w := Warning{Predicate: name, Message: fmt.Sprintf("binding %s: %v", p, err)}
	if len(bars) > 0 {
		w.Time = bars[0].Time
	}
	st.warnings = append(st.warnings, w)
	s.log.Warn("predicate disabled", "predicate", name, "formula", p.String(), "error", err)
	return nil, nil
}

// Run simulates the strategy over bars. The bars are validated first; an
// empty series yields an empty result.
func (s *Simulator) Run(ctx context.Context, bars []domain.Bar) (*Result, error) {
	if err := domain.ValidateBars(bars); err != nil {
		return nil, err
	}

	start := time.Now()
	st := &run{capital: s.opts.InitialCapital}

	entry, err := s.bind(ctx, st, "entry", s.cfg.Entry, bars)
	if err != nil {
		return nil, err
	}
	exit, err := s.bind(ctx, st, "exit", s.cfg.Exit, bars)
	if err != nil {
		return nil, err
	}
	var shortEntry strategy.Signal
	if s.cfg.Direction == domain.DirectionBoth {
		if shortEntry, err = s.bind(ctx, st, "short_entry", s.cfg.ShortEntry, bars); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Strategy:       s.cfg.Name,
		Bars:           len(bars),
		InitialCapital: s.opts.InitialCapital,
		EquityCurve:    make([]float64, 0, len(bars)),
		DrawdownCurve:  make([]float64, 0, len(bars)),
	}
	peak := s.opts.InitialCapital

	for i, b := range bars {
		if i%cancelEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		s.exits(st, exit, i, b)
		s.entries(st, entry, shortEntry, i, b)

		for _, p := range st.open {
			p.Track(b)
		}
		if len(st.open) > 0 {
			st.inMarket++
		}

		equity := st.capital
		for _, p := range st.open {
			equity += p.MarkAt(b.Close).Total
		}
		res.EquityCurve = append(res.EquityCurve, equity)

		if equity > peak {
			peak = equity
		}
		var dd float64
		if peak > 0 {
			dd = (peak - equity) / peak * 100
		}
		res.DrawdownCurve = append(res.DrawdownCurve, dd)
		if dd > res.MaxDrawdownPct {
			res.MaxDrawdownPct = dd
		}
	}

	if n := len(bars); n > 0 {
		last := bars[n-1]
		for _, p := range st.open {
			s.close(st, p, n-1, last, last.Close, domain.ExitEndOfData)
		}
		st.open = nil
	}

	res.FinalCapital = st.capital
	res.Trades = st.trades
	if res.Trades == nil {
		res.Trades = []domain.Trade{}
	}
	res.Warnings = st.warnings
	if res.Warnings == nil {
		res.Warnings = []Warning{}
	}
	if len(bars) > 0 {
		res.ExposurePct = float64(st.inMarket) / float64(len(bars)) * 100
	}
	res.Summary = report.Summarize(res.Trades, res.EquityCurve, res.InitialCapital, s.opts.RiskFreeRate)

	s.log.Debug("backtest complete",
		"bars", len(bars),
		"trades", len(res.Trades),
		"warnings", len(res.Warnings),
		"final_capital", res.FinalCapital,
		"elapsed", time.Since(start),
	)
	return res, nil
}

// exits closes positions whose risk rule or exit predicate fires on bar i.
// The exit predicate is evaluated at most once per bar.
func (s *Simulator) exits(st *run, exit strategy.Signal, i int, b domain.Bar) {
	if len(st.open) == 0 {
		return
	}
	var exitEvaluated, exitFired bool
	kept := st.open[:0]
	for _, p := range st.open {
		reason, price, ok := s.risk.CheckExit(p, b)
		if !ok && exit != nil {
			if !exitEvaluated {
				exitFired = s.signal(st, "exit", exit, i, b)
				exitEvaluated = true
			}
			if exitFired {
				reason, price, ok = domain.ExitSignal, b.Close, true
			}
		}
		if ok {
			s.close(st, p, i, b, price, reason)
			continue
		}
		kept = append(kept, p)
	}
	for j := len(kept); j < len(st.open); j++ {
		st.open[j] = nil
	}
	st.open = kept
}

// entries opens at most one position per side on bar i while capacity
// remains.
func (s *Simulator) entries(st *run, entry, shortEntry strategy.Signal, i int, b domain.Bar) {
	if len(st.open) >= s.cfg.MaxOpenPositions {
		return
	}
	switch s.cfg.Direction {
	case domain.DirectionLong, domain.DirectionShort:
		if s.signal(st, "entry", entry, i, b) {
			s.openPosition(st, s.cfg.Direction, i, b)
		}
	case domain.DirectionBoth:
		if s.signal(st, "entry", entry, i, b) {
			s.openPosition(st, domain.DirectionLong, i, b)
		}
		if len(st.open) < s.cfg.MaxOpenPositions && s.signal(st, "short_entry", shortEntry, i, b) {
			s.openPosition(st, domain.DirectionShort, i, b)
		}
	}
}

func (s *Simulator) openPosition(st *run, dir domain.Direction, i int, b domain.Bar) {
	value := st.capital * s.cfg.PositionSizePct / 100
	if value <= 0 {
		return
	}
	commission := value * s.opts.CommissionRate
	st.capital -= value + commission
	st.open = append(st.open, &domain.Position{
		EntryIndex:             i,
		EntryTime:              b.Time,
		EntryPrice:             b.Close,
		Quantity:               value / b.Close,
		Direction:              dir,
		Commission:             commission,
		HighestPriceSinceEntry: b.Close,
		LowestPriceSinceEntry:  b.Close,
	})
	s.log.Debug("position opened", "bar", i, "direction", dir, "price", b.Close, "value", value)
}

func (s *Simulator) close(st *run, p *domain.Position, i int, b domain.Bar, price float64, reason domain.ExitReason) {
	st.capital += p.MarkAt(price).Total
	t := p.Close(i, b.Time, price, reason)
	st.trades = append(st.trades, t)
	s.log.Debug("position closed", "bar", i, "reason", reason, "price", price, "pnl", t.PnL)
}
