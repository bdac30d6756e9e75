package report

import (
	"math"

	"github.com/montanaflynn/stats"

	"strategylab/internal/domain"
)

const (
	// BarsPerYear annualises per-bar returns.
	BarsPerYear = 252
	// DefaultRiskFreeRate is the annual risk-free rate used by Sharpe.
	DefaultRiskFreeRate = 0.02
)

// Summary is the aggregate performance of one run.
type Summary struct {
	TotalTrades    int     `json:"total_trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRatePct     Metric  `json:"win_rate_pct"`
	ProfitFactor   Metric  `json:"profit_factor"`
	SharpeRatio    Metric  `json:"sharpe_ratio"`
	TotalReturnPct float64 `json:"total_return_pct"`
	GrossProfit    float64 `json:"gross_profit"`
	GrossLoss      float64 `json:"gross_loss"`
	AvgWin         Metric  `json:"avg_win"`
	AvgLoss        Metric  `json:"avg_loss"`
	LargestWin     Metric  `json:"largest_win"`
	LargestLoss    Metric  `json:"largest_loss"`
	AvgBarsHeld    Metric  `json:"avg_bars_held"`
	Commission     float64 `json:"commission"`
}

// Summarize computes the summary of trades and the per-bar equity curve of
// a run that started with initialCapital.
func Summarize(trades []domain.Trade, equity []float64, initialCapital, riskFreeRate float64) Summary {
	s := Summary{TotalTrades: len(trades)}

	var held float64
	for _, t := range trades {
		s.Commission += t.Commission
		held += float64(t.BarsHeld())
		switch {
		case t.PnL > 0:
			s.Wins++
			s.GrossProfit += t.PnL
			if !s.LargestWin.Defined() || t.PnL > s.LargestWin.Value {
				s.LargestWin = Of(t.PnL)
			}
		case t.PnL < 0:
			s.Losses++
			s.GrossLoss += t.PnL
			if !s.LargestLoss.Defined() || t.PnL < s.LargestLoss.Value {
				s.LargestLoss = Of(t.PnL)
			}
		}
	}

	if s.TotalTrades > 0 {
		s.WinRatePct = Of(float64(s.Wins) / float64(s.TotalTrades) * 100)
		s.AvgBarsHeld = Of(held / float64(s.TotalTrades))
	}
	s.ProfitFactor = ProfitFactor(trades)
	if s.Wins > 0 {
		s.AvgWin = Of(s.GrossProfit / float64(s.Wins))
	}
	if s.Losses > 0 {
		s.AvgLoss = Of(s.GrossLoss / float64(s.Losses))
	}

	if initialCapital > 0 {
		final := initialCapital
		if len(equity) > 0 {
			final = equity[len(equity)-1]
		}
		s.TotalReturnPct = (final - initialCapital) / initialCapital * 100
	}
	s.SharpeRatio = Sharpe(equity, riskFreeRate)
	return s
}

// ProfitFactor is gross profit over absolute gross loss. It is infinite
// with wins and no losses, and undefined with no trades or when every
// trade broke even.
func ProfitFactor(trades []domain.Trade) Metric {
	var profit, loss float64
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			profit += t.PnL
		case t.PnL < 0:
			loss -= t.PnL
		}
	}
	switch {
	case loss > 0:
		return Of(profit / loss)
	case profit > 0:
		return Inf()
	}
	return Metric{}
}

// Returns converts an equity curve into per-bar simple returns. Bars whose
// previous equity is not positive are skipped.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] <= 0 {
			continue
		}
		out = append(out, (equity[i]-equity[i-1])/equity[i-1])
	}
	return out
}

// Sharpe annualises the mean and population standard deviation of per-bar
// returns over BarsPerYear and returns (mean - rf) / std. It is undefined
// with fewer than two returns or zero volatility.
func Sharpe(equity []float64, riskFreeRate float64) Metric {
	rets := Returns(equity)
	if len(rets) < 2 {
		return Metric{}
	}
	mean, err := stats.Mean(rets)
	if err != nil {
		return Metric{}
	}
	sd, err := stats.StandardDeviationPopulation(rets)
	if err != nil {
		return Metric{}
	}
	annualStd := sd * math.Sqrt(BarsPerYear)
	if annualStd == 0 || math.IsNaN(annualStd) {
		return Metric{}
	}
	return Of((mean*BarsPerYear - riskFreeRate) / annualStd)
}
