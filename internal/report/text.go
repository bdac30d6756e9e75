package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"strategylab/internal/domain"
)

// Header carries the run-level figures printed above a summary.
type Header struct {
	Title          string
	Bars           int
	InitialCapital float64
	FinalCapital   float64
	MaxDrawdownPct float64
	Warnings       int
}

func money(v float64) string { return decimal.NewFromFloat(v).StringFixed(2) }

func pct(v float64) string { return decimal.NewFromFloat(v).StringFixed(2) + "%" }

// WriteText renders a summary and, when trades is non-empty, the trade
// list as aligned columns.
func WriteText(w io.Writer, h Header, s Summary, trades []domain.Trade) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "%s\n", h.Title)
	fmt.Fprintf(tw, "bars\t%d\n", h.Bars)
	fmt.Fprintf(tw, "initial capital\t%s\n", money(h.InitialCapital))
	fmt.Fprintf(tw, "final capital\t%s\n", money(h.FinalCapital))
	fmt.Fprintf(tw, "total return\t%s\n", pct(s.TotalReturnPct))
	fmt.Fprintf(tw, "max drawdown\t%s\n", pct(h.MaxDrawdownPct))
	fmt.Fprintf(tw, "trades\t%d (%d won, %d lost)\n", s.TotalTrades, s.Wins, s.Losses)
	fmt.Fprintf(tw, "win rate\t%s\n", s.WinRatePct.Format(2))
	fmt.Fprintf(tw, "profit factor\t%s\n", s.ProfitFactor.Format(3))
	fmt.Fprintf(tw, "sharpe ratio\t%s\n", s.SharpeRatio.Format(3))
	fmt.Fprintf(tw, "avg win / loss\t%s / %s\n", s.AvgWin.Format(2), s.AvgLoss.Format(2))
	fmt.Fprintf(tw, "largest win / loss\t%s / %s\n", s.LargestWin.Format(2), s.LargestLoss.Format(2))
	fmt.Fprintf(tw, "avg bars held\t%s\n", s.AvgBarsHeld.Format(1))
	fmt.Fprintf(tw, "commission\t%s\n", money(s.Commission))
	if h.Warnings > 0 {
		fmt.Fprintf(tw, "warnings\t%d\n", h.Warnings)
	}

	if len(trades) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "#\tside\tentry\tentry price\texit\texit price\tqty\tpnl\tpnl %\treason")
		for i, t := range trades {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				i+1,
				t.Direction,
				t.EntryTime.Format("2006-01-02"),
				money(t.EntryPrice),
				t.ExitTime.Format("2006-01-02"),
				money(t.ExitPrice),
				decimal.NewFromFloat(t.Quantity).StringFixed(4),
				money(t.PnL),
				pct(t.PnLPercent),
				t.ExitReason,
			)
		}
	}
	return tw.Flush()
}
