package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
)

const maxReportTrades = 10

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }
func num(v float64) string { return fmt.Sprintf("%.2f", v) }

// RenderReport prints the summary table followed by the most recent trades.
func RenderReport(w io.Writer, res *Result) {
	s := res.Summary
	fmt.Fprintf(w, "Backtest Results (%s) %s %s, %d bars %s .. %s\n",
		res.Strategy, res.Request.Symbol, res.Request.Timeframe, res.Bars,
		res.Start.Format(time.DateOnly), res.End.Format(time.DateOnly))

	winRate := pct(s.WinRate)
	if s.InsufficientSample {
		winRate = "n/a"
	}
	sharpe := num(s.Sharpe)
	if s.SharpeDegenerate {
		sharpe = "n/a"
	}

	summary := tablewriter.NewWriter(w)
	summary.SetHeader([]string{"Metric", "Value"})
	summary.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, row := range [][]string{
		{"Starting Balance", num(s.InitialCash)},
		{"Final Equity", num(s.FinalEquity)},
		{"Total Return", pct(s.TotalReturn)},
		{"Trades", fmt.Sprintf("%d (wins %d, losses %d)", s.NumTrades, s.Wins, s.Losses)},
		{"Win Rate", winRate},
		{"Sharpe", sharpe},
		{"Max Drawdown", pct(s.MaxDrawdown)},
		{"Avg Win / Avg Loss", num(s.AvgWin) + " / " + num(s.AvgLoss)},
		{"Profit Factor", num(s.ProfitFactor)},
		{"Expectancy", num(s.Expectancy)},
		{"Max Consec Wins / Losses", fmt.Sprintf("%d / %d", s.MaxConsecWins, s.MaxConsecLosses)},
		{"Exposure", pct(s.Exposure)},
		{"Total Fees", num(s.TotalFees)},
		{"Still Open", fmt.Sprintf("%t", s.StillOpen)},
	} {
		summary.Append(row)
	}
	summary.Render()

	if res.Ledger == nil || len(res.Ledger.Trades) == 0 {
		fmt.Fprintln(w, "No closed trades.")
		return
	}

	trades := res.Ledger.Trades
	skipped := 0
	if len(trades) > maxReportTrades {
		skipped = len(trades) - maxReportTrades
		trades = trades[skipped:]
	}

	tradeTable := tablewriter.NewWriter(w)
	tradeTable.SetHeader([]string{"#", "Entry", "Entry Time", "Exit", "Exit Time", "Net PnL", "Return"})
	for i, t := range trades {
		tradeTable.Append([]string{
			fmt.Sprintf("%d", skipped+i+1),
			num(t.EntryPrice),
			t.EntryTime.Format(time.DateOnly),
			num(t.ExitPrice),
			t.ExitTime.Format(time.DateOnly),
			num(t.NetPnL),
			fmt.Sprintf("%.2f%%", t.ReturnPct),
		})
	}
	tradeTable.Render()
	if skipped > 0 {
		fmt.Fprintf(w, "... and %d earlier trades\n", skipped)
	}
}
