package backtest

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/amirphl/quant-terminal/internal/tfutils"
)

// profitFactorCap is reported when there are winning trades but no losses.
const profitFactorCap = 999.0

// Summary holds the performance statistics of a Ledger. Every field is a
// finite number.
type Summary struct {
	InitialCash float64 `json:"initial_cash"`
	FinalEquity float64 `json:"final_equity"`
	TotalReturn float64 `json:"total_return"` // fraction, 0.1 == +10%

	NumTrades          int     `json:"num_trades"`
	Wins               int     `json:"wins"`
	Losses             int     `json:"losses"`
	WinRate            float64 `json:"win_rate"`
	InsufficientSample bool    `json:"insufficient_sample"`

	Sharpe           float64 `json:"sharpe"`
	SharpeDegenerate bool    `json:"sharpe_degenerate"`
	MaxDrawdown      float64 `json:"max_drawdown"` // fraction of the running peak

	AvgWin          float64 `json:"avg_win"`
	AvgLoss         float64 `json:"avg_loss"`
	ProfitFactor    float64 `json:"profit_factor"`
	Expectancy      float64 `json:"expectancy"`
	MaxConsecWins   int     `json:"max_consec_wins"`
	MaxConsecLosses int     `json:"max_consec_losses"`
	Exposure        float64 `json:"exposure"`
	TotalFees       float64 `json:"total_fees"`
	StillOpen       bool    `json:"still_open"`
}

// Summarize computes the performance statistics of ledger. A position still
// open at the end is marked to the last close.
func Summarize(ledger *Ledger) Summary {
	var s Summary
	if ledger == nil {
		s.InsufficientSample = true
		s.SharpeDegenerate = true
		return s
	}

	s.InitialCash = ledger.InitialCash
	s.FinalEquity = ledger.FinalEquity()
	if ledger.InitialCash > 0 {
		s.TotalReturn = s.FinalEquity/ledger.InitialCash - 1
	}
	s.StillOpen = ledger.Open != nil
	if ledger.Open != nil {
		s.TotalFees += ledger.Open.EntryFee
	}

	tradeStats(&s, ledger.Trades)
	s.Sharpe, s.SharpeDegenerate = sharpe(ledger.Equity, tfutils.PeriodsPerYear(ledger.Timeframe))
	s.MaxDrawdown = maxDrawdown(ledger.InitialCash, ledger.Equity)

	if len(ledger.Equity) > 0 {
		inMarket := 0
		for _, p := range ledger.Equity {
			if p.InMarket {
				inMarket++
			}
		}
		s.Exposure = float64(inMarket) / float64(len(ledger.Equity))
	}

	return sanitize(s)
}

func tradeStats(s *Summary, trades []Trade) {
	s.NumTrades = len(trades)
	if len(trades) == 0 {
		s.InsufficientSample = true
		return
	}

	var grossWin, grossLoss, total float64
	consecWins, consecLosses := 0, 0
	for _, t := range trades {
		s.TotalFees += t.Fees()
		total += t.NetPnL
		if t.NetPnL > 0 {
			s.Wins++
			grossWin += t.NetPnL
			consecWins++
			consecLosses = 0
		} else {
			s.Losses++
			grossLoss += t.NetPnL
			consecLosses++
			consecWins = 0
		}
		if consecWins > s.MaxConsecWins {
			s.MaxConsecWins = consecWins
		}
		if consecLosses > s.MaxConsecLosses {
			s.MaxConsecLosses = consecLosses
		}
	}

	s.WinRate = float64(s.Wins) / float64(s.NumTrades)
	s.Expectancy = total / float64(s.NumTrades)
	if s.Wins > 0 {
		s.AvgWin = grossWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = grossLoss / float64(s.Losses)
	}
	switch {
	case grossLoss < 0:
		s.ProfitFactor = grossWin / -grossLoss
	case grossWin > 0:
		s.ProfitFactor = profitFactorCap
	}
}

// sharpe annualizes the mean over the sample standard deviation of per-bar
// equity returns. The bool is true when the ratio is undefined.
func sharpe(equity []EquityPoint, periodsPerYear float64) (float64, bool) {
	returns := make([]float64, 0, len(equity))
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, equity[i].Equity/prev-1)
	}
	if len(returns) < 2 {
		return 0, true
	}

	mean, err := stats.Mean(returns)
	if err != nil {
		return 0, true
	}
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil || sd == 0 || math.IsNaN(sd) {
		return 0, true
	}
	return mean / sd * math.Sqrt(periodsPerYear), false
}

// maxDrawdown is the largest peak-to-trough decline as a fraction of the
// peak. The initial cash counts as the first peak.
func maxDrawdown(initial float64, equity []EquityPoint) float64 {
	peak, dd := initial, 0.0
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if d := (peak - p.Equity) / peak; d > dd {
				dd = d
			}
		}
	}
	return dd
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func sanitize(s Summary) Summary {
	for _, f := range []*float64{
		&s.FinalEquity, &s.TotalReturn, &s.WinRate, &s.Sharpe, &s.MaxDrawdown,
		&s.AvgWin, &s.AvgLoss, &s.ProfitFactor, &s.Expectancy, &s.Exposure, &s.TotalFees,
	} {
		*f = finite(*f)
	}
	return s
}
