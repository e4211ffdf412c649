package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/db"
	"github.com/amirphl/quant-terminal/internal/journal"
	"github.com/amirphl/quant-terminal/internal/marketdata"
	"github.com/amirphl/quant-terminal/internal/metrics"
	"github.com/amirphl/quant-terminal/internal/notifier"
	"github.com/amirphl/quant-terminal/internal/strategy"
	"github.com/amirphl/quant-terminal/internal/tfutils"
)

var ErrInvalidRequest = errors.New("invalid backtest request")

// Request describes one backtest. It is the whole context of a run; nothing
// is read from package state.
type Request struct {
	Symbol      string          `json:"symbol"`
	Strategy    strategy.Kind   `json:"strategy"`
	Params      strategy.Params `json:"params"`
	Lookback    string          `json:"lookback"`
	Timeframe   string          `json:"timeframe"`
	InitialCash float64         `json:"initial_cash"`
	FeeRate     float64         `json:"fee_rate"`
}

// Validate checks the request shape. Strategy kinds are checked by the
// strategy package so that ErrInvalidStrategy stays distinguishable.
func (r Request) Validate() error {
	var problems []string
	if strings.TrimSpace(r.Symbol) == "" {
		problems = append(problems, "symbol is required")
	}
	if !tfutils.IsValidTimeframe(r.Timeframe) {
		problems = append(problems, fmt.Sprintf("unsupported timeframe %q", r.Timeframe))
	}
	if _, err := tfutils.LookbackStart(time.Now(), r.Lookback); err != nil {
		problems = append(problems, err.Error())
	}
	if !(r.InitialCash > 0) {
		problems = append(problems, "initial cash must be positive")
	}
	if !(r.FeeRate >= 0 && r.FeeRate < 1) {
		problems = append(problems, "fee rate must be in [0, 1)")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// Result is the outcome of a completed run.
type Result struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Request   Request   `json:"request"`
	Strategy  string    `json:"strategy_name"`
	Bars      int       `json:"bars"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Summary   Summary   `json:"summary"`
	Ledger    *Ledger   `json:"ledger"`
}

// Runner executes fetch, generate, simulate and summarize in order.
// Storage and Notifier are optional.
type Runner struct {
	Provider marketdata.Provider
	Storage  db.Storage
	Notifier notifier.Notifier
	Now      func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Runner) journal() journal.Journaler {
	if r.Storage == nil {
		return nil
	}
	return r.Storage
}

// Run executes req. Data and strategy errors are returned wrapped so that
// errors.Is matches marketdata.ErrDataUnavailable and
// strategy.ErrInvalidStrategy.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	strat, err := strategy.New(req.Strategy, req.Params)
	if err != nil {
		return nil, err
	}
	if r.Provider == nil {
		return nil, fmt.Errorf("no market data provider configured")
	}

	id := uuid.NewString()
	started := time.Now()
	fields := log.Fields{
		"run_id":    id,
		"symbol":    req.Symbol,
		"strategy":  req.Strategy,
		"timeframe": req.Timeframe,
		"lookback":  req.Lookback,
	}
	logger := log.WithFields(fields)
	journal.Record(ctx, r.journal(), journal.TypeRunStarted, "backtest started", fields)

	result, err := r.run(ctx, id, req, strat)
	metrics.ObserveRun(string(req.Strategy), err, time.Since(started))
	if err != nil {
		logger.WithError(err).Error("backtest failed")
		failed := log.Fields{"error": err.Error()}
		for k, v := range fields {
			failed[k] = v
		}
		journal.Record(ctx, r.journal(), journal.TypeRunFailed, "backtest failed", failed)
		return nil, err
	}

	if r.Storage != nil {
		if err := r.persist(ctx, result); err != nil {
			logger.WithError(err).Warn("failed to persist backtest run")
		}
	}
	journal.Record(ctx, r.journal(), journal.TypeRunCompleted, "backtest completed", map[string]any{
		"run_id":       id,
		"trades":       result.Summary.NumTrades,
		"total_return": result.Summary.TotalReturn,
		"sharpe":       result.Summary.Sharpe,
	})
	logger.WithFields(log.Fields{
		"trades":       result.Summary.NumTrades,
		"total_return": result.Summary.TotalReturn,
		"sharpe":       result.Summary.Sharpe,
		"max_drawdown": result.Summary.MaxDrawdown,
	}).Info("backtest completed")

	if r.Notifier != nil {
		if err := r.Notifier.Send(ctx, FormatSummary(result)); err != nil {
			logger.WithError(err).Warn("failed to send backtest notification")
		}
	}
	return result, nil
}

func (r *Runner) run(ctx context.Context, id string, req Request, strat strategy.Strategy) (*Result, error) {
	series, err := r.Provider.Fetch(ctx, req.Symbol, req.Lookback, req.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("fetching %s from %s: %w", req.Symbol, r.Provider.Name(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return Backtest(id, r.now(), req, strat, series)
}

// Backtest runs strat over an already loaded series.
func Backtest(id string, createdAt time.Time, req Request, strat strategy.Strategy, series *candle.Series) (*Result, error) {
	signals := strat.Generate(series)
	ledger, err := Simulate(series, signals, req.InitialCash, req.FeeRate)
	if err != nil {
		return nil, err
	}

	req.Params = strat.Params()
	return &Result{
		ID:        id,
		CreatedAt: createdAt,
		Request:   req,
		Strategy:  strat.Name(),
		Bars:      series.Len(),
		Start:     series.First().Timestamp,
		End:       series.Last().Timestamp,
		Summary:   Summarize(ledger),
		Ledger:    ledger,
	}, nil
}

func (r *Runner) persist(ctx context.Context, res *Result) error {
	run, err := ToRun(res)
	if err != nil {
		return err
	}
	return r.Storage.SaveRun(ctx, run)
}

// ToRun converts a result into its storage record.
func ToRun(res *Result) (db.Run, error) {
	params, err := json.Marshal(res.Request.Params)
	if err != nil {
		return db.Run{}, fmt.Errorf("encoding params: %w", err)
	}
	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return db.Run{}, fmt.Errorf("encoding summary: %w", err)
	}
	ledger, err := json.Marshal(res.Ledger)
	if err != nil {
		return db.Run{}, fmt.Errorf("encoding ledger: %w", err)
	}
	return db.Run{
		ID:          res.ID,
		Symbol:      res.Request.Symbol,
		Strategy:    string(res.Request.Strategy),
		Timeframe:   res.Request.Timeframe,
		Lookback:    res.Request.Lookback,
		InitialCash: res.Request.InitialCash,
		FeeRate:     res.Request.FeeRate,
		Params:      params,
		Summary:     summary,
		Ledger:      ledger,
		CreatedAt:   res.CreatedAt,
	}, nil
}

// FromRun rebuilds a result from its storage record.
func FromRun(run db.Run) (*Result, error) {
	res := &Result{
		ID:        run.ID,
		CreatedAt: run.CreatedAt,
		Request: Request{
			Symbol:      run.Symbol,
			Strategy:    strategy.Kind(run.Strategy),
			Lookback:    run.Lookback,
			Timeframe:   run.Timeframe,
			InitialCash: run.InitialCash,
			FeeRate:     run.FeeRate,
		},
	}
	if len(run.Params) > 0 {
		if err := json.Unmarshal(run.Params, &res.Request.Params); err != nil {
			return nil, fmt.Errorf("decoding params of run %s: %w", run.ID, err)
		}
	}
	if len(run.Summary) > 0 {
		if err := json.Unmarshal(run.Summary, &res.Summary); err != nil {
			return nil, fmt.Errorf("decoding summary of run %s: %w", run.ID, err)
		}
	}
	if len(run.Ledger) > 0 {
		res.Ledger = &Ledger{}
		if err := json.Unmarshal(run.Ledger, res.Ledger); err != nil {
			return nil, fmt.Errorf("decoding ledger of run %s: %w", run.ID, err)
		}
		res.Bars = len(res.Ledger.Equity)
		if res.Bars > 0 {
			res.Start = res.Ledger.Equity[0].Time
			res.End = res.Ledger.Equity[res.Bars-1].Time
		}
	}
	if s, err := strategy.New(res.Request.Strategy, res.Request.Params); err == nil {
		res.Strategy = s.Name()
	}
	return res, nil
}

// FormatSummary renders a short plain-text digest for chat notifications.
func FormatSummary(res *Result) string {
	s := res.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "Backtest %s %s (%s, %s)\n", res.Request.Symbol, res.Strategy, res.Request.Timeframe, res.Request.Lookback)
	fmt.Fprintf(&b, "Return: %.2f%%  Final equity: %.2f\n", s.TotalReturn*100, s.FinalEquity)
	if s.InsufficientSample {
		fmt.Fprintf(&b, "Trades: %d  Win rate: n/a\n", s.NumTrades)
	} else {
		fmt.Fprintf(&b, "Trades: %d  Win rate: %.1f%%\n", s.NumTrades, s.WinRate*100)
	}
	if s.SharpeDegenerate {
		b.WriteString("Sharpe: n/a")
	} else {
		fmt.Fprintf(&b, "Sharpe: %.2f", s.Sharpe)
	}
	fmt.Fprintf(&b, "  Max drawdown: %.2f%%", s.MaxDrawdown*100)
	if s.StillOpen {
		b.WriteString("\nPosition still open")
	}
	return b.String()
}
