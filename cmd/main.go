package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amirphl/quant-terminal/internal/backtest"
	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/config"
	"github.com/amirphl/quant-terminal/internal/db"
	"github.com/amirphl/quant-terminal/internal/db/conf"
	"github.com/amirphl/quant-terminal/internal/httpapi"
	"github.com/amirphl/quant-terminal/internal/indicator"
	"github.com/amirphl/quant-terminal/internal/marketdata"
	"github.com/amirphl/quant-terminal/internal/notifier"
	"github.com/amirphl/quant-terminal/internal/session"
	"github.com/amirphl/quant-terminal/internal/strategy"
	"github.com/amirphl/quant-terminal/internal/utils"
)

var (
	configFile string
	envFile    string
	cfg        config.Config
	closeLog   func() error
)

var rootCmd = &cobra.Command{
	Use:           "quant-terminal",
	Short:         "Backtest rule-based trading strategies on historical candles",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile, envFile)
		if err != nil {
			return err
		}
		applyFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		closeLog, err = utils.InitLogger(cfg.LogLevel, cfg.LogFile)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeLog != nil {
			return closeLog()
		}
		return nil
	},
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run one backtest and print the report",
	Example: "  quant-terminal backtest --symbol BTCUSDT --strategy EMA --lookback 2y --timeframe 1d\n" +
		"  quant-terminal backtest --provider polygon --symbol AAPL --strategy FIB --trades-csv trades.csv",
	RunE: runBacktest,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	RunE:  runServe,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download candles (through the cache when storage is configured)",
	RunE:  runFetch,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database (postgres) and apply the schema",
	RunE:  runMigrate,
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the available strategies and their default parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Kind", "Name", "Warmup Bars", "Defaults"})
		for _, kind := range strategy.Kinds() {
			s, err := strategy.New(kind, strategy.Params{})
			if err != nil {
				return err
			}
			params, _ := json.Marshal(s.Params())
			table.Append([]string{string(kind), s.Name(), fmt.Sprintf("%d", s.WarmupPeriod()), string(params)})
		}
		table.Render()
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Path to YAML config file")
	pf.StringVar(&envFile, "env-file", ".env", "Path to .env file with secrets")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-file", "", "Also write logs to this file")
	pf.String("provider", "binance", "Market data provider: "+strings.Join(marketdata.Names(), ", "))
	pf.String("storage", config.StorageMemory, "Storage: memory, postgres or sqlite")
	pf.String("db-conn-str", "", "Database connection string")
	pf.Bool("cache", false, "Cache downloaded candles in storage")

	for _, c := range []*cobra.Command{backtestCmd, fetchCmd} {
		f := c.Flags()
		f.String("symbol", "", "Ticker symbol, e.g. BTCUSDT or AAPL (fetch accepts a comma-separated list)")
		f.String("lookback", "1y", "Lookback period: Nd, Nw, Nmo or Ny")
		f.String("timeframe", "1d", "Candle timeframe: 1m, 5m, 15m, 30m, 1h, 4h, 1d, 1w")
	}

	f := backtestCmd.Flags()
	f.String("strategy", string(strategy.EMACrossover), "Strategy: EMA_CROSSOVER, FIBONACCI_618 or WEAK_HIGH_LOW")
	f.Float64("cash", 10000, "Initial cash")
	f.Float64("fee", 0.001, "Fee rate per side, e.g. 0.001 for 0.1%")
	f.Int("fast-period", 0, "EMA crossover fast period")
	f.Int("slow-period", 0, "EMA crossover slow period")
	f.String("ma-type", "", "Moving average type: SMA or EMA")
	f.Int("fib-window", 0, "Fibonacci rolling window")
	f.Float64("fib-ratio", 0, "Fibonacci retracement ratio")
	f.Float64("weak-tolerance", 0, "Weak high tolerance as a fraction of price")
	f.String("trades-csv", "", "Write the trade log to this CSV file")
	f.String("equity-csv", "", "Write the equity curve to this CSV file")
	f.String("parquet", "", "Write the equity curve to this parquet file")
	f.Bool("json", false, "Print the result as JSON instead of tables")
	f.Bool("notify", false, "Send the summary to telegram")

	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	fetchCmd.Flags().String("out", "", "Write the candles to this CSV file")

	rootCmd.AddCommand(backtestCmd, serveCmd, fetchCmd, migrateCmd, strategiesCmd)
}

// applyFlags overrides config values with explicitly set flags.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	flt := func(name string, dst *float64) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetFloat64(name)
		}
	}
	num := func(name string, dst *int) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}

	str("log-level", &c.LogLevel)
	str("log-file", &c.LogFile)
	str("provider", &c.Provider)
	str("storage", &c.Storage)
	str("db-conn-str", &c.DBConnStr)
	if flags.Lookup("cache") != nil && flags.Changed("cache") {
		c.Cache, _ = flags.GetBool("cache")
	}
	str("symbol", &c.Symbol)
	str("strategy", &c.Strategy)
	str("lookback", &c.Lookback)
	str("timeframe", &c.Timeframe)
	flt("cash", &c.Cash)
	flt("fee", &c.FeeRate)
	num("fast-period", &c.Params.FastPeriod)
	num("slow-period", &c.Params.SlowPeriod)
	num("fib-window", &c.Params.FibWindow)
	flt("fib-ratio", &c.Params.FibRatio)
	flt("weak-tolerance", &c.Params.WeakTolerance)
	if flags.Lookup("ma-type") != nil && flags.Changed("ma-type") {
		v, _ := flags.GetString("ma-type")
		c.Params.MAType = indicator.MAType(strings.ToLower(strings.TrimSpace(v)))
	}
	str("addr", &c.HTTPAddr)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Errorf("Error: %v", err)
		os.Exit(1)
	}
}

// openStorage returns the configured storage with its schema applied.
func openStorage(ctx context.Context) (db.Storage, error) {
	if cfg.Storage == config.StorageMemory {
		return db.NewMemory(), nil
	}
	dbConfig, err := conf.NewConfig(cfg.Storage, cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		return nil, fmt.Errorf("failed to create DB config: %w", err)
	}
	storage, err := db.New(*dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := storage.Migrate(ctx); err != nil {
		storage.Close()
		return nil, err
	}
	log.WithField("driver", cfg.Storage).Info("connected to database")
	return storage, nil
}

func newProvider(storage db.Storage) (marketdata.Provider, error) {
	provider, err := marketdata.New(cfg.Provider, cfg.MarketDataOptions())
	if err != nil {
		return nil, err
	}
	if cfg.Cache {
		return marketdata.NewCachedProvider(provider, storage, storage), nil
	}
	return provider, nil
}

func newNotifier() notifier.Notifier {
	if !cfg.Notifications() {
		return nil
	}
	n := notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	n.Retries = cfg.NotificationRetries
	n.Delay = cfg.NotificationDelay
	return n
}

func newRunner(storage db.Storage, notify bool) (*backtest.Runner, error) {
	provider, err := newProvider(storage)
	if err != nil {
		return nil, err
	}
	runner := &backtest.Runner{Provider: provider, Storage: storage}
	if notify {
		if n := newNotifier(); n != nil {
			runner.Notifier = n
		} else {
			log.Warn("notifications requested but TELEGRAM_TOKEN or TELEGRAM_CHAT_ID is missing")
		}
	}
	return runner, nil
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if cfg.Symbol == "" {
		return errors.New("--symbol is required")
	}
	kind, err := strategy.ParseKind(cfg.Strategy)
	if err != nil {
		return err
	}

	storage, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer storage.Close()

	notify, _ := cmd.Flags().GetBool("notify")
	runner, err := newRunner(storage, notify)
	if err != nil {
		return err
	}

	res, err := runner.Run(ctx, backtest.Request{
		Symbol:      marketdata.NormalizeSymbol(cfg.Symbol),
		Strategy:    kind,
		Params:      cfg.Params,
		Lookback:    cfg.Lookback,
		Timeframe:   cfg.Timeframe,
		InitialCash: cfg.Cash,
		FeeRate:     cfg.FeeRate,
	})
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		backtest.RenderReport(os.Stdout, res)
	}

	return exportResult(cmd, res)
}

func exportResult(cmd *cobra.Command, res *backtest.Result) error {
	writeFile := func(path string, write func(f *os.File) error) error {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := write(f); err != nil {
			f.Close()
			return err
		}
		log.WithField("file", path).Info("wrote export")
		return f.Close()
	}

	if path, _ := cmd.Flags().GetString("trades-csv"); path != "" {
		if err := writeFile(path, func(f *os.File) error { return backtest.WriteTradesCSV(f, res.Ledger) }); err != nil {
			return err
		}
	}
	if path, _ := cmd.Flags().GetString("equity-csv"); path != "" {
		if err := writeFile(path, func(f *os.File) error { return backtest.WriteEquityCSV(f, res.Ledger) }); err != nil {
			return err
		}
	}
	if path, _ := cmd.Flags().GetString("parquet"); path != "" {
		if err := backtest.WriteParquet(path, res.Ledger); err != nil {
			return err
		}
		log.WithField("file", path).Info("wrote export")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	storage, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer storage.Close()

	runner, err := newRunner(storage, cfg.Notifications())
	if err != nil {
		return err
	}
	if cfg.MemoTTL > 0 {
		memo := marketdata.NewMemoProvider(runner.Provider, cfg.MemoTTL)
		if cfg.RequestTimeout > 0 {
			memo.FetchTimeout = cfg.RequestTimeout
		}
		runner.Provider = memo
	}
	kind, err := strategy.ParseKind(cfg.Strategy)
	if err != nil {
		return err
	}
	sessions := session.NewStore(session.Defaults{
		Strategy:  kind,
		Lookback:  cfg.Lookback,
		Timeframe: cfg.Timeframe,
		Cash:      cfg.Cash,
		FeeRate:   cfg.FeeRate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewServer(runner, storage, sessions, cfg.RequestTimeout).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("serving JSON API")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("Graceful shutdown initiated...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type candleRow struct {
	Time   string  `csv:"time"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
	Source string  `csv:"source"`
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var symbols []string
	for _, sym := range strings.Split(cfg.Symbol, ",") {
		if sym = marketdata.NormalizeSymbol(strings.TrimSpace(sym)); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		return errors.New("--symbol is required")
	}
	out, _ := cmd.Flags().GetString("out")
	if out != "" && len(symbols) > 1 {
		return errors.New("--out takes a single symbol")
	}

	storage, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer storage.Close()

	provider, err := newProvider(storage)
	if err != nil {
		return err
	}

	results := make([]*candle.Series, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.FetchWorkers, 1))
	for i, sym := range symbols {
		g.Go(func() error {
			series, err := provider.Fetch(gctx, sym, cfg.Lookback, cfg.Timeframe)
			if err != nil {
				return fmt.Errorf("%s: %w", sym, err)
			}
			results[i] = series
			log.WithFields(log.Fields{
				"symbol":   series.Symbol(),
				"provider": provider.Name(),
				"bars":     series.Len(),
				"first":    series.First().Timestamp.Format(time.RFC3339),
				"last":     series.Last().Timestamp.Format(time.RFC3339),
			}).Info("fetched candles")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if out == "" {
		return nil
	}
	series := results[0]
	rows := make([]*candleRow, 0, series.Len())
	for _, c := range series.Candles() {
		rows = append(rows, newCandleRow(c))
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", out, err)
	}
	return f.Close()
}

func newCandleRow(c candle.Candle) *candleRow {
	return &candleRow{
		Time:   c.Timestamp.Format(time.RFC3339),
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
		Source: c.Source,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if cfg.Storage == config.StorageMemory {
		return errors.New("migrate needs --storage postgres or sqlite")
	}
	if cfg.Storage == config.StoragePostgres {
		admin, dbName, err := adminConnStr(cfg.DBConnStr)
		if err != nil {
			return err
		}
		if err := conf.EnsurePostgresDatabase(admin, dbName); err != nil {
			return err
		}
	}
	storage, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer storage.Close()
	log.Info("Database migrations completed successfully")
	return nil
}

// adminConnStr points connStr at the postgres maintenance database and
// returns the original database name.
func adminConnStr(connStr string) (string, string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse connection string: %w", err)
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return "", "", errors.New("database name not found in connection string")
	}
	u.Path = "/postgres"
	return u.String(), dbName, nil
}
