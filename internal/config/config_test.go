package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/quant-terminal/internal/strategy"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 10000.0, cfg.Cash)
	assert.Equal(t, 0.001, cfg.FeeRate)
	assert.Equal(t, "1y", cfg.Lookback)
	assert.Equal(t, "1d", cfg.Timeframe)
	assert.Equal(t, "binance", cfg.Provider)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.Notifications())
}

func TestLoad(t *testing.T) {
	t.Setenv("POLYGON_API_KEY", "from-process")

	path := writeFile(t, "config.yaml", `
provider: polygon
storage: sqlite
db_conn_str: "file:test.db"
symbol: AAPL
strategy: FIBONACCI_618
params:
  fib_window: 50
cash: 2500
retry_base_delay: 2s
`)
	env := writeFile(t, ".env", "POLYGON_API_KEY=from-file\nTELEGRAM_TOKEN=tok\nTELEGRAM_CHAT_ID=42\n")
	t.Cleanup(func() {
		os.Unsetenv("TELEGRAM_TOKEN")
		os.Unsetenv("TELEGRAM_CHAT_ID")
	})

	cfg, err := Load(path, env)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "polygon", cfg.Provider)
	assert.Equal(t, StorageSQLite, cfg.Storage)
	assert.Equal(t, "AAPL", cfg.Symbol)
	assert.Equal(t, 50, cfg.Params.FibWindow)
	assert.Equal(t, 2500.0, cfg.Cash)
	assert.Equal(t, 0.001, cfg.FeeRate, "unset keys keep defaults")
	assert.Equal(t, 2*time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, "from-process", cfg.PolygonAPIKey, "process env wins over .env")
	assert.True(t, cfg.Notifications())

	opts := cfg.MarketDataOptions()
	assert.Equal(t, "from-process", opts.PolygonAPIKey)
	assert.Equal(t, 2*time.Second, opts.Retry.BaseDelay)
	assert.Equal(t, 3, opts.Retry.MaxRetries)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	bad := writeFile(t, "bad.yaml", "cash: [1, 2")
	_, err = Load(bad, filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage = "redis" }},
		{"postgres without dsn", func(c *Config) { c.Storage = StoragePostgres }},
		{"unknown strategy", func(c *Config) { c.Strategy = "MACD" }},
		{"bad timeframe", func(c *Config) { c.Timeframe = "2h" }},
		{"bad lookback", func(c *Config) { c.Lookback = "forever" }},
		{"zero cash", func(c *Config) { c.Cash = 0 }},
		{"fee too high", func(c *Config) { c.FeeRate = 1 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := Default()
	cfg.Strategy = "weak"
	assert.NoError(t, cfg.Validate())
	kind, _ := strategy.ParseKind(cfg.Strategy)
	assert.Equal(t, strategy.WeakHighLow, kind)
}
