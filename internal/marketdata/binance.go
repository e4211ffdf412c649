package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/amirphl/quant-terminal/internal/candle"
)

const (
	binanceBaseURL   = "https://api.binance.com"
	binancePageLimit = 1000
)

// BinanceProvider downloads klines from the public Binance REST API.
type BinanceProvider struct {
	BaseURL string
	Client  *http.Client
	Retry   RetryPolicy
	Now     func() time.Time
}

// NewBinanceProvider builds a provider with an optional HTTP proxy.
func NewBinanceProvider(baseURL, proxyURL string, retry RetryPolicy) (*BinanceProvider, error) {
	if baseURL == "" {
		baseURL = binanceBaseURL
	}

	transport := &http.Transport{}
	if proxyURL != "" {
		proxyParsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyParsed)
	}

	return &BinanceProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second, Transport: transport},
		Retry:   retry,
		Now:     time.Now,
	}, nil
}

func (b *BinanceProvider) Name() string { return "binance" }

func binanceInterval(timeframe string) (string, error) {
	switch timeframe {
	case "1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w":
		return timeframe, nil
	default:
		return "", fmt.Errorf("unsupported timeframe: %s", timeframe)
	}
}

func (b *BinanceProvider) Fetch(ctx context.Context, symbol, lookback, timeframe string) (*candle.Series, error) {
	start, end, err := Window(b.Now(), lookback, timeframe)
	if err != nil {
		return nil, err
	}
	interval, err := binanceInterval(timeframe)
	if err != nil {
		return nil, err
	}

	var all []candle.Candle
	from := start.UnixMilli()
	to := end.UnixMilli()
	for from < to {
		page, err := b.fetchPage(ctx, symbol, interval, timeframe, from, to)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < binancePageLimit {
			break
		}
		from = page[len(page)-1].Timestamp.UnixMilli() + 1
	}

	log.WithFields(log.Fields{
		"symbol":    symbol,
		"timeframe": timeframe,
		"candles":   len(all),
	}).Debug("downloaded candles from binance")

	return buildSeries(b.Name(), symbol, timeframe, all, start, end)
}

func (b *BinanceProvider) fetchPage(ctx context.Context, symbol, interval, timeframe string, startMs, endMs int64) ([]candle.Candle, error) {
	q := url.Values{}
	q.Set("symbol", NormalizeSymbol(symbol))
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(startMs, 10))
	q.Set("endTime", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(binancePageLimit))
	apiURL := b.BaseURL + "/api/v3/klines?" + q.Encode()

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}

	var rawCandles [][]any
	err := b.Retry.do(ctx, b.Name(), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return retryable(fmt.Errorf("network error: %w", err))
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return retryable(fmt.Errorf("error reading response body: %w", err))
		}

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusBadRequest:
			// unknown symbols are reported as 400 with code -1121
			return fmt.Errorf("%w: binance rejected %s: %s", ErrDataUnavailable, symbol, string(body))
		case isRetryableHTTPStatus(resp.StatusCode):
			return retryable(fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body)))
		default:
			return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
		}

		if err := json.Unmarshal(body, &rawCandles); err != nil {
			return retryable(fmt.Errorf("JSON decode error: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]candle.Candle, 0, len(rawCandles))
	for _, raw := range rawCandles {
		c, ok := parseKline(raw, symbol, timeframe)
		if !ok {
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseKline(raw []any, symbol, timeframe string) (candle.Candle, bool) {
	if len(raw) < 6 {
		return candle.Candle{}, false
	}

	var timestamp int64
	switch v := raw[0].(type) {
	case float64:
		timestamp = int64(v)
	case string:
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return candle.Candle{}, false
		}
		timestamp = ts
	default:
		return candle.Candle{}, false
	}

	var values [5]float64
	for i := range values {
		switch n := raw[i+1].(type) {
		case float64:
			values[i] = n
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return candle.Candle{}, false
			}
			values[i] = f
		default:
			return candle.Candle{}, false
		}
	}

	return candle.Candle{
		Timestamp: time.UnixMilli(timestamp).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		Symbol:    symbol,
		Timeframe: timeframe,
		Source:    "binance",
	}, true
}
