package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/metrics"
)

// Options carries vendor credentials and transport settings.
type Options struct {
	PolygonAPIKey   string
	AlpacaAPIKey    string
	AlpacaAPISecret string
	AlpacaDataURL   string
	AlpacaFeed      string
	WallexAPIKey    string
	BinanceBaseURL  string
	ProxyURL        string
	Retry           RetryPolicy
}

var constructors = map[string]func(Options) (Provider, error){
	"binance": func(o Options) (Provider, error) {
		return NewBinanceProvider(o.BinanceBaseURL, o.ProxyURL, o.Retry)
	},
	"polygon": func(o Options) (Provider, error) {
		if o.PolygonAPIKey == "" {
			return nil, fmt.Errorf("polygon provider requires an API key")
		}
		return NewPolygonProvider(o.PolygonAPIKey), nil
	},
	"alpaca": func(o Options) (Provider, error) {
		if o.AlpacaAPIKey == "" || o.AlpacaAPISecret == "" {
			return nil, fmt.Errorf("alpaca provider requires an API key and secret")
		}
		return NewAlpacaProvider(o.AlpacaAPIKey, o.AlpacaAPISecret, o.AlpacaDataURL, o.AlpacaFeed), nil
	},
	"wallex": func(o Options) (Provider, error) {
		return NewWallexProvider(o.WallexAPIKey, o.Retry), nil
	},
}

// Names lists the registered providers.
func Names() []string {
	out := make([]string, 0, len(constructors))
	for name := range constructors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New builds the named provider.
func New(name string, opts Options) (Provider, error) {
	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnsupportedProvider, name, strings.Join(Names(), ", "))
	}
	if opts.Retry.MaxRetries == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	p, err := ctor(opts)
	if err != nil {
		return nil, err
	}
	return &instrumented{Provider: p}, nil
}

// instrumented counts vendor fetches. Cache and memo hits are counted by the
// caching providers, so only calls that reach the vendor land here.
type instrumented struct {
	Provider
}

func (i *instrumented) Fetch(ctx context.Context, symbol, lookback, timeframe string) (*candle.Series, error) {
	series, err := i.Provider.Fetch(ctx, symbol, lookback, timeframe)
	if err != nil {
		metrics.ObserveFetch(i.Name(), "error")
		return nil, err
	}
	metrics.ObserveFetch(i.Name(), "ok")
	return series, nil
}
