package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"dtms/internal/logger"
	"dtms/internal/market"

	"github.com/adshao/go-binance/v2/futures"
)

const maxKlineLimit = 1500

// Config describes how the snapshot source reaches the exchange and
// which timeframes each snapshot carries.
type Config struct {
	RESTBaseURL string
	ProxyURL    string
	HTTPTimeout time.Duration

	Intervals   []string
	CandleLimit int
	Indicator   market.IndicatorSettings
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.RESTBaseURL) == "" {
		c.RESTBaseURL = "https://fapi.binance.com"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if len(c.Intervals) == 0 {
		c.Intervals = []string{"5m", "15m", "1h"}
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 200
	}
	if c.CandleLimit > maxKlineLimit {
		c.CandleLimit = maxKlineLimit
	}
	return c
}

// Source implements market.Source on top of the go-binance futures client.
// The latest good snapshot per symbol is cached so a transient fetch
// failure degrades to aged data instead of an error; staleness is then
// visible through Snapshot.TakenAt.
type Source struct {
	cfg    Config
	client *futures.Client

	mu    sync.RWMutex
	cache map[string]*market.Snapshot
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Source{
		cfg:    final,
		client: client,
		cache:  make(map[string]*market.Snapshot),
	}, nil
}

func (s *Source) Snapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	clean := cleanSymbol(symbol)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	snap, err := s.buildSnapshot(ctx, symbol, clean)
	if err != nil {
		if cached := s.cached(clean); cached != nil {
			logger.Warnf("binance: snapshot refresh failed for %s, serving cached copy: %v", symbol, err)
			return cached, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.cache[clean] = snap
	s.mu.Unlock()
	return snap, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	s.cache = make(map[string]*market.Snapshot)
	s.mu.Unlock()
	return nil
}

func (s *Source) cached(clean string) *market.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[clean]
}

func (s *Source) buildSnapshot(ctx context.Context, symbol, clean string) (*market.Snapshot, error) {
	snap := &market.Snapshot{
		Symbol: symbol,
		Frames: make(map[string]market.Frame, len(s.cfg.Intervals)),
	}

	for _, interval := range s.cfg.Intervals {
		candles, err := s.fetchKlines(ctx, clean, interval)
		if err != nil {
			return nil, fmt.Errorf("klines %s %s: %w", clean, interval, err)
		}
		frame, err := market.ComputeFrame(candles, interval, s.cfg.Indicator)
		if err != nil {
			return nil, err
		}
		snap.Frames[interval] = frame
	}

	if err := s.fetchQuote(ctx, clean, snap); err != nil {
		return nil, err
	}
	snap.TakenAt = time.Now().UTC()
	return snap, nil
}

func (s *Source) fetchKlines(ctx context.Context, clean, interval string) ([]market.Candle, error) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().
		Symbol(clean).Interval(interval).Limit(s.cfg.CandleLimit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	if dur, ok := market.ParseIntervalDuration(interval); ok {
		out = market.DropUnclosedKline(out, dur)
	}
	return out, nil
}

func (s *Source) fetchQuote(ctx context.Context, clean string, snap *market.Snapshot) error {
	books, err := s.client.NewListBookTickersService().Symbol(clean).Do(ctx)
	if err != nil {
		return fmt.Errorf("book ticker %s: %w", clean, err)
	}
	for _, b := range books {
		if b == nil || b.Symbol != clean {
			continue
		}
		snap.Bid = parseFloat(b.BidPrice)
		snap.Ask = parseFloat(b.AskPrice)
	}
	if snap.Bid > 0 && snap.Ask > 0 {
		snap.Last = (snap.Bid + snap.Ask) / 2
		return nil
	}
	prices, err := s.client.NewListPricesService().Symbol(clean).Do(ctx)
	if err != nil {
		return fmt.Errorf("price %s: %w", clean, err)
	}
	for _, p := range prices {
		if p != nil && p.Symbol == clean {
			snap.Last = parseFloat(p.Price)
		}
	}
	if snap.Last <= 0 {
		return fmt.Errorf("no quote for %s", clean)
	}
	return nil
}

// cleanSymbol strips separators so "ETH/USDT" becomes "ETHUSDT".
func cleanSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	symbol = strings.ReplaceAll(symbol, "/", "")
	symbol = strings.ReplaceAll(symbol, "-", "")
	return symbol
}

func parseFloat(raw string) float64 {
	val, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return val
}
