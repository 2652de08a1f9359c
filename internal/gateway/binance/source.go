package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"quantbot/internal/market"
	symbolpkg "quantbot/internal/pkg/symbol"
)

const maxHistoryLimit = 1500

// Config 描述币安行情源的访问参数。
type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}

// Source 基于 go-binance SDK 实现 market.Source（USDⓈ-M 合约）。
type Source struct {
	cfg    Config
	client *futures.Client
}

var _ market.Source = (*Source)(nil)

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(final.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	// 币安要求无斜杠形式（ETH/USDT -> ETHUSDT）
	clean := symbolpkg.ToExchange(symbol)
	kls, err := s.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		// 丢弃未收盘的最后一根，避免指标基于半成品 K 线
		if kl.CloseTime > now {
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
	return out, nil
}

func (s *Source) FetchSnapshot(ctx context.Context, symbols []string) (market.Snapshot, error) {
	wanted := make(map[string]string, len(symbols)) // 交易所形式 -> 内部形式
	for _, sym := range symbols {
		normalized := symbolpkg.Normalize(sym)
		if normalized == "" {
			continue
		}
		wanted[symbolpkg.ToExchange(normalized)] = normalized
	}
	if len(wanted) == 0 {
		return market.Snapshot{}, fmt.Errorf("no valid symbols for snapshot")
	}
	stats, err := s.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return market.Snapshot{}, err
	}
	snap := market.Snapshot{
		TakenAt: time.Now(),
		Tickers: make(map[string]market.Ticker, len(wanted)),
	}
	for _, st := range stats {
		if st == nil {
			continue
		}
		internal, ok := wanted[st.Symbol]
		if !ok {
			continue
		}
		snap.Tickers[internal] = market.Ticker{
			Symbol:        internal,
			Price:         parseFloat(st.LastPrice),
			ChangePct24h:  parseFloat(st.PriceChangePercent),
			QuoteVolume24: parseFloat(st.QuoteVolume),
		}
	}
	if len(snap.Tickers) == 0 {
		return market.Snapshot{}, fmt.Errorf("snapshot empty: none of %d symbols returned by exchange", len(wanted))
	}
	return snap, nil
}

func (s *Source) Close() error { return nil }

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
