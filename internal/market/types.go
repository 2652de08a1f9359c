package market

import "time"

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Ticker 单个币种的最新行情。
type Ticker struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	ChangePct24h  float64 `json:"change_pct_24h"`
	QuoteVolume24 float64 `json:"quote_volume_24h"`
}

// Snapshot 一个决策周期开始时的行情快照：symbol -> Ticker。
// 周期内不可变，周期内所有平仓/强平结算价均取自该快照。
type Snapshot struct {
	TakenAt time.Time         `json:"taken_at"`
	Tickers map[string]Ticker `json:"tickers"`
}

// Price 返回 symbol 的快照价；不存在时 ok=false。
func (s Snapshot) Price(symbol string) (float64, bool) {
	t, ok := s.Tickers[symbol]
	if !ok {
		return 0, false
	}
	return t.Price, true
}

// Stale 判断快照是否超过给定 TTL。
func (s Snapshot) Stale(ttl time.Duration, now time.Time) bool {
	if s.TakenAt.IsZero() {
		return true
	}
	return now.Sub(s.TakenAt) > ttl
}

// Closes 从 K 线序列提取收盘价。
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
