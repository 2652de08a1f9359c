package market

import (
	"context"
	"sync"
	"time"

	"quantbot/internal/logger"
)

// 中文说明：
// Store 缓存各 symbol+interval 的 K 线与最近一次行情快照。
// 分析工具只读取缓存：快照过期时对应序列视为不可用，
// 由工具自身的长度校验退化为 InsufficientDataError，而不是崩溃。

type candleKey struct {
	Symbol   string
	Interval string
}

type Store struct {
	source    Source
	maxCached int
	ttl       time.Duration

	mu       sync.RWMutex
	candles  map[candleKey][]Candle
	snapshot Snapshot
}

func NewStore(source Source, maxCached int, ttl time.Duration) *Store {
	if maxCached <= 0 {
		maxCached = 500
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{
		source:    source,
		maxCached: maxCached,
		ttl:       ttl,
		candles:   make(map[candleKey][]Candle),
	}
}

// Preheat 启动时为候选币种拉取初始历史，失败只告警不终止。
func (s *Store) Preheat(ctx context.Context, symbols []string, interval string, limit int) {
	for _, sym := range symbols {
		if _, err := s.Refresh(ctx, sym, interval, limit); err != nil {
			logger.Warnf("market: preheat %s %s failed: %v", sym, interval, err)
		}
	}
}

// Refresh 重新拉取并缓存 K 线。
func (s *Store) Refresh(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if limit <= 0 || limit > s.maxCached {
		limit = s.maxCached
	}
	candles, err := s.source.FetchHistory(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.candles[candleKey{Symbol: symbol, Interval: interval}] = candles
	s.mu.Unlock()
	return candles, nil
}

// Candles 返回缓存的 K 线（副本）。
func (s *Store) Candles(symbol, interval string) []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cached := s.candles[candleKey{Symbol: symbol, Interval: interval}]
	if len(cached) == 0 {
		return nil
	}
	out := make([]Candle, len(cached))
	copy(out, cached)
	return out
}

// ClosePrices 返回缓存 K 线的收盘序列；快照过期时返回 nil。
func (s *Store) ClosePrices(symbol, interval string) []float64 {
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()
	if snap.Stale(s.ttl, time.Now()) {
		return nil
	}
	candles := s.Candles(symbol, interval)
	if len(candles) == 0 {
		return nil
	}
	return Closes(candles)
}

// RefreshSnapshot 拉取并缓存最新行情快照。
func (s *Store) RefreshSnapshot(ctx context.Context, symbols []string) (Snapshot, error) {
	snap, err := s.source.FetchSnapshot(ctx, symbols)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	return snap, nil
}

// Snapshot 返回最近缓存的快照。
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}
