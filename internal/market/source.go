package market

import "context"

// Source 行情来源：REST 拉取 K 线历史与 24h 行情。
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	FetchSnapshot(ctx context.Context, symbols []string) (Snapshot, error)

	Close() error
}
