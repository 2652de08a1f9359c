package model

import "gorm.io/datatypes"

// PortfolioModel maps to 'bot_portfolios'. 每个 bot 一行，持仓/冷却/历史以 JSON 存储。
type PortfolioModel struct {
	ID               int64          `gorm:"column:id;primaryKey"`
	BotID            string         `gorm:"column:bot_id;uniqueIndex"`
	AvailableBalance float64        `gorm:"column:available_balance"`
	MarginUsed       float64        `gorm:"column:margin_used"`
	UnrealizedPnl    float64        `gorm:"column:unrealized_pnl"`
	TotalValue       float64        `gorm:"column:total_value"`
	Positions        datatypes.JSON `gorm:"column:positions"`
	Cooldowns        datatypes.JSON `gorm:"column:cooldowns"`
	History          datatypes.JSON `gorm:"column:history"`
	UpdatedAtUnix    int64          `gorm:"column:updated_at"`
}

func (PortfolioModel) TableName() string { return "bot_portfolios" }

// ClosedTradeModel maps to 'closed_trades'. 平仓流水单独成表，便于按 bot/symbol 查询。
type ClosedTradeModel struct {
	ID          int64   `gorm:"column:id;primaryKey"`
	BotID       string  `gorm:"column:bot_id;index"`
	PositionID  string  `gorm:"column:position_id;index"`
	Symbol      string  `gorm:"column:symbol;index"`
	Side        string  `gorm:"column:side"`
	Reason      string  `gorm:"column:reason"`
	EntryPrice  float64 `gorm:"column:entry_price"`
	ExitPrice   float64 `gorm:"column:exit_price"`
	Margin      float64 `gorm:"column:margin"`
	Leverage    int     `gorm:"column:leverage"`
	RealizedPnl float64 `gorm:"column:realized_pnl"`
	PnlPct      float64 `gorm:"column:pnl_pct"`
	OpenedAtMs  int64   `gorm:"column:opened_at"`
	ClosedAtMs  int64   `gorm:"column:closed_at;index"`
}

func (ClosedTradeModel) TableName() string { return "closed_trades" }
