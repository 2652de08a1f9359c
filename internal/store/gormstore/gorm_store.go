package gormstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"quantbot/internal/ledger"
	storemodel "quantbot/internal/store/model"
)

// GormStore 用 Gorm + SQLite 持久化账本视图与平仓流水。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&storemodel.PortfolioModel{}, &storemodel.ClosedTradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: 读并发留一点余量，同时控制锁竞争
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SavePortfolio 整体落库：账户行 upsert，新的平仓流水追加。
func (s *GormStore) SavePortfolio(botID string, view ledger.View) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return fmt.Errorf("bot_id 必填")
	}
	positions, err := json.Marshal(view.Positions)
	if err != nil {
		return err
	}
	cooldowns, err := json.Marshal(view.Cooldowns)
	if err != nil {
		return err
	}
	history, err := json.Marshal(view.History)
	if err != nil {
		return err
	}
	row := storemodel.PortfolioModel{
		BotID:            botID,
		AvailableBalance: view.Account.AvailableBalance,
		MarginUsed:       view.Account.MarginUsed,
		UnrealizedPnl:    view.Account.UnrealizedPnl,
		TotalValue:       view.Account.TotalValue,
		Positions:        datatypes.JSON(positions),
		Cooldowns:        datatypes.JSON(cooldowns),
		History:          datatypes.JSON(history),
		UpdatedAtUnix:    time.Now().UnixMilli(),
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "bot_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"available_balance", "margin_used", "unrealized_pnl", "total_value",
				"positions", "cooldowns", "history", "updated_at",
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		return s.appendNewTrades(tx, botID, view.History)
	})
}

// appendNewTrades 幂等追加平仓流水：position_id 已存在的跳过。
func (s *GormStore) appendNewTrades(tx *gorm.DB, botID string, trades []ledger.ClosedTrade) error {
	for _, tr := range trades {
		var count int64
		if err := tx.Model(&storemodel.ClosedTradeModel{}).
			Where("position_id = ?", tr.PositionID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		row := storemodel.ClosedTradeModel{
			BotID:       botID,
			PositionID:  tr.PositionID,
			Symbol:      strings.ToUpper(tr.Symbol),
			Side:        tr.Side,
			Reason:      tr.Reason,
			EntryPrice:  tr.EntryPrice,
			ExitPrice:   tr.ExitPrice,
			Margin:      tr.Margin,
			Leverage:    tr.Leverage,
			RealizedPnl: tr.RealizedPnl,
			PnlPct:      tr.PnlPct,
			OpenedAtMs:  tr.OpenedAt.UnixMilli(),
			ClosedAtMs:  tr.ClosedAt.UnixMilli(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// LoadPortfolio 读回账本视图。没有记录时 ok=false。
func (s *GormStore) LoadPortfolio(botID string) (ledger.View, bool, error) {
	if s == nil || s.db == nil {
		return ledger.View{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var row storemodel.PortfolioModel
	if err := s.db.Where("bot_id = ?", strings.TrimSpace(botID)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.View{}, false, nil
		}
		return ledger.View{}, false, err
	}
	view := ledger.View{
		Account: ledger.Account{
			AvailableBalance: row.AvailableBalance,
			MarginUsed:       row.MarginUsed,
			UnrealizedPnl:    row.UnrealizedPnl,
			TotalValue:       row.TotalValue,
		},
	}
	if len(row.Positions) > 0 {
		if err := json.Unmarshal(row.Positions, &view.Positions); err != nil {
			return ledger.View{}, false, fmt.Errorf("持仓 JSON 解析失败: %w", err)
		}
	}
	if len(row.Cooldowns) > 0 {
		if err := json.Unmarshal(row.Cooldowns, &view.Cooldowns); err != nil {
			return ledger.View{}, false, fmt.Errorf("冷却 JSON 解析失败: %w", err)
		}
	}
	if len(row.History) > 0 {
		if err := json.Unmarshal(row.History, &view.History); err != nil {
			return ledger.View{}, false, fmt.Errorf("历史 JSON 解析失败: %w", err)
		}
	}
	return view, true, nil
}

// ListClosedTrades 按 bot 查平仓流水，新的在前。
func (s *GormStore) ListClosedTrades(botID string, limit int) ([]ledger.ClosedTrade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []storemodel.ClosedTradeModel
	if err := s.db.
		Where("bot_id = ?", strings.TrimSpace(botID)).
		Order("closed_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ledger.ClosedTrade, 0, len(rows))
	for _, row := range rows {
		out = append(out, ledger.ClosedTrade{
			PositionID:  row.PositionID,
			Symbol:      row.Symbol,
			Side:        row.Side,
			Reason:      row.Reason,
			EntryPrice:  row.EntryPrice,
			ExitPrice:   row.ExitPrice,
			Margin:      row.Margin,
			Leverage:    row.Leverage,
			RealizedPnl: row.RealizedPnl,
			PnlPct:      row.PnlPct,
			OpenedAt:    time.UnixMilli(row.OpenedAtMs),
			ClosedAt:    time.UnixMilli(row.ClosedAtMs),
		})
	}
	return out, nil
}
