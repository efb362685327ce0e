package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signal-trader/models"
)

// LocalStorage persists signal and trade audit rows in SQLite. The account
// ledger itself lives in memory inside the trading engine; these rows only
// exist for history queries and post-mortems, so every write is
// best-effort from the caller's point of view.
type LocalStorage struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewLocalStorage opens (and migrates) the SQLite database at dbPath
func NewLocalStorage(dbPath string) (*LocalStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.DBSignal{},
		&models.DBTrade{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &LocalStorage{
		db:     db,
		logger: log,
	}, nil
}

// SaveSignal upserts the audit row for a signal
func (s *LocalStorage) SaveSignal(signal *models.Signal) error {
	tps := make([]string, len(signal.TakeProfits))
	for i, tp := range signal.TakeProfits {
		tps[i] = tp.String()
	}
	tpsJSON, _ := json.Marshal(tps)

	row := &models.DBSignal{
		SignalID:    signal.ID,
		Source:      signal.Source,
		Asset:       signal.Asset,
		Action:      string(signal.Action),
		Entry:       signal.Entry.String(),
		StopLoss:    signal.StopLoss.String(),
		TakeProfits: string(tpsJSON),
		Leverage:    signal.Leverage,
		Confidence:  signal.Confidence,
		AIScore:     signal.AIScore,
		AIReasoning: signal.AIReasoning,
		Strategy:    signal.Strategy,
		Executed:    signal.Executed,
		Dismissed:   signal.Dismissed,
		ReceivedAt:  signal.ReceivedAt,
		RawText:     signal.RawText,
	}

	var existing models.DBSignal
	err := s.db.Where("signal_id = ?", signal.ID).First(&existing).Error
	if err == nil {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	}

	if err := s.db.Save(row).Error; err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}
	return nil
}

// ListSignals returns the most recent signal rows
func (s *LocalStorage) ListSignals(limit int) ([]*models.Signal, error) {
	var rows []*models.DBSignal

	query := s.db.Model(&models.DBSignal{}).Order("received_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}

	signals := make([]*models.Signal, 0, len(rows))
	for _, row := range rows {
		signal, err := dbToSignal(row)
		if err != nil {
			s.logger.WithError(err).WithField("signal_id", row.SignalID).Warn("Skipping unreadable signal row")
			continue
		}
		signals = append(signals, signal)
	}
	return signals, nil
}

// SaveTrade upserts the snapshot row for a trade
func (s *LocalStorage) SaveTrade(trade *models.Trade) error {
	tpsJSON, _ := json.Marshal(trade.TakeProfits)

	row := &models.DBTrade{
		TradeID:           trade.ID,
		SignalID:          trade.SignalID,
		Symbol:            trade.Symbol,
		Side:              string(trade.Side),
		EntryPrice:        trade.EntryPrice.String(),
		Quantity:          trade.Quantity.String(),
		RemainingQuantity: trade.RemainingQuantity.String(),
		StopLoss:          trade.StopLoss.String(),
		TakeProfits:       string(tpsJSON),
		Leverage:          trade.Leverage,
		Margin:            trade.Margin.String(),
		Status:            string(trade.Status),
		ExitReason:        string(trade.ExitReason),
		RealizedPnL:       trade.RealizedPnL.String(),
		EntryTime:         trade.EntryTime,
		ExitTime:          trade.ExitTime,
	}
	if trade.ExitPrice != nil {
		exit := trade.ExitPrice.String()
		row.ExitPrice = &exit
	}

	var existing models.DBTrade
	err := s.db.Where("trade_id = ?", trade.ID).First(&existing).Error
	if err == nil {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	}

	if err := s.db.Save(row).Error; err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// ListTrades returns trade rows filtered by symbol and/or status
func (s *LocalStorage) ListTrades(symbol, status string) ([]*models.Trade, error) {
	var rows []*models.DBTrade

	query := s.db.Model(&models.DBTrade{})
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Order("entry_time DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}

	trades := make([]*models.Trade, 0, len(rows))
	for _, row := range rows {
		trade, err := dbToTrade(row)
		if err != nil {
			s.logger.WithError(err).WithField("trade_id", row.TradeID).Warn("Skipping unreadable trade row")
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// CleanupOldData removes resolved signal rows older than the given time
func (s *LocalStorage) CleanupOldData(before time.Time) error {
	result := s.db.Where("received_at < ? AND (executed = ? OR dismissed = ?)", before, true, true).
		Delete(&models.DBSignal{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete old signals: %w", result.Error)
	}

	s.logger.WithFields(logrus.Fields{
		"before":  before,
		"deleted": result.RowsAffected,
	}).Info("Old signal rows cleaned up")
	return nil
}

// Close closes the database connection
func (s *LocalStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dbToSignal(row *models.DBSignal) (*models.Signal, error) {
	entry, err := decimal.NewFromString(row.Entry)
	if err != nil {
		return nil, fmt.Errorf("bad entry %q: %w", row.Entry, err)
	}
	stop, err := decimal.NewFromString(row.StopLoss)
	if err != nil {
		return nil, fmt.Errorf("bad stop loss %q: %w", row.StopLoss, err)
	}

	var tpStrings []string
	if row.TakeProfits != "" {
		if err := json.Unmarshal([]byte(row.TakeProfits), &tpStrings); err != nil {
			return nil, fmt.Errorf("bad take profits: %w", err)
		}
	}
	tps := make([]decimal.Decimal, 0, len(tpStrings))
	for _, s := range tpStrings {
		tp, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("bad take profit %q: %w", s, err)
		}
		tps = append(tps, tp)
	}

	return &models.Signal{
		ID:          row.SignalID,
		Source:      row.Source,
		Asset:       row.Asset,
		Action:      models.SignalAction(row.Action),
		Entry:       entry,
		StopLoss:    stop,
		TakeProfits: tps,
		Leverage:    row.Leverage,
		Confidence:  row.Confidence,
		AIScore:     row.AIScore,
		AIReasoning: row.AIReasoning,
		Strategy:    row.Strategy,
		Executed:    row.Executed,
		Dismissed:   row.Dismissed,
		ReceivedAt:  row.ReceivedAt,
		RawText:     row.RawText,
	}, nil
}

func dbToTrade(row *models.DBTrade) (*models.Trade, error) {
	entry, err := decimal.NewFromString(row.EntryPrice)
	if err != nil {
		return nil, fmt.Errorf("bad entry price %q: %w", row.EntryPrice, err)
	}
	qty, err := decimal.NewFromString(row.Quantity)
	if err != nil {
		return nil, fmt.Errorf("bad quantity %q: %w", row.Quantity, err)
	}
	remaining, err := decimal.NewFromString(row.RemainingQuantity)
	if err != nil {
		return nil, fmt.Errorf("bad remaining quantity %q: %w", row.RemainingQuantity, err)
	}
	stop, err := decimal.NewFromString(row.StopLoss)
	if err != nil {
		return nil, fmt.Errorf("bad stop loss %q: %w", row.StopLoss, err)
	}
	margin, err := decimal.NewFromString(row.Margin)
	if err != nil {
		return nil, fmt.Errorf("bad margin %q: %w", row.Margin, err)
	}
	pnl, err := decimal.NewFromString(row.RealizedPnL)
	if err != nil {
		return nil, fmt.Errorf("bad realized pnl %q: %w", row.RealizedPnL, err)
	}

	var tps []models.TakeProfitLevel
	if row.TakeProfits != "" {
		if err := json.Unmarshal([]byte(row.TakeProfits), &tps); err != nil {
			return nil, fmt.Errorf("bad take profits: %w", err)
		}
	}

	trade := &models.Trade{
		ID:                row.TradeID,
		SignalID:          row.SignalID,
		Symbol:            row.Symbol,
		Side:              models.SignalAction(row.Side),
		EntryPrice:        entry,
		Quantity:          qty,
		RemainingQuantity: remaining,
		StopLoss:          stop,
		TakeProfits:       tps,
		Leverage:          row.Leverage,
		Margin:            margin,
		Status:            models.TradeStatus(row.Status),
		ExitReason:        models.ExitReason(row.ExitReason),
		RealizedPnL:       pnl,
		EntryTime:         row.EntryTime,
		ExitTime:          row.ExitTime,
	}
	if row.ExitPrice != nil {
		exit, err := decimal.NewFromString(*row.ExitPrice)
		if err != nil {
			return nil, fmt.Errorf("bad exit price %q: %w", *row.ExitPrice, err)
		}
		trade.ExitPrice = &exit
	}
	return trade, nil
}
